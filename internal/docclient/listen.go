package docclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/websocket"
)

const readLimit = 4 << 20

func (c *Client) listenURL(path string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{}
	q.Set("path", path)
	return u + "/v1/listen?" + q.Encode()
}

// view is the listener's copy of the documents at its path.
type view struct {
	path string
	docs map[string]docstore.Document
}

func (v *view) apply(changes []docstore.Change) {
	for _, ch := range changes {
		if ch.Kind == docstore.ChangeRemoved {
			delete(v.docs, ch.Doc.Path)
			continue
		}
		v.docs[ch.Doc.Path] = ch.Doc
	}
}

func (v *view) snapshot(changes []docstore.Change, fromSelf bool) docstore.Snapshot {
	snap := docstore.Snapshot{Path: v.path, Changes: changes, FromSelf: fromSelf}
	if !docstore.IsCollection(v.path) {
		if d, ok := v.docs[v.path]; ok {
			snap.Doc = &d
		}
		return snap
	}
	snap.Docs = make([]docstore.Document, 0, len(v.docs))
	for _, d := range v.docs {
		snap.Docs = append(snap.Docs, d)
	}
	sort.Slice(snap.Docs, func(i, j int) bool { return snap.Docs[i].Path < snap.Docs[j].Path })
	return snap
}

// initial fetches the current state of path and reports every document as
// added.
func (c *Client) initial(ctx context.Context, path string) (*view, []docstore.Change, error) {
	v := &view{path: path, docs: make(map[string]docstore.Document)}
	var docs []docstore.Document
	if docstore.IsCollection(path) {
		list, err := c.List(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		docs = list
	} else {
		doc, err := c.Get(ctx, path)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
		case err != nil:
			return nil, nil, err
		default:
			docs = append(docs, doc)
		}
	}
	changes := make([]docstore.Change, 0, len(docs))
	for _, d := range docs {
		changes = append(changes, docstore.Change{Kind: docstore.ChangeAdded, Doc: d})
	}
	v.apply(changes)
	return v, changes, nil
}

// Listen opens a change stream for path. The current state is delivered
// before Listen returns. Events caused by this client's own commits are
// flagged with FromSelf.
func (c *Client) Listen(ctx context.Context, path string, onSnap func(docstore.Snapshot), onErr func(error)) (func(), error) {
	path = strings.Trim(path, "/")
	if docstore.ValidateDocPath(path) != nil && docstore.ValidateCollectionPath(path) != nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}

	ctx, cancel := context.WithCancel(ctx)
	conn, resp, err := ws.Dial(ctx, c.listenURL(path), &ws.DialOptions{
		HTTPHeader: c.header(),
	})
	if err != nil {
		cancel()
		if resp != nil && classify(resp.StatusCode) != nil {
			return nil, fmt.Errorf("listen %s: %w", path, &HTTPError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)})
		}
		return nil, fmt.Errorf("listen %s: %w: %v", path, docstore.ErrUnavailable, err)
	}
	conn.SetReadLimit(readLimit)

	v, changes, err := c.initial(ctx, path)
	if err != nil {
		cancel()
		conn.Close(ws.StatusNormalClosure, "")
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	onSnap(v.snapshot(changes, false))

	go c.pump(ctx, conn, v, onSnap, onErr)
	return cancel, nil
}

func (c *Client) pump(ctx context.Context, conn *ws.Conn, v *view, onSnap func(docstore.Snapshot), onErr func(error)) {
	defer conn.Close(ws.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if onErr != nil {
				onErr(listenError(v.path, err))
			}
			return
		}
		var ev websocket.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("discarding malformed event", "path", v.path, "error", err)
			continue
		}
		v.apply(ev.Changes)
		onSnap(v.snapshot(ev.Changes, ev.Origin != "" && ev.Origin == c.clientID))
	}
}

func listenError(path string, err error) error {
	if ws.CloseStatus(err) == websocket.StatusPermissionDenied {
		return fmt.Errorf("listen %s: %w", path, docstore.ErrPermissionDenied)
	}
	return fmt.Errorf("listen %s: %w: %v", path, docstore.ErrUnavailable, err)
}
