// Package docstore models the remote document database: documents keyed
// by slash separated paths, atomic batched writes and change listeners.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnavailable      = errors.New("document store unavailable")
	ErrInvalidPath      = errors.New("invalid document path")
	ErrInvalidWrite     = errors.New("invalid write")
)

type Document struct {
	Path       string          `json:"path"`
	Data       json.RawMessage `json:"data"`
	UpdateTime time.Time       `json:"updateTime"`
}

// ID returns the last path segment.
func (d Document) ID() string {
	return d.Path[strings.LastIndexByte(d.Path, '/')+1:]
}

// DataTo decodes the document body into v.
func (d Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Path, err)
	}
	return nil
}

type Op string

const (
	// OpSet replaces the document.
	OpSet Op = "set"
	// OpMerge deep-merges object fields into the document, creating it
	// when missing.
	OpMerge Op = "merge"
	// OpUpdate sets dotted field paths on an existing document.
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Write struct {
	Op     Op                         `json:"op"`
	Path   string                     `json:"path"`
	Data   json.RawMessage            `json:"data,omitempty"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

func Set(path string, v any) (Write, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Write{}, fmt.Errorf("encode %s: %w", path, err)
	}
	return Write{Op: OpSet, Path: path, Data: data}, nil
}

func Merge(path string, v any) (Write, error) {
	w, err := Set(path, v)
	w.Op = OpMerge
	return w, err
}

// Update builds a field update. Keys are dotted paths such as
// "partnerB.name".
func Update(path string, fields map[string]any) (Write, error) {
	w := Write{Op: OpUpdate, Path: path, Fields: make(map[string]json.RawMessage, len(fields))}
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return Write{}, fmt.Errorf("encode %s.%s: %w", path, k, err)
		}
		w.Fields[k] = data
	}
	return w, nil
}

func Delete(path string) Write {
	return Write{Op: OpDelete, Path: path}
}

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

type Change struct {
	Kind ChangeKind `json:"kind"`
	Doc  Document   `json:"doc"`
}

// Snapshot is delivered to listeners. Doc is set for document listens
// (nil when the document does not exist) and Docs for collection listens.
type Snapshot struct {
	Path    string
	Doc     *Document
	Docs    []Document
	Changes []Change
	// FromSelf is true when the delivered changes were committed by the
	// listening client itself.
	FromSelf bool
}

func (s Snapshot) Exists() bool {
	return s.Doc != nil
}

// Backend is the storage half of a document store.
type Backend interface {
	Get(ctx context.Context, path string) (Document, error)
	List(ctx context.Context, collection string) ([]Document, error)
	Commit(ctx context.Context, writes []Write) ([]Change, error)
}

// Store is a Backend that can also be listened to.
type Store interface {
	Backend
	// Listen delivers the current state of path and every later change
	// until ctx is done or the returned stop function is called. onErr
	// is called at most once and ends the subscription.
	Listen(ctx context.Context, path string, onSnap func(Snapshot), onErr func(error)) (stop func(), err error)
}

// --- Paths ---

func split(path string) ([]string, error) {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" || s == "." || s == ".." {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// IsCollection reports whether path names a collection (odd number of
// segments).
func IsCollection(path string) bool {
	segs, err := split(path)
	return err == nil && len(segs)%2 == 1
}

// ValidateDocPath checks that path names a document.
func ValidateDocPath(path string) error {
	segs, err := split(path)
	if err != nil {
		return err
	}
	if len(segs)%2 != 0 {
		return fmt.Errorf("%w: %q is a collection", ErrInvalidPath, path)
	}
	return nil
}

func ValidateCollectionPath(path string) error {
	segs, err := split(path)
	if err != nil {
		return err
	}
	if len(segs)%2 != 1 {
		return fmt.Errorf("%w: %q is a document", ErrInvalidPath, path)
	}
	return nil
}

// Parent returns the collection containing a document path.
func Parent(docPath string) string {
	i := strings.LastIndexByte(docPath, '/')
	if i < 0 {
		return ""
	}
	return docPath[:i]
}

// Join builds a path from segments.
func Join(segs ...string) string {
	return strings.Join(segs, "/")
}
