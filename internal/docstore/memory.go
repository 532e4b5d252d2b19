package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. Writes made through a Client view are
// reported to that view's own listeners with FromSelf set.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]Document
	subs   map[int]*memSub
	nextID int
	now    func() time.Time
}

type memSub struct {
	path   string
	origin string
	onSnap func(Snapshot)
	onErr  func(error)
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]Document),
		subs: make(map[int]*memSub),
		now:  time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, path string) (Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return doc, nil
}

func (m *Memory) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(collection), nil
}

func (m *Memory) listLocked(collection string) []Document {
	docs := []Document{}
	for p, d := range m.docs {
		if Parent(p) == collection {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs
}

func (m *Memory) Commit(ctx context.Context, writes []Write) ([]Change, error) {
	return m.commitAs(ctx, "", writes)
}

type memTxn struct {
	docs    map[string]Document
	removed map[string]bool
	base    map[string]Document
}

func (t *memTxn) get(_ context.Context, path string) (*Document, error) {
	if t.removed[path] {
		return nil, nil
	}
	if d, ok := t.docs[path]; ok {
		return &d, nil
	}
	if d, ok := t.base[path]; ok {
		return &d, nil
	}
	return nil, nil
}

func (t *memTxn) put(_ context.Context, doc Document) error {
	delete(t.removed, doc.Path)
	t.docs[doc.Path] = doc
	return nil
}

func (t *memTxn) del(_ context.Context, path string) error {
	delete(t.docs, path)
	t.removed[path] = true
	return nil
}

func (m *Memory) commitAs(ctx context.Context, origin string, writes []Write) ([]Change, error) {
	m.mu.Lock()
	tx := &memTxn{docs: map[string]Document{}, removed: map[string]bool{}, base: m.docs}
	changes, err := commit(ctx, tx, writes, m.now().UTC())
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	for p := range tx.removed {
		delete(m.docs, p)
	}
	for p, d := range tx.docs {
		m.docs[p] = d
	}
	deliveries := m.fanOutLocked(origin, changes)
	m.mu.Unlock()

	for _, d := range deliveries {
		d.fn(d.snap)
	}
	return changes, nil
}

type delivery struct {
	fn   func(Snapshot)
	snap Snapshot
}

func (m *Memory) fanOutLocked(origin string, changes []Change) []delivery {
	if len(changes) == 0 {
		return nil
	}
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var out []delivery
	for _, id := range ids {
		sub := m.subs[id]
		var matched []Change
		for _, c := range changes {
			if c.Doc.Path == sub.path || Parent(c.Doc.Path) == sub.path {
				matched = append(matched, c)
			}
		}
		if len(matched) == 0 {
			continue
		}
		snap := m.snapshotLocked(sub.path)
		snap.Changes = matched
		snap.FromSelf = origin != "" && origin == sub.origin
		out = append(out, delivery{fn: sub.onSnap, snap: snap})
	}
	return out
}

func (m *Memory) snapshotLocked(path string) Snapshot {
	snap := Snapshot{Path: path}
	if IsCollection(path) {
		snap.Docs = m.listLocked(path)
		return snap
	}
	if d, ok := m.docs[path]; ok {
		snap.Doc = &d
	}
	return snap
}

func (m *Memory) Listen(ctx context.Context, path string, onSnap func(Snapshot), onErr func(error)) (func(), error) {
	return m.listenAs(ctx, "", path, onSnap, onErr)
}

func (m *Memory) listenAs(ctx context.Context, origin, path string, onSnap func(Snapshot), onErr func(error)) (func(), error) {
	if _, err := split(path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = &memSub{path: path, origin: origin, onSnap: onSnap, onErr: onErr}
	initial := m.snapshotLocked(path)
	initial.Changes = initialChanges(initial)
	m.mu.Unlock()

	var once sync.Once
	unregister := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	release := context.AfterFunc(ctx, unregister)
	stop := func() {
		release()
		unregister()
	}

	onSnap(initial)
	return stop, nil
}

// initialChanges reports every existing document as added, so the first
// delivery of a listen carries the full state.
func initialChanges(s Snapshot) []Change {
	var changes []Change
	if s.Doc != nil {
		changes = append(changes, Change{Kind: ChangeAdded, Doc: *s.Doc})
	}
	for _, d := range s.Docs {
		changes = append(changes, Change{Kind: ChangeAdded, Doc: d})
	}
	return changes
}

// FailListeners ends every subscription under prefix with err.
func (m *Memory) FailListeners(prefix string, err error) {
	m.mu.Lock()
	var failed []*memSub
	for id, sub := range m.subs {
		if strings.HasPrefix(sub.path, prefix) {
			failed = append(failed, sub)
			delete(m.subs, id)
		}
	}
	m.mu.Unlock()
	for _, sub := range failed {
		if sub.onErr != nil {
			sub.onErr(err)
		}
	}
}

// ListenerCount returns the number of live subscriptions.
func (m *Memory) ListenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Client returns a view of m whose writes are attributed to id.
func (m *Memory) Client(id string) Store {
	return &memClient{m: m, id: id}
}

type memClient struct {
	m  *Memory
	id string
}

func (c *memClient) Get(ctx context.Context, path string) (Document, error) {
	return c.m.Get(ctx, path)
}

func (c *memClient) List(ctx context.Context, collection string) ([]Document, error) {
	return c.m.List(ctx, collection)
}

func (c *memClient) Commit(ctx context.Context, writes []Write) ([]Change, error) {
	return c.m.commitAs(ctx, c.id, writes)
}

func (c *memClient) Listen(ctx context.Context, path string, onSnap func(Snapshot), onErr func(error)) (func(), error) {
	return c.m.listenAs(ctx, c.id, path, onSnap, onErr)
}
