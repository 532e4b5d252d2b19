package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// txn is the per-commit view a backend exposes to commit.
type txn interface {
	get(ctx context.Context, path string) (*Document, error)
	put(ctx context.Context, doc Document) error
	del(ctx context.Context, path string) error
}

// commit applies writes in order inside one backend transaction and
// returns the resulting changes.
func commit(ctx context.Context, tx txn, writes []Write, now time.Time) ([]Change, error) {
	changes := make([]Change, 0, len(writes))
	for _, w := range writes {
		if err := ValidateDocPath(w.Path); err != nil {
			return nil, err
		}
		existing, err := tx.get(ctx, w.Path)
		if err != nil {
			return nil, err
		}
		if w.Op == OpDelete {
			if existing == nil {
				continue
			}
			if err := tx.del(ctx, w.Path); err != nil {
				return nil, err
			}
			changes = append(changes, Change{Kind: ChangeRemoved, Doc: *existing})
			continue
		}

		data, err := Apply(existing, w)
		if err != nil {
			return nil, err
		}
		doc := Document{Path: w.Path, Data: data, UpdateTime: now}
		if err := tx.put(ctx, doc); err != nil {
			return nil, err
		}
		kind := ChangeAdded
		if existing != nil {
			kind = ChangeModified
		}
		changes = append(changes, Change{Kind: kind, Doc: doc})
	}
	return changes, nil
}

// Apply computes the document body after w is applied to existing, which
// is nil for a missing document.
func Apply(existing *Document, w Write) (json.RawMessage, error) {
	switch w.Op {
	case OpSet:
		return compactObject(w.Data)
	case OpMerge:
		patch, err := decodeObject(w.Data)
		if err != nil {
			return nil, err
		}
		base := map[string]any{}
		if existing != nil {
			if base, err = decodeObject(existing.Data); err != nil {
				return nil, err
			}
		}
		mergeInto(base, patch)
		return json.Marshal(base)
	case OpUpdate:
		if existing == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, w.Path)
		}
		if len(w.Fields) == 0 {
			return nil, fmt.Errorf("%w: update without fields", ErrInvalidWrite)
		}
		base, err := decodeObject(existing.Data)
		if err != nil {
			return nil, err
		}
		for field, raw := range w.Fields {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidWrite, field, err)
			}
			if err := setField(base, field, v); err != nil {
				return nil, err
			}
		}
		return json.Marshal(base)
	}
	return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidWrite, w.Op)
}

func decodeObject(data json.RawMessage) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, fmt.Errorf("%w: document body must be an object", ErrInvalidWrite)
	}
	return m, nil
}

func compactObject(data json.RawMessage) (json.RawMessage, error) {
	if _, err := decodeObject(data); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWrite, err)
	}
	return buf.Bytes(), nil
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		cur, curOK := dst[k].(map[string]any)
		if ok && curOK {
			mergeInto(cur, sub)
			continue
		}
		dst[k] = v
	}
}

func setField(doc map[string]any, field string, v any) error {
	parts := strings.Split(field, ".")
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		if p == "" {
			return fmt.Errorf("%w: field %q", ErrInvalidWrite, field)
		}
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[p] = next
		}
		cur = next
	}
	last := parts[len(parts)-1]
	if last == "" {
		return fmt.Errorf("%w: field %q", ErrInvalidWrite, field)
	}
	cur[last] = v
	return nil
}
