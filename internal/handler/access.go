package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/model"
)

// Access enforces couple membership. Everything lives under
// couples/{code}. The couple document itself is readable by any signed in
// user so that a partner can look up a code before joining. Everything
// below it is restricted to the two partners.
type Access struct {
	backend docstore.Backend
}

func NewAccess(backend docstore.Backend) *Access {
	return &Access{backend: backend}
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{docstore.ErrPermissionDenied}, args...)...)
}

// coupleOf returns the couple code a path belongs to and whether the path
// points below the couple document.
func coupleOf(path string) (string, bool, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 || segs[0] != "couples" || segs[1] == "" {
		return "", false, denied("%s is outside couples/{code}", path)
	}
	return segs[1], len(segs) > 2, nil
}

func (a *Access) couple(ctx context.Context, code string) (*model.CoupleDoc, error) {
	doc, err := a.backend.Get(ctx, docstore.Join("couples", code))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cd model.CoupleDoc
	if err := doc.DataTo(&cd); err != nil {
		return nil, err
	}
	return &cd, nil
}

func (a *Access) requireMember(ctx context.Context, uid, code string) error {
	cd, err := a.couple(ctx, code)
	if err != nil {
		return err
	}
	if cd == nil {
		return denied("couple %s does not exist", code)
	}
	if _, ok := cd.RoleOf(uid); !ok {
		return denied("not a member of %s", code)
	}
	return nil
}

func (a *Access) CanRead(ctx context.Context, uid, path string) error {
	code, sub, err := coupleOf(path)
	if err != nil {
		return err
	}
	if !sub {
		return nil
	}
	return a.requireMember(ctx, uid, code)
}

// CanWrite checks one write against the rules:
//   - a new couple document must name the caller as partnerA;
//   - members may change the couple document but neither partner's uid;
//   - a non-member may only claim an empty partnerB slot for itself and
//     touch nothing outside partnerB;
//   - only members may write below the couple document.
func (a *Access) CanWrite(ctx context.Context, uid string, w docstore.Write) error {
	code, sub, err := coupleOf(w.Path)
	if err != nil {
		return err
	}
	if sub {
		return a.requireMember(ctx, uid, code)
	}

	before, err := a.couple(ctx, code)
	if err != nil {
		return err
	}
	if w.Op == docstore.OpDelete {
		if before == nil {
			return nil
		}
		return a.requireMember(ctx, uid, code)
	}

	var existing *docstore.Document
	if before != nil {
		doc, err := a.backend.Get(ctx, w.Path)
		if err != nil {
			return err
		}
		existing = &doc
	}
	data, err := docstore.Apply(existing, w)
	if err != nil {
		return err
	}
	var after model.CoupleDoc
	if err := json.Unmarshal(data, &after); err != nil {
		return fmt.Errorf("%w: couple document: %v", docstore.ErrInvalidWrite, err)
	}

	if before == nil {
		if after.PartnerA.AuthUID != uid {
			return denied("new couple must be owned by the caller")
		}
		return nil
	}
	if after.PartnerA.AuthUID != before.PartnerA.AuthUID {
		return denied("partnerA cannot change")
	}
	if _, ok := before.RoleOf(uid); ok {
		if after.PartnerB.AuthUID != before.PartnerB.AuthUID {
			return denied("partnerB cannot change")
		}
		return nil
	}
	if before.PartnerB.AuthUID != "" || after.PartnerB.AuthUID != uid {
		return denied("couple %s is full", code)
	}
	same, err := sameOutside(existing.Data, data, "partnerB")
	if err != nil {
		return err
	}
	if !same {
		return denied("joining may only fill partnerB")
	}
	return nil
}

// sameOutside reports whether two couple documents match once key is
// removed from both.
func sameOutside(before, after json.RawMessage, key string) (bool, error) {
	var b, a map[string]any
	if err := json.Unmarshal(before, &b); err != nil {
		return false, fmt.Errorf("%w: couple document: %v", docstore.ErrInvalidWrite, err)
	}
	if err := json.Unmarshal(after, &a); err != nil {
		return false, fmt.Errorf("%w: couple document: %v", docstore.ErrInvalidWrite, err)
	}
	delete(b, key)
	delete(a, key)
	return reflect.DeepEqual(b, a), nil
}
