package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/model"
)

func seedAccess(t *testing.T, cd model.CoupleDoc) *Access {
	t.Helper()
	mem := docstore.NewMemory()
	w, err := docstore.Set("couples/MIM-ABC", cd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := mem.Commit(context.Background(), []docstore.Write{w}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return NewAccess(mem)
}

func TestCanRead(t *testing.T) {
	a := seedAccess(t, model.CoupleDoc{PartnerA: model.RemotePartner{AuthUID: "a"}})
	ctx := context.Background()

	tests := []struct {
		uid, path string
		allowed   bool
	}{
		{"x", "couples/MIM-ABC", true},
		{"x", "couples/MIM-NEW", true},
		{"a", "couples/MIM-ABC/tasks", true},
		{"a", "couples/MIM-ABC/stats/current", true},
		{"x", "couples/MIM-ABC/tasks", false},
		{"a", "couples/MIM-NEW/tasks", false},
		{"a", "couples", false},
		{"a", "users/a", false},
	}
	for _, tt := range tests {
		err := a.CanRead(ctx, tt.uid, tt.path)
		if tt.allowed && err != nil {
			t.Errorf("CanRead(%q, %q) = %v, want allowed", tt.uid, tt.path, err)
		}
		if !tt.allowed && !errors.Is(err, docstore.ErrPermissionDenied) {
			t.Errorf("CanRead(%q, %q) = %v, want permission denied", tt.uid, tt.path, err)
		}
	}
}

func mustUpdate(t *testing.T, fields map[string]any) docstore.Write {
	t.Helper()
	w, err := docstore.Update("couples/MIM-ABC", fields)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return w
}

func TestCanWriteCoupleDocument(t *testing.T) {
	ctx := context.Background()
	open := model.CoupleDoc{PartnerA: model.RemotePartner{Name: "Alice", AuthUID: "a"}}
	full := model.CoupleDoc{
		PartnerA: model.RemotePartner{AuthUID: "a"},
		PartnerB: model.RemotePartner{AuthUID: "b"},
	}

	create, _ := docstore.Set("couples/MIM-NEW", model.CoupleDoc{PartnerA: model.RemotePartner{AuthUID: "a"}})
	if err := seedAccess(t, open).CanWrite(ctx, "a", create); err != nil {
		t.Errorf("create own couple: %v", err)
	}
	if err := seedAccess(t, open).CanWrite(ctx, "x", create); !errors.Is(err, docstore.ErrPermissionDenied) {
		t.Errorf("create couple for other uid: %v", err)
	}

	claim := mustUpdate(t, map[string]any{"partnerB.authUid": "b", "partnerB.name": "Bruno"})
	if err := seedAccess(t, open).CanWrite(ctx, "b", claim); err != nil {
		t.Errorf("claim free slot: %v", err)
	}
	if err := seedAccess(t, open).CanWrite(ctx, "c", claim); !errors.Is(err, docstore.ErrPermissionDenied) {
		t.Errorf("claim slot for another uid: %v", err)
	}
	if err := seedAccess(t, full).CanWrite(ctx, "b", claim); err != nil {
		t.Errorf("member rewrites own slot: %v", err)
	}
	steal := mustUpdate(t, map[string]any{"partnerB.authUid": "c"})
	if err := seedAccess(t, full).CanWrite(ctx, "c", steal); !errors.Is(err, docstore.ErrPermissionDenied) {
		t.Errorf("claim full couple: %v", err)
	}

	takeover := mustUpdate(t, map[string]any{"partnerA.authUid": "b"})
	if err := seedAccess(t, full).CanWrite(ctx, "b", takeover); !errors.Is(err, docstore.ErrPermissionDenied) {
		t.Errorf("rewrite partnerA: %v", err)
	}

	theme := mustUpdate(t, map[string]any{"settings.theme": "dark"})
	if err := seedAccess(t, full).CanWrite(ctx, "a", theme); err != nil {
		t.Errorf("member settings update: %v", err)
	}

	if err := seedAccess(t, full).CanWrite(ctx, "x", docstore.Delete("couples/MIM-ABC")); !errors.Is(err, docstore.ErrPermissionDenied) {
		t.Errorf("non-member delete: %v", err)
	}
}

func TestCanWriteSubcollections(t *testing.T) {
	a := seedAccess(t, model.CoupleDoc{PartnerA: model.RemotePartner{AuthUID: "a"}})
	w, _ := docstore.Set("couples/MIM-ABC/tasks/t1", map[string]any{"name": "x"})

	if err := a.CanWrite(context.Background(), "a", w); err != nil {
		t.Errorf("member write: %v", err)
	}
	if err := a.CanWrite(context.Background(), "x", w); !errors.Is(err, docstore.ErrPermissionDenied) {
		t.Errorf("non-member write: %v", err)
	}
}

func TestCanWriteKeepsPartnerSlots(t *testing.T) {
	ctx := context.Background()
	open := model.CoupleDoc{
		PartnerA: model.RemotePartner{Name: "Alice", AuthUID: "a"},
		Settings: model.CoupleSettings{Theme: "default"},
	}
	full := model.CoupleDoc{
		PartnerA: model.RemotePartner{Name: "Alice", AuthUID: "a"},
		PartnerB: model.RemotePartner{Name: "Bruno", AuthUID: "b"},
	}

	tests := []struct {
		name   string
		doc    model.CoupleDoc
		uid    string
		fields map[string]any
	}{
		{"partnerA evicts partnerB", full, "a", map[string]any{"partnerB.authUid": "x"}},
		{"partnerA clears partnerB", full, "a", map[string]any{"partnerB.authUid": ""}},
		{"partnerB hands its slot away", full, "b", map[string]any{"partnerB.authUid": "x"}},
		{"join also renames partnerA", open, "b", map[string]any{"partnerB.authUid": "b", "partnerA.name": "Eve"}},
		{"join also changes settings", open, "b", map[string]any{"partnerB.authUid": "b", "settings.theme": "dark"}},
	}
	for _, tt := range tests {
		err := seedAccess(t, tt.doc).CanWrite(ctx, tt.uid, mustUpdate(t, tt.fields))
		if !errors.Is(err, docstore.ErrPermissionDenied) {
			t.Errorf("%s: CanWrite = %v, want permission denied", tt.name, err)
		}
	}

	join := mustUpdate(t, map[string]any{"partnerB.authUid": "b", "partnerB.name": "Bruno", "partnerB.avatar": "🐻"})
	if err := seedAccess(t, open).CanWrite(ctx, "b", join); err != nil {
		t.Errorf("join with partnerB fields only: %v", err)
	}
	rename := mustUpdate(t, map[string]any{"partnerB.name": "Bru"})
	if err := seedAccess(t, full).CanWrite(ctx, "a", rename); err != nil {
		t.Errorf("member renames partner: %v", err)
	}
}
