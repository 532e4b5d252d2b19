package gateway

import (
	"context"

	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/model"
)

// Update is one decoded change notification for a slice.
type Update struct {
	Slice model.Slice
	// Value holds []model.Task, []model.Reward, model.Stats, model.Couple,
	// model.MascotPrefs or, for notifications, the newly added
	// []model.Notification.
	Value any
	// Exists is false when a singleton document is missing.
	Exists bool
	// Pending is true while this device still has queued writes to the
	// slice that the store has not acknowledged.
	Pending bool
	// FromSelf marks changes committed by this client.
	FromSelf bool
}

// Slices lists the slices that can be listened to.
var Slices = []model.Slice{
	model.SliceTasks,
	model.SliceRewards,
	model.SliceStats,
	model.SliceCouple,
	model.SliceMascot,
	model.SliceNotifications,
}

func (g *Gateway) slicePath(slice model.Slice) (string, bool) {
	switch slice {
	case model.SliceTasks:
		return g.path(tasksColl)
	case model.SliceRewards:
		return g.path(rewardsColl)
	case model.SliceStats:
		return g.path(statsDoc)
	case model.SliceMascot:
		return g.path(mascotDoc)
	case model.SliceNotifications:
		return g.path(notificationsColl)
	case model.SliceCouple:
		return g.couplePath()
	}
	return "", false
}

// Pending reports whether queued writes to slice are still waiting for
// the store.
func (g *Gateway) Pending(slice model.Slice) bool {
	p, ok := g.slicePath(slice)
	if !ok {
		return false
	}
	return g.pending(p)
}

func (g *Gateway) pending(path string) bool {
	q := g.queued()
	return q != nil && q.Pending(path) > 0
}

// Listen subscribes to one slice of the current couple. Snapshots that
// fail to decode are logged and skipped.
func (g *Gateway) Listen(ctx context.Context, slice model.Slice, onUpdate func(Update), onErr func(error)) (func(), error) {
	p, ok := g.slicePath(slice)
	if !ok {
		return nil, docstore.ErrInvalidPath
	}
	return g.docs.Listen(ctx, p, func(snap docstore.Snapshot) {
		u, err := decodeSnapshot(slice, snap)
		if err != nil {
			g.logger.Warn("decode remote change", "slice", slice, "error", err)
			return
		}
		u.Pending = g.pending(p)
		onUpdate(u)
	}, onErr)
}

func decodeSnapshot(slice model.Slice, snap docstore.Snapshot) (Update, error) {
	u := Update{Slice: slice, FromSelf: snap.FromSelf, Exists: true}
	var err error
	switch slice {
	case model.SliceTasks:
		u.Value, err = decodeTasks(snap.Docs)
	case model.SliceRewards:
		u.Value, err = decodeRewards(snap.Docs)
	case model.SliceNotifications:
		var added []model.Notification
		for _, c := range snap.Changes {
			if c.Kind != docstore.ChangeAdded {
				continue
			}
			var n model.Notification
			if err := c.Doc.DataTo(&n); err != nil {
				return Update{}, err
			}
			n.ID = c.Doc.ID()
			added = append(added, n)
		}
		u.Value = added
	default:
		if !snap.Exists() {
			u.Exists = false
			return u, nil
		}
		u.Value, err = decodeSingleton(slice, *snap.Doc)
	}
	return u, err
}

func decodeSingleton(slice model.Slice, doc docstore.Document) (any, error) {
	switch slice {
	case model.SliceStats:
		var s model.Stats
		err := doc.DataTo(&s)
		return s, err
	case model.SliceMascot:
		var m model.MascotPrefs
		err := doc.DataTo(&m)
		return m, err
	}
	var cd model.CoupleDoc
	if err := doc.DataTo(&cd); err != nil {
		return nil, err
	}
	return model.Couple{
		PartnerA: model.Partner{Name: cd.PartnerA.Name, Avatar: cd.PartnerA.Avatar},
		PartnerB: model.Partner{Name: cd.PartnerB.Name, Avatar: cd.PartnerB.Avatar},
	}, nil
}
