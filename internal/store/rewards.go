package store

import (
	"context"

	"github.com/dukerupert/mimitask/internal/model"
)

type NewReward struct {
	Name       string
	PointsCost int
	Icon       string
	Type       model.RewardType
}

func (l *Local) buildReward(in NewReward) (model.Reward, error) {
	name := CleanName(in.Name)
	if name == "" {
		return model.Reward{}, ErrInvalidName
	}
	if in.PointsCost < 0 {
		return model.Reward{}, ErrInvalidCost
	}
	switch in.Type {
	case model.RewardIndividual, model.RewardCouple, model.RewardPower:
	default:
		return model.Reward{}, ErrInvalidType
	}
	r := model.Reward{
		ID:         l.newID(),
		Name:       name,
		PointsCost: in.PointsCost,
		Icon:       in.Icon,
		Type:       in.Type,
	}
	if r.Icon == "" {
		r.Icon = "🎁"
	}
	return r, nil
}

func (l *Local) Rewards() []model.Reward {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.CloneRewards(l.data.Rewards)
}

func (l *Local) Reward(id string) (model.Reward, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.findReward(id); r != nil {
		return r.Clone(), true
	}
	return model.Reward{}, false
}

func (l *Local) AddReward(in NewReward) (model.Reward, error) {
	r, err := l.buildReward(in)
	if err != nil {
		return model.Reward{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Rewards = append(l.data.Rewards, r)
	l.persist()
	l.forwardReward(r)
	return r.Clone(), nil
}

func (l *Local) AddDefaultRewards(templates []NewReward) ([]model.Reward, error) {
	added := make([]model.Reward, 0, len(templates))
	for _, in := range templates {
		r, err := l.buildReward(in)
		if err != nil {
			return nil, err
		}
		added = append(added, r)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data.Rewards = append(l.data.Rewards, added...)
	l.persist()
	all := model.CloneRewards(l.data.Rewards)
	l.forward("batch upsert rewards", func(r Remote, ctx context.Context) error {
		return r.BatchUpsertRewards(ctx, all)
	})
	return model.CloneRewards(added), nil
}

// UnlockReward stamps the reward as unlocked. Already unlocked rewards keep
// their original timestamp.
func (l *Local) UnlockReward(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.findReward(id)
	if r == nil || r.Unlocked() {
		return false
	}
	r.UnlockedAt = l.stamp()
	l.persist()
	l.forwardReward(*r)
	return true
}

func (l *Local) DeleteReward(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.data.Rewards {
		if r.ID != id {
			continue
		}
		l.data.Rewards = append(l.data.Rewards[:i], l.data.Rewards[i+1:]...)
		l.persist()
		l.forward("delete reward", func(rm Remote, ctx context.Context) error {
			return rm.DeleteReward(ctx, id)
		})
		return true
	}
	return false
}

// UseReward spends a reward. Couple rewards split the cost between both
// partners and require enough couple points; individual and power rewards
// are paid by the user. Unlockable rewards must be unlocked first and lock
// again once used. It returns the spent reward.
func (l *Local) UseReward(id string, by model.PartnerRole) (model.Reward, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r := l.findReward(id)
	if r == nil || !by.Valid() {
		return model.Reward{}, false
	}
	if r.Type != model.RewardPower && !r.Unlocked() {
		return model.Reward{}, false
	}

	cost := r.PointsCost
	if r.Type == model.RewardCouple {
		s := &l.data.Stats
		if s.CouplePoints < cost {
			return model.Reward{}, false
		}
		half := cost / 2
		rest := cost - half
		s.PartnerA.TotalPoints = max(0, s.PartnerA.TotalPoints-half)
		s.PartnerB.TotalPoints = max(0, s.PartnerB.TotalPoints-rest)
		s.CouplePoints = s.PartnerA.TotalPoints + s.PartnerB.TotalPoints
	} else if !l.deductPoints(by, cost) {
		return model.Reward{}, false
	}

	if r.Type != model.RewardPower {
		r.UnlockedAt = nil
	}
	r.UsedAt = l.stamp()
	l.persist()
	l.forwardReward(*r)
	l.forwardStats()
	return r.Clone(), true
}

// MarkRewardUsed stamps a power reward as used without touching points.
// The cost is charged by the action the reward pays for.
func (l *Local) MarkRewardUsed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.findReward(id)
	if r == nil || r.Type != model.RewardPower {
		return false
	}
	r.UsedAt = l.stamp()
	l.persist()
	l.forwardReward(*r)
	return true
}

func (l *Local) forwardReward(r model.Reward) {
	r = r.Clone()
	l.forward("upsert reward", func(rm Remote, ctx context.Context) error {
		return rm.UpsertReward(ctx, r)
	})
}
