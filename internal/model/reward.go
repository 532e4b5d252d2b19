package model

import "time"

// RewardType is empty for rewards paid by a single partner.
type RewardType string

const (
	RewardIndividual RewardType = ""
	RewardCouple     RewardType = "couple"
	RewardPower      RewardType = "power"
)

type Reward struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	PointsCost int        `json:"pointsCost"`
	Icon       string     `json:"icon"`
	Type       RewardType `json:"type,omitempty"`
	UnlockedAt *time.Time `json:"unlockedAt"`
	UsedAt     *time.Time `json:"usedAt,omitempty"`
}

func (r Reward) Unlocked() bool {
	return r.UnlockedAt != nil
}

func (r Reward) Clone() Reward {
	if r.UnlockedAt != nil {
		u := *r.UnlockedAt
		r.UnlockedAt = &u
	}
	if r.UsedAt != nil {
		u := *r.UsedAt
		r.UsedAt = &u
	}
	return r
}
