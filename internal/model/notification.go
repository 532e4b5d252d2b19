package model

import "time"

const NotificationRewardUsed = "reward_used"

type Notification struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Target     PartnerRole `json:"target"`
	SenderName string      `json:"senderName"`
	RewardName string      `json:"rewardName"`
	RewardIcon string      `json:"rewardIcon"`
	RewardType RewardType  `json:"rewardType,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}
