package model

import "time"

type PartnerRole string

const (
	PartnerA PartnerRole = "partnerA"
	PartnerB PartnerRole = "partnerB"
)

// Roles lists both partner slots in a stable order.
var Roles = []PartnerRole{PartnerA, PartnerB}

func (r PartnerRole) Valid() bool {
	return r == PartnerA || r == PartnerB
}

// Other returns the opposite partner slot.
func (r PartnerRole) Other() PartnerRole {
	if r == PartnerA {
		return PartnerB
	}
	return PartnerA
}

type Partner struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type Couple struct {
	PartnerA   Partner `json:"partnerA"`
	PartnerB   Partner `json:"partnerB"`
	CoupleCode string  `json:"coupleCode"`
}

func (c Couple) Partner(role PartnerRole) Partner {
	if role == PartnerB {
		return c.PartnerB
	}
	return c.PartnerA
}

// RemotePartner is a partner slot as stored in the shared couple document.
type RemotePartner struct {
	Name     string  `json:"name"`
	Avatar   string  `json:"avatar"`
	AuthUID  string  `json:"authUid"`
	FCMToken *string `json:"fcmToken"`
}

type CoupleSettings struct {
	Theme                string `json:"theme"`
	OnboardingDone       bool   `json:"onboardingDone"`
	LastResetDate        string `json:"lastResetDate,omitempty"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

// CoupleDoc is the top-level remote document keyed by couple code.
type CoupleDoc struct {
	PartnerA  RemotePartner  `json:"partnerA"`
	PartnerB  RemotePartner  `json:"partnerB"`
	Settings  CoupleSettings `json:"settings"`
	CreatedAt time.Time      `json:"createdAt"`
}

// RoleOf resolves which slot the given auth uid occupies.
func (d CoupleDoc) RoleOf(uid string) (PartnerRole, bool) {
	switch {
	case uid == "":
		return "", false
	case d.PartnerA.AuthUID == uid:
		return PartnerA, true
	case d.PartnerB.AuthUID == uid:
		return PartnerB, true
	}
	return "", false
}
