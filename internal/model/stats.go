package model

type PartnerStats struct {
	TotalPoints   int `json:"totalPoints"`
	CurrentStreak int `json:"currentStreak"`
	BestStreak    int `json:"bestStreak"`
	// LastActivityDate is a YYYY-MM-DD day string, empty when never active.
	LastActivityDate string `json:"lastActivityDate"`
}

type Stats struct {
	PartnerA     PartnerStats `json:"partnerA"`
	PartnerB     PartnerStats `json:"partnerB"`
	CouplePoints int          `json:"couplePoints"`
}

func (s Stats) Partner(role PartnerRole) PartnerStats {
	if role == PartnerB {
		return s.PartnerB
	}
	return s.PartnerA
}

// Ref returns a pointer to the partner's slot for in-place updates.
func (s *Stats) Ref(role PartnerRole) *PartnerStats {
	if role == PartnerB {
		return &s.PartnerB
	}
	return &s.PartnerA
}

// Consistent reports whether the couple total matches the partner totals.
func (s Stats) Consistent() bool {
	return s.CouplePoints == s.PartnerA.TotalPoints+s.PartnerB.TotalPoints
}

type Balance struct {
	PartnerA int `json:"partnerA"`
	PartnerB int `json:"partnerB"`
}
