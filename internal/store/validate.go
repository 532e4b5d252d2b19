package store

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	ErrInvalidName   = errors.New("invalid name")
	ErrInvalidPoints = errors.New("points out of range")
	ErrInvalidCost   = errors.New("invalid reward cost")
	ErrInvalidType   = errors.New("invalid type")
	ErrInvalidMascot = errors.New("unknown mascot option")
)

const (
	MinTaskPoints   = 1
	MaxTaskPoints   = 20
	minPartnerRunes = 2
)

// CleanName trims and NFC-normalizes user supplied names so that the same
// name typed on two devices compares equal.
func CleanName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// ValidatePartnerName returns the cleaned name or ErrInvalidName when it
// is shorter than two characters.
func ValidatePartnerName(s string) (string, error) {
	name := CleanName(s)
	if utf8.RuneCountInString(name) < minPartnerRunes {
		return "", ErrInvalidName
	}
	return name, nil
}
