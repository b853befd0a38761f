package services

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode/utf8"
)

const (
	// FleetCodeLength is the fixed length of a connection code
	FleetCodeLength = 6

	// MaxDisplayNameLength bounds driver display names (in runes)
	MaxDisplayNameLength = 100

	// No 0/O or 1/I so codes survive being read aloud
	fleetCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NormalizeFleetCode trims and upper-cases code and checks it is exactly
// FleetCodeLength ASCII letters or digits
func NormalizeFleetCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", invalid("fleet_code", "connection code is required")
	}
	if len(code) != FleetCodeLength {
		return "", invalid("fleet_code", "connection code must be %d characters", FleetCodeLength)
	}
	for _, c := range code {
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return "", invalid("fleet_code", "connection code must be letters and digits only")
		}
	}
	return code, nil
}

// ValidateDisplayName trims name and checks it is non-empty and length-bounded
func ValidateDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("display_name", "display name is required")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return "", invalid("display_name", "display name must be at most %d characters", MaxDisplayNameLength)
	}
	return name, nil
}

// GenerateFleetCode returns a random code drawn from an unambiguous alphabet
func GenerateFleetCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(fleetCodeAlphabet)))
	for i := 0; i < FleetCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(fleetCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
