package params

import (
	"fmt"
	"strings"

	"anonpay/internal/errs"
)

// PrivacyLevel fixes the size of the decoy set used by each membership proof.
type PrivacyLevel uint8

const (
	Standard PrivacyLevel = iota + 1
	Enhanced
	Maximum
)

// DecoyCount returns N, the anonymity-set size for the level, or 0 for an unknown level.
func (l PrivacyLevel) DecoyCount() int {
	switch l {
	case Standard:
		return 16
	case Enhanced:
		return 32
	case Maximum:
		return 64
	default:
		return 0
	}
}

// Depth returns log2 of the decoy count.
func (l PrivacyLevel) Depth() int {
	switch l {
	case Standard:
		return 4
	case Enhanced:
		return 5
	case Maximum:
		return 6
	default:
		return 0
	}
}

// Valid reports whether l is one of the defined levels.
func (l PrivacyLevel) Valid() bool {
	return l.DecoyCount() != 0
}

func (l PrivacyLevel) String() string {
	switch l {
	case Standard:
		return "standard"
	case Enhanced:
		return "enhanced"
	case Maximum:
		return "maximum"
	default:
		return fmt.Sprintf("PrivacyLevel(%d)", uint8(l))
	}
}

// ParsePrivacyLevel parses the textual form produced by String.
func ParsePrivacyLevel(s string) (PrivacyLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return Standard, nil
	case "enhanced":
		return Enhanced, nil
	case "maximum":
		return Maximum, nil
	}
	return 0, fmt.Errorf("%w: unknown privacy level %q", errs.ErrInvalidParameters, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l PrivacyLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: unknown privacy level %d", errs.ErrInvalidParameters, uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *PrivacyLevel) UnmarshalText(b []byte) error {
	v, err := ParsePrivacyLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
