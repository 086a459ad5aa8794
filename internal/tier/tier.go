// Package tier classifies visitors into trust tiers and decides what each
// tier may do.
package tier

import "strings"

type Tier int

const (
	None Tier = iota
	Authenticated
	NamedDemo
	PublicDemo
)

func (t Tier) String() string {
	switch t {
	case Authenticated:
		return "authenticated"
	case NamedDemo:
		return "named_demo"
	case PublicDemo:
		return "public_demo"
	default:
		return "none"
	}
}

// CanMutate reports whether a visitor of tier t may issue writes. The answer
// never depends on the resource or the operation.
func CanMutate(t Tier) bool {
	switch t {
	case Authenticated:
		return true
	case NamedDemo, PublicDemo, None:
		return false
	default:
		return false
	}
}

// IsDemo reports whether t is one of the two demo tiers.
func IsDemo(t Tier) bool {
	return t == NamedDemo || t == PublicDemo
}

func Parse(value string) Tier {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "authenticated":
		return Authenticated
	case "named_demo":
		return NamedDemo
	case "public_demo":
		return PublicDemo
	default:
		return None
	}
}

// Classify maps an authenticated account to its tier. The reserved demo
// account is narrowed to NamedDemo; an empty email means no session.
func Classify(email, reservedDemoEmail string) Tier {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return None
	}
	if reservedDemoEmail != "" && email == strings.ToLower(strings.TrimSpace(reservedDemoEmail)) {
		return NamedDemo
	}
	return Authenticated
}

// Source reports the tier of the active identity at the moment of asking.
type Source interface {
	Tier() Tier
}

// Fixed is a Source that never changes.
type Fixed Tier

func (f Fixed) Tier() Tier { return Tier(f) }
