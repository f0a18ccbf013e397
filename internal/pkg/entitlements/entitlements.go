package entitlements

import (
	"strings"
	"time"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanAgency  Plan = "agency"
)

// AccessLevel is the coarse grant derived from subscription status and trial.
type AccessLevel string

const (
	AccessNone    AccessLevel = "none"
	AccessMinimal AccessLevel = "minimal"
	AccessFull    AccessLevel = "full"
)

// Subscription status enum values (new-style, authoritative).
const (
	StatusSubscribed   = "subscribed"
	StatusUnsubscribed = "unsubscribed"
)

// NormalizePlan maps free-form plan strings to a known plan, defaulting to free.
func NormalizePlan(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanStarter):
		return PlanStarter
	case string(PlanPro):
		return PlanPro
	case string(PlanAgency):
		return PlanAgency
	default:
		return PlanFree
	}
}

// IsKnownPlan reports whether the string names one of the four plans exactly.
// Unlike NormalizePlan it does not coerce unknown input to free.
func IsKnownPlan(plan string) bool {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanFree), string(PlanStarter), string(PlanPro), string(PlanAgency):
		return true
	default:
		return false
	}
}

// PlanRank orders plans for tier comparisons: free < starter < pro < agency.
func PlanRank(plan Plan) int {
	switch NormalizePlan(string(plan)) {
	case PlanAgency:
		return 3
	case PlanPro:
		return 2
	case PlanStarter:
		return 1
	default:
		return 0
	}
}

// Access is the result of normalizing subscription state at one instant.
type Access struct {
	Level     AccessLevel
	IsInTrial bool
}

// HasFullAccess is a convenience for the common gate.
func (a Access) HasFullAccess() bool {
	return a.Level == AccessFull
}

// legacy free-text statuses that still grant paid access
func isLegacyAllowedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due", "subscribed":
		return true
	default:
		return false
	}
}

// ResolveAccess reconciles the new-style status enum, the legacy free-text
// status and the trial window into one access level. A trial window in the
// future always wins, regardless of status. The evaluation instant is
// injected so callers and tests control the clock.
func ResolveAccess(statusEnum, statusLegacy string, trialEndsAt *time.Time, now time.Time) Access {
	if trialEndsAt != nil && now.Before(*trialEndsAt) {
		return Access{Level: AccessFull, IsInTrial: true}
	}

	switch strings.ToLower(strings.TrimSpace(statusEnum)) {
	case StatusSubscribed:
		return Access{Level: AccessFull}
	case StatusUnsubscribed:
		return Access{Level: AccessMinimal}
	}

	// Legacy path: enum not yet populated. Unknown strings fall through to
	// minimal, same as the blocked set.
	if isLegacyAllowedStatus(statusLegacy) {
		return Access{Level: AccessFull}
	}
	return Access{Level: AccessMinimal}
}
