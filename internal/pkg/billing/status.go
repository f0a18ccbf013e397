package billing

import (
	"strings"

	"github.com/synthhq/synth/app/models"
	"github.com/synthhq/synth/internal/pkg/entitlements"
)

// ProviderStatusToEnum collapses a provider subscription status into the
// authoritative two-value enum. The free-text status is stored alongside for
// audit only and never consulted once the enum is set.
func ProviderStatusToEnum(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case models.BillingStatusActive, models.BillingStatusTrialing:
		return entitlements.StatusSubscribed
	default:
		return entitlements.StatusUnsubscribed
	}
}

// NormalizeLegacyStatus maps arbitrary provider strings onto the known legacy
// vocabulary so the audit column stays queryable.
func NormalizeLegacyStatus(providerStatus string) string {
	s := strings.ToLower(strings.TrimSpace(providerStatus))
	switch s {
	case models.BillingStatusActive,
		models.BillingStatusTrialing,
		models.BillingStatusPastDue,
		models.BillingStatusCanceled,
		models.BillingStatusIncomplete,
		models.BillingStatusIncompleteExpired,
		models.BillingStatusUnpaid:
		return s
	case "":
		return models.BillingStatusNone
	default:
		return models.BillingStatusNone
	}
}
