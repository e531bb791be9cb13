package qris

import (
	"fmt"
	"strings"
	"time"
)

// ProviderExpiryLayout is how the provider formats expiry timestamps.
const ProviderExpiryLayout = "2006-01-02 15:04:05"

// DefaultExpiry applies when the provider omits or garbles the expiry.
const DefaultExpiry = 15 * time.Minute

// WIB is the provider's fixed UTC+7 zone.
var WIB = time.FixedZone("WIB", 7*60*60)

// ParseProviderExpiry reads a "YYYY-MM-DD HH:MM:SS" UTC+7 timestamp. RFC 3339
// values are accepted too. Empty or invalid input yields now + fallback.
func ParseProviderExpiry(raw string, now time.Time, fallback time.Duration) time.Time {
	if fallback <= 0 {
		fallback = DefaultExpiry
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Add(fallback)
	}
	if t, err := time.ParseInLocation(ProviderExpiryLayout, raw, WIB); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return now.Add(fallback)
}

// FormatProviderExpiry renders t in the provider's layout and zone.
func FormatProviderExpiry(t time.Time) string {
	return t.In(WIB).Format(ProviderExpiryLayout)
}

// Remaining is the time left until expiresAt, floored at zero.
func Remaining(expiresAt, now time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	d := expiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// FormatRemaining renders whole seconds as mm:ss.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
