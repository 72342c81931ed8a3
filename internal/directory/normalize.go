package directory

import (
	"strings"
)

// Normalize canonicalizes a raw identifier per entity type so that lookups
// and writes always agree on the key: emails and wallets lowercase, phone and
// document numbers digits-only, IPs trimmed.
func Normalize(entityType EntityType, rawValue string) string {
	v := strings.TrimSpace(rawValue)
	switch entityType {
	case EntityTypeEmail, EntityTypeWallet:
		return strings.ToLower(v)
	case EntityTypePhone, EntityTypeDocument:
		return digitsOnly(v)
	case EntityTypeIP:
		return v
	case EntityTypeBankAccount:
		return strings.ToUpper(strings.ReplaceAll(v, " ", ""))
	default:
		return v
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Mask redacts a normalized value for audit output. Raw sensitive values are
// never stored unmasked in the audit trail; enough of the prefix and suffix
// survives for an operator to correlate entries.
func Mask(entityType EntityType, value string) string {
	if value == "" {
		return ""
	}
	switch entityType {
	case EntityTypeEmail:
		at := strings.IndexByte(value, '@')
		if at <= 0 {
			return maskMiddle(value, 2, 0)
		}
		local := value[:at]
		domain := value[at:]
		return maskMiddle(local, 2, 0) + domain
	case EntityTypeWallet, EntityTypeBankAccount:
		return maskMiddle(value, 6, 4)
	case EntityTypePhone, EntityTypeDocument:
		return maskMiddle(value, 2, 4)
	case EntityTypeIP:
		// Keep the leading octet only.
		if i := strings.IndexByte(value, '.'); i > 0 {
			return value[:i] + ".xxx.xxx.xxx"
		}
		return maskMiddle(value, 4, 0)
	default:
		return maskMiddle(value, 2, 4)
	}
}

// maskMiddle keeps up to `head` leading and `tail` trailing characters and
// replaces the rest with asterisks. Short values collapse to asterisks alone.
func maskMiddle(s string, head, tail int) string {
	if len(s) <= head+tail {
		return strings.Repeat("*", len(s))
	}
	return s[:head] + strings.Repeat("*", len(s)-head-tail) + s[len(s)-tail:]
}
