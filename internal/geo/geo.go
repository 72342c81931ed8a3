// Package geo resolves transaction origin IPs to coarse geographic signals.
// A real IP-intelligence provider plugs in behind Resolver; the static
// implementation here carries a country prefix table good enough for the
// scoring engine's new-country and high-risk-location checks.
package geo

import (
	"context"
	"net"
	"strings"

	"github.com/meridianpay/riskengine/internal/models"
)

// Location is the resolved origin of an IP address.
type Location struct {
	Country  string `json:"country"`
	HighRisk bool   `json:"high_risk"`
}

// Resolver maps an IP address to a location signal.
type Resolver interface {
	ResolveCountry(ctx context.Context, ip string) (Location, error)
}

// StaticResolver is a heuristic Resolver with a fixed prefix table. Private
// and loopback addresses resolve to the local country with no risk flag.
type StaticResolver struct {
	localCountry string
	prefixes     map[string]Location
	highRisk     map[string]bool
}

// NewStaticResolver creates a resolver with the default prefix table.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		localCountry: "US",
		prefixes: map[string]Location{
			"5.":    {Country: "IR", HighRisk: true},
			"31.":   {Country: "RU", HighRisk: true},
			"37.":   {Country: "RU", HighRisk: true},
			"41.":   {Country: "NG", HighRisk: true},
			"45.":   {Country: "BR", HighRisk: false},
			"77.":   {Country: "RU", HighRisk: true},
			"102.":  {Country: "NG", HighRisk: true},
			"175.":  {Country: "KP", HighRisk: true},
			"185.":  {Country: "RU", HighRisk: true},
			"196.":  {Country: "ZA", HighRisk: false},
			"200.":  {Country: "AR", HighRisk: false},
			"203.":  {Country: "AU", HighRisk: false},
			"81.":   {Country: "GB", HighRisk: false},
			"151.":  {Country: "IT", HighRisk: false},
			"88.":   {Country: "DE", HighRisk: false},
			"103.":  {Country: "IN", HighRisk: false},
			"110.":  {Country: "CN", HighRisk: false},
			"2001:": {Country: "NL", HighRisk: false},
		},
		highRisk: map[string]bool{
			"IR": true, "KP": true, "SY": true, "CU": true, "RU": true, "NG": true, "MM": true,
		},
	}
}

// ResolveCountry resolves ip via the prefix table. Malformed addresses are
// InvalidInput; unknown public addresses resolve to an unknown, non-risky
// location rather than an error.
func (r *StaticResolver) ResolveCountry(ctx context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return Location{}, models.ErrInvalidInput
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return Location{Country: r.localCountry}, nil
	}
	addr := parsed.String()
	for prefix, loc := range r.prefixes {
		if strings.HasPrefix(addr, prefix) {
			return loc, nil
		}
	}
	return Location{Country: "ZZ"}, nil
}

// IsHighRiskCountry reports whether the country code is on the high-risk list.
func (r *StaticResolver) IsHighRiskCountry(country string) bool {
	return r.highRisk[strings.ToUpper(country)]
}
