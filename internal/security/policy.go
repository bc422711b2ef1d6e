package security

import "strings"

// Tier is a coarse provenance classification for a skill source.
type Tier string

const (
	TierVerified     Tier = "verified"
	TierCommunity    Tier = "community"
	TierExperimental Tier = "experimental"
	TierUnknown      Tier = "unknown"
)

// TrustTierPolicy holds the scan thresholds applied to one tier.
type TrustTierPolicy struct {
	Tier             Tier `json:"tier"`
	RiskThreshold    int  `json:"riskThreshold"`
	MaxContentLength int  `json:"maxContentLength"`
}

// policies is ordered from loosest to strictest. Each step tightens both
// fields so a stricter tier rejects everything a looser one does.
var policies = [...]TrustTierPolicy{
	{Tier: TierVerified, RiskThreshold: 80, MaxContentLength: 512 << 10},
	{Tier: TierCommunity, RiskThreshold: 50, MaxContentLength: 256 << 10},
	{Tier: TierExperimental, RiskThreshold: 35, MaxContentLength: 128 << 10},
	{Tier: TierUnknown, RiskThreshold: 20, MaxContentLength: 64 << 10},
}

// ParseTier normalizes a tier name. Anything unrecognized maps to TierUnknown
// and ok=false.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierVerified:
		return TierVerified, true
	case TierCommunity:
		return TierCommunity, true
	case TierExperimental:
		return TierExperimental, true
	case TierUnknown:
		return TierUnknown, true
	default:
		return TierUnknown, false
	}
}

// PolicyFor is total over all inputs: unknown or empty tiers get the
// strictest policy.
func PolicyFor(tier string) TrustTierPolicy {
	t, _ := ParseTier(tier)
	for _, p := range policies {
		if p.Tier == t {
			return p
		}
	}
	return policies[len(policies)-1]
}

// Policies returns every tier policy, loosest first.
func Policies() []TrustTierPolicy {
	out := make([]TrustTierPolicy, len(policies))
	copy(out, policies[:])
	return out
}
