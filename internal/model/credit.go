package model

import "time"

// CreditTier describes one pricing tier inside a credit definition.
type CreditTier struct {
	TierName       string `json:"tier_name"`
	Credits        int64  `json:"credits"`
	InputLimit     int64  `json:"input_limit,omitempty"`
	OutputLimit    int64  `json:"output_limit,omitempty"`
	ResetFrequency string `json:"reset_frequency,omitempty"`
}

// CreditDef is the billing bucket for an api_credit_group. APIKey and
// APIKeyNew are stored sealed; the dispatcher unseals them just before
// forwarding.
type CreditDef struct {
	APICreditGroup        string       `json:"api_credit_group"`
	APIKey                string       `json:"api_key,omitempty"`
	APIKeyHeader          string       `json:"api_key_header"`
	APIKeyNew             string       `json:"api_key_new,omitempty"`
	APIKeyRotationExpires *time.Time   `json:"api_key_rotation_expires,omitempty"`
	CreditTiers           []CreditTier `json:"credit_tiers,omitempty"`
	CreatedAt             time.Time    `json:"created_at,omitempty"`
	UpdatedAt             time.Time    `json:"updated_at,omitempty"`
}

// RotationActive reports whether a new key is staged and its cutover has
// not yet passed.
func (c *CreditDef) RotationActive(now time.Time) bool {
	return c.APIKeyNew != "" && c.APIKeyRotationExpires != nil && now.Before(*c.APIKeyRotationExpires)
}

// ActiveKeys returns the upstream keys to forward at the given instant.
// During an active rotation both keys are sent; after the cutover only the
// new key remains.
func (c *CreditDef) ActiveKeys(now time.Time) []string {
	if c.RotationActive(now) {
		keys := make([]string, 0, 2)
		if c.APIKey != "" {
			keys = append(keys, c.APIKey)
		}
		keys = append(keys, c.APIKeyNew)
		return keys
	}
	if c.APIKeyNew != "" && c.APIKeyRotationExpires != nil && !now.Before(*c.APIKeyRotationExpires) {
		return []string{c.APIKeyNew}
	}
	if c.APIKey != "" {
		return []string{c.APIKey}
	}
	return nil
}

// Tier looks up a tier by name.
func (c *CreditDef) Tier(name string) (CreditTier, bool) {
	for _, t := range c.CreditTiers {
		if t.TierName == name {
			return t, true
		}
	}
	return CreditTier{}, false
}

// UserCredits tracks one user's balance inside one credit group.
type UserCredits struct {
	Username         string     `json:"username"`
	APICreditGroup   string     `json:"api_credit_group"`
	TierName         string     `json:"tier_name"`
	AvailableCredits int64      `json:"available_credits"`
	ResetDate        *time.Time `json:"reset_date,omitempty"`
	UserAPIKey       string     `json:"user_api_key,omitempty"`
	CreatedAt        time.Time  `json:"created_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at,omitempty"`
}
