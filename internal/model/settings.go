package model

import "time"

// SecuritySettings are process-wide toggles stored as a single document and
// editable at runtime through the security routes.
type SecuritySettings struct {
	EnableAutoSave           bool      `json:"enable_auto_save"`
	AutoSaveFrequencySeconds int       `json:"auto_save_frequency_seconds"`
	DumpPath                 string    `json:"dump_path,omitempty"`
	IPWhitelist              []string  `json:"ip_whitelist,omitempty"`
	IPBlacklist              []string  `json:"ip_blacklist,omitempty"`
	TrustXForwardedFor       bool      `json:"trust_x_forwarded_for"`
	XFFTrustedProxies        []string  `json:"xff_trusted_proxies,omitempty"`
	AllowLocalhostBypass     bool      `json:"allow_localhost_bypass"`
	UpdatedAt                time.Time `json:"updated_at,omitempty"`
}

// DefaultSecuritySettings returns the settings document seeded on first
// start.
func DefaultSecuritySettings() *SecuritySettings {
	return &SecuritySettings{
		AutoSaveFrequencySeconds: 300,
		AllowLocalhostBypass:     true,
	}
}

// DatasetField describes one column of a user-defined dataset.
type DatasetField struct {
	FieldName string `json:"field_name"`
	FieldType string `json:"field_type"`
	Required  bool   `json:"required,omitempty"`
}

// Dataset is the registry entry for a dynamically created crud_data_*
// collection. Rows live in the collection named by Collection().
type Dataset struct {
	DatasetName string         `json:"dataset_name"`
	Description string         `json:"description,omitempty"`
	Fields      []DatasetField `json:"fields,omitempty"`
	CreatedAt   time.Time      `json:"created_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at,omitempty"`
}

// Collection returns the backing collection name for the dataset's rows.
func (d *Dataset) Collection() string {
	return CollectionDataPrefix + d.DatasetName
}
