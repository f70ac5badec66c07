package model

import "time"

// API protocol families.
const (
	TypeREST    = "REST"
	TypeSOAP    = "SOAP"
	TypeGraphQL = "GRAPHQL"
	TypeGRPC    = "GRPC"
)

// ValidAPIType reports whether t names a supported protocol family.
func ValidAPIType(t string) bool {
	switch t {
	case TypeREST, TypeSOAP, TypeGraphQL, TypeGRPC:
		return true
	}
	return false
}

// CORSPolicy is a per-API CORS policy. When present it takes precedence
// over the gateway-wide policy.
type CORSPolicy struct {
	AllowOrigins     []string `json:"allow_origins"`
	AllowMethods     []string `json:"allow_methods"`
	AllowHeaders     []string `json:"allow_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	ExposeHeaders    []string `json:"expose_headers,omitempty"`
}

// API is a named, versioned upstream service exposed through the gateway.
// (APIName, APIVersion) is the composite identity.
type API struct {
	APIName              string      `json:"api_name"`
	APIVersion           string      `json:"api_version"`
	APIDescription       string      `json:"api_description,omitempty"`
	APIType              string      `json:"api_type"`
	APIServers           []string    `json:"api_servers"`
	APIAllowedRoles      []string    `json:"api_allowed_roles,omitempty"`
	APIAllowedGroups     []string    `json:"api_allowed_groups,omitempty"`
	APIAllowedHeaders    []string    `json:"api_allowed_headers,omitempty"`
	APIAllowedRetryCount int         `json:"api_allowed_retry_count"`
	APICORS              *CORSPolicy `json:"api_cors,omitempty"`
	APICreditGroup       string      `json:"api_credit_group,omitempty"`
	Active               bool        `json:"active"`
	Public               bool        `json:"public"`
	CreatedAt            time.Time   `json:"created_at,omitempty"`
	UpdatedAt            time.Time   `json:"updated_at,omitempty"`
}

// Key returns the "name/version" identity token used by subscriptions and
// group api_access grants.
func (a *API) Key() string {
	return a.APIName + "/" + a.APIVersion
}

// Endpoint is a (method, uri) route on an API. EndpointServers, when set,
// overrides the parent API's server list.
type Endpoint struct {
	APIName             string         `json:"api_name"`
	APIVersion          string         `json:"api_version"`
	EndpointMethod      string         `json:"endpoint_method"`
	EndpointURI         string         `json:"endpoint_uri"`
	EndpointDescription string         `json:"endpoint_description,omitempty"`
	EndpointServers     []string       `json:"endpoint_servers,omitempty"`
	ValidationSchema    map[string]any `json:"validation_schema,omitempty"`
	CreatedAt           time.Time      `json:"created_at,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at,omitempty"`
}

// Rate rule algorithms and scopes.
const (
	RuleWindow      = "window"
	RuleTokenBucket = "token_bucket"

	ScopeUser    = "user"
	ScopeUserAPI = "user_api"
	ScopeAPI     = "api"
)

// RateRule throttles traffic on one API version. Scope picks the counter
// key: per calling user, per (user, api) pair, or one shared bucket for
// the whole API.
type RateRule struct {
	RuleName      string    `json:"rule_name"`
	APIName       string    `json:"api_name"`
	APIVersion    string    `json:"api_version"`
	RuleType      string    `json:"rule_type"`
	WindowSeconds int       `json:"window_seconds"`
	Limit         int       `json:"limit"`
	Scope         string    `json:"scope"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Key returns the counter key for a caller under this rule's scope.
func (r *RateRule) Key(username string) string {
	switch r.Scope {
	case ScopeUser:
		return r.RuleName + ":" + username
	case ScopeAPI:
		return r.RuleName
	default:
		return r.RuleName + ":" + username + ":" + r.APIName + "/" + r.APIVersion
	}
}

// Routing maps a client key to its own ordered server list with an
// independent round-robin cursor.
type Routing struct {
	RoutingName        string    `json:"routing_name"`
	RoutingDescription string    `json:"routing_description,omitempty"`
	ClientKey          string    `json:"client_key"`
	RoutingServers     []string  `json:"routing_servers"`
	ServerIndex        int       `json:"server_index"`
	CreatedAt          time.Time `json:"created_at,omitempty"`
	UpdatedAt          time.Time `json:"updated_at,omitempty"`
}
