package model

import "strings"

// Collection names owned by the config store.
const (
	CollectionAPIs          = "apis"
	CollectionEndpoints     = "endpoints"
	CollectionUsers         = "users"
	CollectionRoles         = "roles"
	CollectionGroups        = "groups"
	CollectionSubscriptions = "subscriptions"
	CollectionCreditDefs    = "credit_defs"
	CollectionUserCredits   = "user_credits"
	CollectionRateRules     = "rate_rules"
	CollectionRoutings      = "routings"
	CollectionSettings      = "settings"
	CollectionDatasets      = "datasets"

	// CollectionDataPrefix prefixes dynamically created dataset row
	// collections. These are included in memory snapshots.
	CollectionDataPrefix = "crud_data_"
)

// KnownCollections lists every fixed collection. Dataset row collections
// are discovered at runtime via the prefix.
var KnownCollections = []string{
	CollectionAPIs,
	CollectionEndpoints,
	CollectionUsers,
	CollectionRoles,
	CollectionGroups,
	CollectionSubscriptions,
	CollectionCreditDefs,
	CollectionUserCredits,
	CollectionRateRules,
	CollectionRoutings,
	CollectionSettings,
	CollectionDatasets,
}

// IsDataCollection reports whether name is a dataset row collection.
func IsDataCollection(name string) bool {
	return strings.HasPrefix(name, CollectionDataPrefix)
}
