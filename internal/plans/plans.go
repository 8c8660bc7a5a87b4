package plans

import "strings"

const (
	Free       = "free"
	Pro        = "pro"
	Business   = "business"
	Enterprise = "enterprise"
)

const (
	MB int64 = 1 << 20
	GB int64 = 1 << 30
)

type Plan struct {
	Name         string `json:"name"`
	MonthlyViews int64  `json:"monthly_views"`
	StorageLimit int64  `json:"storage_limit"`
}

var catalogue = map[string]Plan{
	Free:       {Name: Free, MonthlyViews: 10_000, StorageLimit: 100 * MB},
	Pro:        {Name: Pro, MonthlyViews: 100_000, StorageLimit: 1 * GB},
	Business:   {Name: Business, MonthlyViews: 1_000_000, StorageLimit: 10 * GB},
	Enterprise: {Name: Enterprise, MonthlyViews: 10_000_000, StorageLimit: 100 * GB},
}

// Lookup returns the plan for a tier name. Unknown tiers get the free plan so
// a bad row can never grant unlimited usage.
func Lookup(name string) Plan {
	if p, ok := catalogue[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	return catalogue[Free]
}
