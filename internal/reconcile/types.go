package reconcile

import (
	"github.com/evanofslack/dns-prefix-sync/internal/prefix"
	"github.com/evanofslack/dns-prefix-sync/internal/provider"
)

// Plan holds the operations for one prefix. Update records carry the id
// of the record they overwrite; Create records have none.
type Plan struct {
	Prefix   prefix.Prefix
	Observed int
	Delete   []provider.Record
	Update   []provider.Record
	Create   []provider.Record
}

// Results summarises a run. A non-empty Errors list alongside non-zero
// counters means partial success.
type Results struct {
	Deleted int      `json:"deleted"`
	Updated int      `json:"updated"`
	Created int      `json:"created"`
	Errors  []string `json:"errors"`
	DryRun  bool     `json:"dryRun"`
}

func (r Results) Failed() bool {
	return len(r.Errors) > 0
}
