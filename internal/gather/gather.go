// Package gather holds the bar download jobs that keep the parquet store
// current.
package gather

import "context"

// Gatherer is one download job, run by a cmd binary once per session.
type Gatherer interface {
	Name() string
	// Run brings the store up to date. Rerunning after success is cheap.
	Run(ctx context.Context) error
}
