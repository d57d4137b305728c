// Package sources defines the adapter boundary for upstream yield data.
// Each adapter fetches independently; the aggregator tolerates any subset
// of them failing.
package sources

import (
	"context"

	"github.com/defipilot/defipilot/internal/model"
)

// Adapter is one upstream yield data provider.
type Adapter interface {
	Info() model.SourceInfo
	Fetch(ctx context.Context) ([]model.YieldPool, error)
}
