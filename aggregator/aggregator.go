package aggregator

import (
	"context"

	"github.com/amlnet/federator/pkg/fl"
	"github.com/amlnet/federator/pkg/storage/sqlite"
)

type MetricsPage struct {
	Offset  uint64                `json:"offset"`
	Limit   uint64                `json:"limit"`
	Total   uint64                `json:"total"`
	Metrics []sqlite.RoundMetrics `json:"metrics"`
}

type Service interface {
	CreateRun(ctx context.Context, run Run) (Run, error)
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, offset, limit uint64) (RunPage, error)
	DeleteRun(ctx context.Context, runID string) error

	// StartRun launches the run's round pipeline over the currently alive
	// participants. The pipeline executes asynchronously; progress is
	// observable through GetRun and GetRunMetrics.
	StartRun(ctx context.Context, runID string) error
	// StopRun cancels an active run at its next phase boundary.
	StopRun(ctx context.Context, runID string) error

	GetRunModel(ctx context.Context, runID string) (fl.ParameterVector, error)
	GetRunMetrics(ctx context.Context, runID string, offset, limit uint64) (MetricsPage, error)

	ListParticipants(ctx context.Context, offset, limit uint64) (ParticipantPage, error)

	Subscribe(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
