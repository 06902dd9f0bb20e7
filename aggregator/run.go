package aggregator

import (
	"time"

	"github.com/amlnet/federator/pkg/fl"
)

// Run states.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// RunConfig is the configuration surface a federation run consumes.
type RunConfig struct {
	TotalRounds       int           `json:"total_rounds"`
	Epochs            int           `json:"epochs"`
	BatchSize         int           `json:"batch_size"`
	LearningRate      float64       `json:"learning_rate"`
	ProximalMu        float64       `json:"proximal_mu"`
	SelectionFraction float64       `json:"selection_fraction"`
	RoundTimeout      time.Duration `json:"round_timeout"`
	MaxRoundRetries   int           `json:"max_round_retries"`
	Seed              int64         `json:"seed"`
}

func (c RunConfig) WithDefaults() RunConfig {
	if c.TotalRounds <= 0 {
		c.TotalRounds = 5
	}
	if c.Epochs <= 0 {
		c.Epochs = 30
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.01
	}
	if c.SelectionFraction <= 0 || c.SelectionFraction > 1 {
		c.SelectionFraction = 1
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = 2 * time.Minute
	}
	if c.MaxRoundRetries < 0 {
		c.MaxRoundRetries = 0
	}

	return c
}

// RoundRecord is one closed round: who was selected, who was excluded and the
// aggregated metrics the strategy produced.
type RoundRecord struct {
	Round       int                `json:"round"`
	Selected    []string           `json:"selected"`
	Excluded    []fl.Failure       `json:"excluded,omitempty"`
	Loss        float64            `json:"loss"`
	Metrics     map[string]float64 `json:"metrics"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Run is one federation run: the top-level state holding the current global
// parameters, the configured round count and the per-round metric history.
// Explicit run objects (no ambient globals) allow multiple concurrent
// federations in one aggregator process.
type Run struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	State  string    `json:"state"`
	Phase  Phase     `json:"phase,omitempty"`
	Config RunConfig `json:"config"`

	ShapeSignature  string        `json:"shape_signature,omitempty"`
	Participants    []string      `json:"participants,omitempty"`
	CompletedRounds int           `json:"completed_rounds"`
	History         []RoundRecord `json:"history,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Parameters is the current global model. It has one writer (aggregation,
	// once per round) and is read-only everywhere else; not serialized with
	// the run listing, fetched through its own endpoint.
	Parameters fl.ParameterVector `json:"-"`
}

type RunPage struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
	Total  uint64 `json:"total"`
	Runs   []Run  `json:"runs"`
}

// ParticipantInfo describes one connected bank agent.
type ParticipantInfo struct {
	ID       string    `json:"id"`
	Alive    bool      `json:"alive"`
	LastSeen time.Time `json:"last_seen"`
}

type ParticipantPage struct {
	Offset       uint64            `json:"offset"`
	Limit        uint64            `json:"limit"`
	Total        uint64            `json:"total"`
	Participants []ParticipantInfo `json:"participants"`
}
