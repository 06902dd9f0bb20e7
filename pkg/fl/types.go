package fl

import (
	"context"
	"time"
)

// Metric names reported by participants and carried through aggregation.
const (
	MetricLocalTrainAUC = "local_train_auc"
	MetricLocalAUC      = "local_auc"
	MetricGlobalAUC     = "global_auc"
)

// FitConfig is the training configuration broadcast with the global
// parameters at the start of a round.
type FitConfig struct {
	Round int `json:"round"`
	// Attempt numbers the fit dispatches within a round from 1. A round
	// retried after an empty collection carries a higher attempt so late
	// results from a previous dispatch are never merged into the retry.
	Attempt      int     `json:"attempt"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	// ProximalMu scales the FedProx proximal term pulling local weights toward
	// the broadcast global weights. Zero disables it.
	ProximalMu float64 `json:"proximal_mu"`
}

// EvalConfig accompanies the aggregated parameters during the evaluation
// phase of a round.
type EvalConfig struct {
	Round int `json:"round"`
}

// FitResult is what a participant reports after local training. Consumed once
// by the aggregator within the round that produced it.
type FitResult struct {
	Parameters ParameterVector    `json:"parameters"`
	NumSamples int                `json:"num_samples"`
	Metrics    map[string]float64 `json:"metrics"`
}

// EvaluateResult is what a participant reports after scoring the aggregated
// parameters on its local held-out split.
type EvaluateResult struct {
	NumSamples int                `json:"num_samples"`
	Loss       float64            `json:"loss"`
	Metrics    map[string]float64 `json:"metrics"`
}

// FitEntry pairs a FitResult with the participant that produced it.
type FitEntry struct {
	ParticipantID string    `json:"participant_id"`
	Result        FitResult `json:"result"`
	ReceivedAt    time.Time `json:"received_at"`
}

// EvalEntry pairs an EvaluateResult with the participant that produced it.
type EvalEntry struct {
	ParticipantID string         `json:"participant_id"`
	Result        EvaluateResult `json:"result"`
	ReceivedAt    time.Time      `json:"received_at"`
}

// Failure records a participant excluded from the current round.
type Failure struct {
	ParticipantID string `json:"participant_id"`
	Err           error  `json:"-"`
	Reason        string `json:"reason"`
}

// Participant is the agent contract. Any object exposing these three
// operations can take part in a federation run: in-process simulated banks
// and MQTT-connected bank agents both satisfy it.
type Participant interface {
	ID() string

	// GetParameters returns the agent's current local model parameters. Used
	// once at startup so the aggregator learns the run's shape signature.
	GetParameters(ctx context.Context) (ParameterVector, error)

	// Fit replaces the local model weights with parameters, trains for the
	// configured number of local epochs and reports the result.
	Fit(ctx context.Context, parameters ParameterVector, cfg FitConfig) (FitResult, error)

	// Evaluate loads parameters without further training and scores them
	// against the local held-out split.
	Evaluate(ctx context.Context, parameters ParameterVector, cfg EvalConfig) (EvaluateResult, error)
}

// Strategy combines per-participant results into a global model and aggregate
// metrics once per round.
type Strategy interface {
	AggregateFit(round int, results []FitEntry, failures []Failure) (ParameterVector, map[string]float64, error)
	AggregateEvaluate(round int, results []EvalEntry, failures []Failure) (float64, map[string]float64, error)
}
