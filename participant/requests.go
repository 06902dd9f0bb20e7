package participant

import "github.com/amlnet/federator/pkg/fl"

// Wire messages exchanged with the aggregator over MQTT. Parameter-bearing
// messages travel CBOR-encoded.

type ParamsRequest struct {
	RunID string `json:"run_id"`
}

type ParamsResponse struct {
	RunID         string             `json:"run_id"`
	ParticipantID string             `json:"participant_id"`
	Parameters    fl.ParameterVector `json:"parameters"`
	Error         string             `json:"error,omitempty"`
}

type FitRequest struct {
	RunID      string             `json:"run_id"`
	Parameters fl.ParameterVector `json:"parameters"`
	Config     fl.FitConfig       `json:"config"`
}

type FitResponse struct {
	RunID         string       `json:"run_id"`
	Round         int          `json:"round"`
	Attempt       int          `json:"attempt"`
	ParticipantID string       `json:"participant_id"`
	Result        fl.FitResult `json:"result"`
	Error         string       `json:"error,omitempty"`
}

type EvalRequest struct {
	RunID      string             `json:"run_id"`
	Parameters fl.ParameterVector `json:"parameters"`
	Config     fl.EvalConfig      `json:"config"`
}

type EvalResponse struct {
	RunID         string            `json:"run_id"`
	Round         int               `json:"round"`
	ParticipantID string            `json:"participant_id"`
	Result        fl.EvaluateResult `json:"result"`
	Error         string            `json:"error,omitempty"`
}

type Announcement struct {
	ParticipantID string `json:"participant_id"`
	Status        string `json:"status"`
}

// Announcement statuses. Offline is also the payload of the MQTT last will
// published by the broker when a bank drops without disconnecting cleanly.
const (
	StatusOnline  = "online"
	StatusAlive   = "alive"
	StatusOffline = "offline"
)

// Topic templates shared by the agent and the aggregator. The federation ID
// scopes every topic so multiple federations can share one broker.
const (
	JoinTopicTemplate    = "federations/%s/participants/join"
	AliveTopicTemplate   = "federations/%s/participants/alive"
	OfflineTopicTemplate = "federations/%s/participants/offline"

	ParamsRequestTopicTemplate = "federations/%s/participants/%s/params"
	FitRequestTopicTemplate    = "federations/%s/participants/%s/fit"
	EvalRequestTopicTemplate   = "federations/%s/participants/%s/eval"

	ParamsResultTopicTemplate = "federations/%s/results/params"
	FitResultTopicTemplate    = "federations/%s/results/fit"
	EvalResultTopicTemplate   = "federations/%s/results/eval"
)
