package sdk

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const runsEndpoint = "/runs"

type RunConfig struct {
	TotalRounds       int           `json:"total_rounds,omitempty"`
	Epochs            int           `json:"epochs,omitempty"`
	BatchSize         int           `json:"batch_size,omitempty"`
	LearningRate      float64       `json:"learning_rate,omitempty"`
	ProximalMu        float64       `json:"proximal_mu,omitempty"`
	SelectionFraction float64       `json:"selection_fraction,omitempty"`
	RoundTimeout      time.Duration `json:"round_timeout,omitempty"`
	MaxRoundRetries   int           `json:"max_round_retries,omitempty"`
	Seed              int64         `json:"seed,omitempty"`
}

type RoundRecord struct {
	Round       int                `json:"round"`
	Selected    []string           `json:"selected"`
	Excluded    []Failure          `json:"excluded,omitempty"`
	Loss        float64            `json:"loss"`
	Metrics     map[string]float64 `json:"metrics"`
	CompletedAt time.Time          `json:"completed_at"`
}

type Failure struct {
	ParticipantID string `json:"participant_id"`
	Reason        string `json:"reason"`
}

type Run struct {
	ID              string        `json:"id,omitempty"`
	Name            string        `json:"name"`
	State           string        `json:"state,omitempty"`
	Phase           string        `json:"phase,omitempty"`
	Config          RunConfig     `json:"config"`
	ShapeSignature  string        `json:"shape_signature,omitempty"`
	Participants    []string      `json:"participants,omitempty"`
	CompletedRounds int           `json:"completed_rounds,omitempty"`
	History         []RoundRecord `json:"history,omitempty"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	StartedAt       time.Time     `json:"started_at,omitempty"`
	FinishedAt      time.Time     `json:"finished_at,omitempty"`
}

type RunPage struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
	Total  uint64 `json:"total"`
	Runs   []Run  `json:"runs"`
}

type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

type Model struct {
	RunID      string   `json:"run_id"`
	Parameters []Tensor `json:"parameters"`
}

type RoundMetrics struct {
	RunID     string             `json:"run_id"`
	Round     int                `json:"round"`
	Loss      float64            `json:"loss"`
	Metrics   map[string]float64 `json:"metrics"`
	CreatedAt time.Time          `json:"created_at"`
}

type MetricsPage struct {
	Offset  uint64         `json:"offset"`
	Limit   uint64         `json:"limit"`
	Total   uint64         `json:"total"`
	Metrics []RoundMetrics `json:"metrics"`
}

func (sdk *fedSDK) CreateRun(run Run) (Run, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return Run{}, err
	}

	url := sdk.aggregatorURL + runsEndpoint

	body, err := sdk.processRequest(http.MethodPost, url, data, http.StatusCreated)
	if err != nil {
		return Run{}, err
	}

	var r Run
	if err := json.Unmarshal(body, &r); err != nil {
		return Run{}, err
	}

	return r, nil
}

func (sdk *fedSDK) GetRun(id string) (Run, error) {
	url := sdk.aggregatorURL + runsEndpoint + "/" + id

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Run{}, err
	}

	var r Run
	if err := json.Unmarshal(body, &r); err != nil {
		return Run{}, err
	}

	return r, nil
}

func (sdk *fedSDK) ListRuns(offset, limit uint64) (RunPage, error) {
	url := sdk.aggregatorURL + runsEndpoint + pageQuery(offset, limit)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return RunPage{}, err
	}

	var rp RunPage
	if err := json.Unmarshal(body, &rp); err != nil {
		return RunPage{}, err
	}

	return rp, nil
}

func (sdk *fedSDK) DeleteRun(id string) error {
	url := sdk.aggregatorURL + runsEndpoint + "/" + id

	if _, err := sdk.processRequest(http.MethodDelete, url, nil, http.StatusNoContent); err != nil {
		return err
	}

	return nil
}

func (sdk *fedSDK) StartRun(id string) error {
	url := fmt.Sprintf("%s/runs/%s/start", sdk.aggregatorURL, id)

	if _, err := sdk.processRequest(http.MethodPost, url, nil, http.StatusAccepted); err != nil {
		return err
	}

	return nil
}

func (sdk *fedSDK) StopRun(id string) error {
	url := fmt.Sprintf("%s/runs/%s/stop", sdk.aggregatorURL, id)

	if _, err := sdk.processRequest(http.MethodPost, url, nil, http.StatusAccepted); err != nil {
		return err
	}

	return nil
}

func (sdk *fedSDK) GetRunModel(id string) (Model, error) {
	url := fmt.Sprintf("%s/runs/%s/model", sdk.aggregatorURL, id)

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return Model{}, err
	}

	var m Model
	if err := json.Unmarshal(body, &m); err != nil {
		return Model{}, err
	}

	return m, nil
}

func (sdk *fedSDK) GetRunMetrics(id string, offset, limit uint64) (MetricsPage, error) {
	url := fmt.Sprintf("%s/runs/%s/metrics%s", sdk.aggregatorURL, id, pageQuery(offset, limit))

	body, err := sdk.processRequest(http.MethodGet, url, nil, http.StatusOK)
	if err != nil {
		return MetricsPage{}, err
	}

	var mp MetricsPage
	if err := json.Unmarshal(body, &mp); err != nil {
		return MetricsPage{}, err
	}

	return mp, nil
}

func pageQuery(offset, limit uint64) string {
	queries := make([]string, 0)
	if offset > 0 {
		queries = append(queries, fmt.Sprintf("offset=%d", offset))
	}
	if limit > 0 {
		queries = append(queries, fmt.Sprintf("limit=%d", limit))
	}
	if len(queries) == 0 {
		return ""
	}

	return "?" + strings.Join(queries, "&")
}
