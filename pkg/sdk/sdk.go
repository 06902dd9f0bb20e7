package sdk

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
)

const CTJSON string = "application/json"

type PageMetadata struct {
	Offset uint64 `json:"offset"`
	Limit  uint64 `json:"limit"`
}

type SDK interface {
	// CreateRun registers a new federation run.
	//
	// example:
	//  run := sdk.Run{
	//    Name: "aml-q3",
	//  }
	//  run, _ := sdk.CreateRun(run)
	//  fmt.Println(run)
	CreateRun(run Run) (Run, error)

	// GetRun gets a run by id.
	//
	// example:
	//  run, _ := sdk.GetRun("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	//  fmt.Println(run)
	GetRun(id string) (Run, error)

	// ListRuns lists runs.
	//
	// example:
	//  runPage, _ := sdk.ListRuns(0, 10)
	//  fmt.Println(runPage)
	ListRuns(offset, limit uint64) (RunPage, error)

	// DeleteRun deletes a run.
	//
	// example:
	//  _ = sdk.DeleteRun("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	DeleteRun(id string) error

	// StartRun launches a run's round pipeline.
	//
	// example:
	//  _ = sdk.StartRun("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	StartRun(id string) error

	// StopRun cancels an active run.
	//
	// example:
	//  _ = sdk.StopRun("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	StopRun(id string) error

	// GetRunModel fetches a run's current global model parameters.
	//
	// example:
	//  model, _ := sdk.GetRunModel("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040")
	//  fmt.Println(model)
	GetRunModel(id string) (Model, error)

	// GetRunMetrics fetches a run's per-round aggregated metrics.
	//
	// example:
	//  metrics, _ := sdk.GetRunMetrics("b1d10738-c5d7-4ff1-8f4d-b9328ce6f040", 0, 10)
	//  fmt.Println(metrics)
	GetRunMetrics(id string, offset, limit uint64) (MetricsPage, error)

	// ListParticipants lists the banks known to the aggregator.
	//
	// example:
	//  participantPage, _ := sdk.ListParticipants(0, 10)
	//  fmt.Println(participantPage)
	ListParticipants(offset, limit uint64) (ParticipantPage, error)
}

type fedSDK struct {
	aggregatorURL string
	client        *http.Client
}

type Config struct {
	AggregatorURL   string
	TLSVerification bool
}

func NewSDK(cfg Config) SDK {
	return &fedSDK{
		aggregatorURL: cfg.AggregatorURL,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: !cfg.TLSVerification,
				},
			},
		},
	}
}

func (sdk *fedSDK) processRequest(method, reqURL string, data []byte, expectedRespCode int) ([]byte, error) {
	req, err := http.NewRequest(method, reqURL, bytes.NewReader(data))
	if err != nil {
		return []byte{}, err
	}

	req.Header.Add("Content-Type", CTJSON)

	resp, err := sdk.client.Do(req)
	if err != nil {
		return []byte{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode != expectedRespCode {
		return []byte{}, fmt.Errorf("unexpected response code: %d", resp.StatusCode)
	}

	return body, nil
}
