package fl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WasmStrategy runs a custom aggregation rule compiled to a WASI command
// module. The module reads a JSON aggregation request on stdin and writes the
// aggregated model as JSON on stdout, so strategies can be swapped without
// rebuilding the aggregator.
type WasmStrategy struct {
	binary []byte
}

type wasmFitRequest struct {
	Round    int        `json:"round"`
	Results  []FitEntry `json:"results"`
	Failures []Failure  `json:"failures"`
}

type wasmFitResponse struct {
	Parameters ParameterVector    `json:"parameters"`
	Metrics    map[string]float64 `json:"metrics"`
}

type wasmEvalRequest struct {
	Round    int         `json:"round"`
	Results  []EvalEntry `json:"results"`
	Failures []Failure   `json:"failures"`
}

type wasmEvalResponse struct {
	Loss    float64            `json:"loss"`
	Metrics map[string]float64 `json:"metrics"`
}

func NewWasmStrategy(path string) (*WasmStrategy, error) {
	binary, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wasm strategy: %w", err)
	}

	return &WasmStrategy{binary: binary}, nil
}

func (w *WasmStrategy) AggregateFit(round int, results []FitEntry, failures []Failure) (ParameterVector, map[string]float64, error) {
	if len(surviveFit(results, failures)) == 0 {
		return nil, nil, fmt.Errorf("round %d: %w", round, ErrNoViableResults)
	}

	out, err := w.invoke("aggregate_fit", wasmFitRequest{Round: round, Results: results, Failures: failures})
	if err != nil {
		return nil, nil, err
	}

	var resp wasmFitResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode wasm strategy output: %w", err)
	}
	if err := resp.Parameters.Validate(); err != nil {
		return nil, nil, err
	}

	return resp.Parameters, resp.Metrics, nil
}

func (w *WasmStrategy) AggregateEvaluate(round int, results []EvalEntry, failures []Failure) (float64, map[string]float64, error) {
	if len(surviveEval(results, failures)) == 0 {
		return 0, nil, fmt.Errorf("round %d: %w", round, ErrNoViableResults)
	}

	out, err := w.invoke("aggregate_evaluate", wasmEvalRequest{Round: round, Results: results, Failures: failures})
	if err != nil {
		return 0, nil, err
	}

	var resp wasmEvalResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return 0, nil, fmt.Errorf("failed to decode wasm strategy output: %w", err)
	}

	return resp.Loss, resp.Metrics, nil
}

func (w *WasmStrategy) invoke(op string, req any) ([]byte, error) {
	ctx := context.Background()

	in, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregation request: %w", err)
	}

	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	var out bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithArgs("strategy", op).
		WithStdin(bytes.NewReader(in)).
		WithStdout(&out).
		WithStderr(os.Stderr)

	if _, err := r.InstantiateWithConfig(ctx, w.binary, cfg); err != nil {
		return nil, errors.Join(errors.New("wasm strategy execution failed"), err)
	}

	return out.Bytes(), nil
}
