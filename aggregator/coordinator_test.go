package aggregator_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amlnet/federator/aggregator"
	"github.com/amlnet/federator/pkg/fl"
	"github.com/amlnet/federator/pkg/scheduler"
)

// fakeBank is a scriptable participant for exercising the round pipeline
// without any training or networking.
type fakeBank struct {
	id          string
	samples     int
	value       float64
	fitDelay    time.Duration
	fitErr      error
	evalErr     error
	fitCalls    atomic.Int32
	evalCalls   atomic.Int32
	paramsErr   error
	paramsDelay time.Duration
	paramShape  []int
}

func newFakeBank(id string, samples int, value float64) *fakeBank {
	return &fakeBank{id: id, samples: samples, value: value, paramShape: []int{2}}
}

func (f *fakeBank) ID() string { return f.id }

func (f *fakeBank) params() fl.ParameterVector {
	n := 1
	for _, d := range f.paramShape {
		n *= d
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = f.value
	}

	return fl.ParameterVector{{Shape: f.paramShape, Data: data}}
}

func (f *fakeBank) GetParameters(ctx context.Context) (fl.ParameterVector, error) {
	if f.paramsDelay > 0 {
		select {
		case <-time.After(f.paramsDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.paramsErr != nil {
		return nil, f.paramsErr
	}

	return f.params(), nil
}

func (f *fakeBank) Fit(ctx context.Context, _ fl.ParameterVector, _ fl.FitConfig) (fl.FitResult, error) {
	f.fitCalls.Add(1)
	if f.fitErr != nil {
		return fl.FitResult{}, f.fitErr
	}
	if f.fitDelay > 0 {
		select {
		case <-time.After(f.fitDelay):
		case <-ctx.Done():
			return fl.FitResult{}, ctx.Err()
		}
	}

	return fl.FitResult{
		Parameters: f.params(),
		NumSamples: f.samples,
		Metrics:    map[string]float64{fl.MetricLocalTrainAUC: 0.9},
	}, nil
}

func (f *fakeBank) Evaluate(_ context.Context, _ fl.ParameterVector, _ fl.EvalConfig) (fl.EvaluateResult, error) {
	f.evalCalls.Add(1)
	if f.evalErr != nil {
		return fl.EvaluateResult{}, f.evalErr
	}

	return fl.EvaluateResult{
		NumSamples: f.samples,
		Loss:       0.5,
		Metrics:    map[string]float64{fl.MetricLocalAUC: 0.8},
	}, nil
}

func newCoordinator(cfg aggregator.RunConfig) *aggregator.Coordinator {
	return aggregator.NewCoordinator("run-test", cfg, fl.NewFedAvg(), scheduler.NewAll(), slog.Default())
}

func TestExecuteCompletesConfiguredRounds(t *testing.T) {
	t.Parallel()

	banks := []fl.Participant{
		newFakeBank("bank-a", 3000, 1.0),
		newFakeBank("bank-b", 1000, 2.0),
	}

	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  3,
		RoundTimeout: time.Second,
	})

	global, history, err := coord.Execute(context.Background(), banks)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Len(t, global, 1)

	// Weighted average of constant parameters: (3000*1 + 1000*2) / 4000.
	assert.InDelta(t, 1.25, global[0].Data[0], 1e-12)

	for i, record := range history {
		assert.Equal(t, i+1, record.Round)
		assert.Len(t, record.Selected, 2)
		assert.InDelta(t, 0.5, record.Loss, 1e-12)
		assert.Contains(t, record.Metrics, "avg_"+fl.MetricLocalTrainAUC)
		assert.Contains(t, record.Metrics, "avg_"+fl.MetricLocalAUC)
	}
}

func TestExecuteSlowParticipantExcludedRunCompletes(t *testing.T) {
	t.Parallel()

	slow := newFakeBank("bank-slow", 1000, 9.0)
	slow.fitDelay = time.Minute
	banks := []fl.Participant{
		newFakeBank("bank-fast", 1000, 1.0),
		slow,
	}

	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  1,
		RoundTimeout: 200 * time.Millisecond,
	})

	done := make(chan struct{})
	var global fl.ParameterVector
	var history []aggregator.RoundRecord
	var err error
	go func() {
		global, history, err = coord.Execute(context.Background(), banks)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run hung waiting for slow participant")
	}

	require.NoError(t, err)
	require.Len(t, history, 1)

	// Only the fast bank contributed.
	assert.InDelta(t, 1.0, global[0].Data[0], 1e-12)

	var excludedIDs []string
	for _, f := range history[0].Excluded {
		excludedIDs = append(excludedIDs, f.ParticipantID)
	}
	assert.Contains(t, excludedIDs, "bank-slow")
}

func TestExecuteAllFailBoundedRetryThenFailure(t *testing.T) {
	t.Parallel()

	failing := newFakeBank("bank-broken", 1000, 1.0)
	failing.fitErr = errors.New("local training crashed")

	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:     3,
		RoundTimeout:    time.Second,
		MaxRoundRetries: 2,
	})

	_, history, err := coord.Execute(context.Background(), []fl.Participant{failing})
	require.Error(t, err)
	assert.ErrorIs(t, err, fl.ErrNoViableResults)
	assert.Empty(t, history)

	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), failing.fitCalls.Load())
}

func TestExecuteFailureReturnsLastGoodParameters(t *testing.T) {
	t.Parallel()

	flaky := newFakeBank("bank-flaky", 1000, 4.0)
	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  3,
		RoundTimeout: time.Second,
	})
	coord.OnRound(func(record aggregator.RoundRecord, _ fl.ParameterVector) {
		if record.Round == 2 {
			flaky.fitErr = errors.New("bank went away")
		}
	})

	global, history, err := coord.Execute(context.Background(), []fl.Participant{flaky})
	require.Error(t, err)
	assert.ErrorIs(t, err, fl.ErrNoViableResults)

	// Two rounds closed before the failure; their output is preserved.
	assert.Len(t, history, 2)
	require.Len(t, global, 1)
	assert.InDelta(t, 4.0, global[0].Data[0], 1e-12)
}

func TestExecuteEvalFailureDoesNotFailRound(t *testing.T) {
	t.Parallel()

	bank := newFakeBank("bank-a", 1000, 1.0)
	bank.evalErr = fl.ErrInsufficientLabelDiversity

	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  2,
		RoundTimeout: time.Second,
	})

	_, history, err := coord.Execute(context.Background(), []fl.Participant{bank})
	require.NoError(t, err)
	require.Len(t, history, 2)

	// The training metric survives while the evaluation contributes nothing.
	assert.Contains(t, history[0].Metrics, "avg_"+fl.MetricLocalTrainAUC)
	assert.NotContains(t, history[0].Metrics, "avg_"+fl.MetricLocalAUC)
	assert.Zero(t, history[0].Loss)
}

// fitOnlyStrategy aggregates parameters but reports no fit metrics, the way
// an external strategy module that omits the metrics field behaves.
type fitOnlyStrategy struct {
	fl.Strategy
}

func (s fitOnlyStrategy) AggregateFit(round int, results []fl.FitEntry, failures []fl.Failure) (fl.ParameterVector, map[string]float64, error) {
	params, _, err := s.Strategy.AggregateFit(round, results, failures)

	return params, nil, err
}

func TestExecuteStrategyWithoutFitMetrics(t *testing.T) {
	t.Parallel()

	bank := newFakeBank("bank-a", 1000, 1.0)
	coord := aggregator.NewCoordinator("run-test", aggregator.RunConfig{
		TotalRounds:  1,
		RoundTimeout: time.Second,
	}, fitOnlyStrategy{fl.NewFedAvg()}, scheduler.NewAll(), slog.Default())

	_, history, err := coord.Execute(context.Background(), []fl.Participant{bank})
	require.NoError(t, err)
	require.Len(t, history, 1)

	// Evaluation metrics still land even when training reported none.
	assert.Contains(t, history[0].Metrics, "avg_"+fl.MetricLocalAUC)
	assert.NotContains(t, history[0].Metrics, "avg_"+fl.MetricLocalTrainAUC)
	assert.InDelta(t, 0.5, history[0].Loss, 1e-12)
}

func TestExecuteInitialParametersSkipFailing(t *testing.T) {
	t.Parallel()

	broken := newFakeBank("bank-broken", 1000, 1.0)
	broken.paramsErr = errors.New("agent not ready")
	healthy := newFakeBank("bank-healthy", 1000, 2.0)

	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  1,
		RoundTimeout: time.Second,
	})

	global, _, err := coord.Execute(context.Background(), []fl.Participant{broken, healthy})
	require.NoError(t, err)
	require.Len(t, global, 1)
}

func TestExecuteInitialParametersTimeoutSkipsUnresponsive(t *testing.T) {
	t.Parallel()

	stuck := newFakeBank("bank-stuck", 1000, 9.0)
	stuck.paramsDelay = time.Minute
	healthy := newFakeBank("bank-healthy", 1000, 2.0)

	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  1,
		RoundTimeout: 200 * time.Millisecond,
	})

	done := make(chan struct{})
	var global fl.ParameterVector
	var err error
	go func() {
		global, _, err = coord.Execute(context.Background(), []fl.Participant{stuck, healthy})
		close(done)
	}()

	// The unresponsive query is bounded by the round timeout; the run moves
	// on to the next participant instead of parking in the initializing phase.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run hung querying an unresponsive participant")
	}

	require.NoError(t, err)
	require.Len(t, global, 1)
}

func TestExecuteAllInitialQueriesTimeOut(t *testing.T) {
	t.Parallel()

	stuck := newFakeBank("bank-stuck", 1000, 1.0)
	stuck.paramsDelay = time.Minute

	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  1,
		RoundTimeout: 100 * time.Millisecond,
	})

	done := make(chan struct{})
	var err error
	go func() {
		_, _, err = coord.Execute(context.Background(), []fl.Participant{stuck})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run hung querying an unresponsive participant")
	}

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteNoParticipants(t *testing.T) {
	t.Parallel()

	coord := newCoordinator(aggregator.RunConfig{TotalRounds: 1})

	_, _, err := coord.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, scheduler.ErrNoParticipants)
}

func TestExecuteCancelledContext(t *testing.T) {
	t.Parallel()

	bank := newFakeBank("bank-a", 1000, 1.0)
	bank.fitDelay = 50 * time.Millisecond

	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  1000,
		RoundTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	// Cancellation lands either at the round boundary or mid-collect, where
	// the cancelled fit surfaces as an empty round. Both must stop the run.
	_, history, err := coord.Execute(ctx, []fl.Participant{bank})
	require.Error(t, err)
	assert.Less(t, len(history), 1000)
}

func TestPhaseTransitionsInOrder(t *testing.T) {
	t.Parallel()

	bank := newFakeBank("bank-a", 1000, 1.0)
	coord := newCoordinator(aggregator.RunConfig{
		TotalRounds:  1,
		RoundTimeout: time.Second,
	})

	var phases []aggregator.Phase
	coord.OnPhase(func(phase aggregator.Phase, _ int) {
		phases = append(phases, phase)
	})

	_, _, err := coord.Execute(context.Background(), []fl.Participant{bank})
	require.NoError(t, err)

	assert.Equal(t, []aggregator.Phase{
		aggregator.PhaseInitializing,
		aggregator.PhaseFitDispatch,
		aggregator.PhaseFitCollect,
		aggregator.PhaseAggregating,
		aggregator.PhaseEvalDispatch,
		aggregator.PhaseEvalCollect,
		aggregator.PhaseMetricsAggregating,
		aggregator.PhaseTerminal,
	}, phases)
}
