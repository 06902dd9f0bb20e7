package aggregator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/amlnet/federator/aggregator"
	"github.com/amlnet/federator/participant"
	pkgerrors "github.com/amlnet/federator/pkg/errors"
	"github.com/amlnet/federator/pkg/fl"
	"github.com/amlnet/federator/pkg/mqtt"
	"github.com/amlnet/federator/pkg/mqtt/mocks"
	"github.com/amlnet/federator/pkg/scheduler"
	"github.com/amlnet/federator/pkg/storage"
	"github.com/amlnet/federator/pkg/storage/sqlite"
)

const testFederationID = "fed-test"

type fakeMetricsRepo struct {
	mu   sync.Mutex
	rows []sqlite.RoundMetrics
}

func (r *fakeMetricsRepo) Create(_ context.Context, m sqlite.RoundMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Same upsert semantics as the sqlite repository: one row per run and
	// round, replayed rounds overwrite.
	for i, row := range r.rows {
		if row.RunID == m.RunID && row.Round == m.Round {
			r.rows[i] = m

			return nil
		}
	}
	r.rows = append(r.rows, m)

	return nil
}

func (r *fakeMetricsRepo) List(_ context.Context, runID string, offset, limit uint64) ([]sqlite.RoundMetrics, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []sqlite.RoundMetrics
	for _, row := range r.rows {
		if row.RunID == runID {
			matched = append(matched, row)
		}
	}
	total := uint64(len(matched))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return matched[offset:end], total, nil
}

type testHarness struct {
	svc      aggregator.Service
	pubsub   *mocks.MockPubSub
	metrics  *fakeMetricsRepo
	mu       sync.Mutex
	handlers map[string]mqtt.Handler
}

func (h *testHarness) handler(topic string) mqtt.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.handlers[topic]
}

func setupService(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		pubsub:   new(mocks.MockPubSub),
		metrics:  &fakeMetricsRepo{},
		handlers: make(map[string]mqtt.Handler),
	}
	h.pubsub.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			h.mu.Lock()
			h.handlers[args.String(1)] = args.Get(2).(mqtt.Handler)
			h.mu.Unlock()
		}).
		Return(nil)

	h.svc = aggregator.NewService(
		storage.NewInMemoryStorage(),
		h.metrics,
		fl.NewFedAvg(),
		h.pubsub,
		testFederationID,
		slog.Default(),
	)
	require.NoError(t, h.svc.Subscribe(context.Background()))

	return h
}

// announce registers a bank with the service through the join topic, the same
// path a live broker would take.
func (h *testHarness) announce(t *testing.T, participantID, status string) {
	t.Helper()

	payload, err := json.Marshal(participant.Announcement{
		ParticipantID: participantID,
		Status:        status,
	})
	require.NoError(t, err)

	topic := fmt.Sprintf(participant.JoinTopicTemplate, testFederationID)
	handler := h.handler(topic)
	require.NotNil(t, handler)
	require.NoError(t, handler(topic, payload))
}

func TestCreateRunAppliesDefaults(t *testing.T) {
	t.Parallel()
	h := setupService(t)

	run, err := h.svc.CreateRun(context.Background(), aggregator.Run{})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.NotEmpty(t, run.Name)
	assert.Equal(t, aggregator.StatePending, run.State)
	assert.Equal(t, 5, run.Config.TotalRounds)
	assert.Equal(t, 30, run.Config.Epochs)
	assert.Equal(t, 64, run.Config.BatchSize)
	assert.InDelta(t, 0.01, run.Config.LearningRate, 1e-12)
}

func TestCreateRunKeepsProvidedConfig(t *testing.T) {
	t.Parallel()
	h := setupService(t)

	run, err := h.svc.CreateRun(context.Background(), aggregator.Run{
		Name:   "quarterly-aml",
		Config: aggregator.RunConfig{TotalRounds: 10, ProximalMu: 0.1},
	})
	require.NoError(t, err)

	assert.Equal(t, "quarterly-aml", run.Name)
	assert.Equal(t, 10, run.Config.TotalRounds)
	assert.InDelta(t, 0.1, run.Config.ProximalMu, 1e-12)
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()
	h := setupService(t)

	_, err := h.svc.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestListRuns(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.svc.CreateRun(ctx, aggregator.Run{})
		require.NoError(t, err)
	}

	page, err := h.svc.ListRuns(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), page.Total)
	assert.Len(t, page.Runs, 2)
}

func TestDeleteRun(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, aggregator.Run{})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeleteRun(ctx, run.ID))

	_, err = h.svc.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestStartRunNoParticipants(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, aggregator.Run{})
	require.NoError(t, err)

	err = h.svc.StartRun(ctx, run.ID)
	assert.ErrorIs(t, err, scheduler.ErrNoParticipants)
}

func TestStartRunUnknownRun(t *testing.T) {
	t.Parallel()
	h := setupService(t)

	err := h.svc.StartRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestStopRunNotRunning(t *testing.T) {
	t.Parallel()
	h := setupService(t)

	err := h.svc.StopRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestGetRunModelBeforeAnyRound(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	run, err := h.svc.CreateRun(ctx, aggregator.Run{})
	require.NoError(t, err)

	_, err = h.svc.GetRunModel(ctx, run.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestParticipantLifecycle(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	h.announce(t, "bank-001", participant.StatusOnline)
	h.announce(t, "bank-002", participant.StatusOnline)

	page, err := h.svc.ListParticipants(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Participants, 2)
	assert.Equal(t, "bank-001", page.Participants[0].ID)
	assert.True(t, page.Participants[0].Alive)

	h.announce(t, "bank-001", participant.StatusOffline)

	page, err = h.svc.ListParticipants(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Participants, 2)
	assert.False(t, page.Participants[0].Alive)
	assert.True(t, page.Participants[1].Alive)
}

func TestShutdownDisconnects(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	h.pubsub.On("Disconnect", mock.Anything).Return(nil)

	require.NoError(t, h.svc.Shutdown(context.Background()))
	h.pubsub.AssertCalled(t, "Disconnect", mock.Anything)
}

// wireBank answers parameter, fit and evaluate requests the way a remote
// agent would: it watches outgoing requests on the mocked broker and replies
// through the captured result handlers.
func (h *testHarness) wireBank(t *testing.T, participantID string, params fl.ParameterVector, samples int) {
	t.Helper()

	paramsResult := fmt.Sprintf(participant.ParamsResultTopicTemplate, testFederationID)
	fitResult := fmt.Sprintf(participant.FitResultTopicTemplate, testFederationID)
	evalResult := fmt.Sprintf(participant.EvalResultTopicTemplate, testFederationID)

	reply := func(topic string, resp any) {
		payload, err := cbor.Marshal(resp)
		require.NoError(t, err)
		handler := h.handler(topic)
		require.NotNil(t, handler)
		require.NoError(t, handler(topic, payload))
	}

	h.pubsub.On("PublishCBOR", mock.Anything, mock.MatchedBy(func(topic string) bool {
		parts := strings.Split(topic, "/")

		return len(parts) == 5 && parts[3] == participantID
	}), mock.Anything).
		Run(func(args mock.Arguments) {
			switch msg := args.Get(2).(type) {
			case participant.ParamsRequest:
				reply(paramsResult, participant.ParamsResponse{
					RunID:         msg.RunID,
					ParticipantID: participantID,
					Parameters:    params,
				})
			case participant.FitRequest:
				reply(fitResult, participant.FitResponse{
					RunID:         msg.RunID,
					Round:         msg.Config.Round,
					Attempt:       msg.Config.Attempt,
					ParticipantID: participantID,
					Result: fl.FitResult{
						Parameters: params,
						NumSamples: samples,
						Metrics:    map[string]float64{fl.MetricLocalTrainAUC: 0.9},
					},
				})
			case participant.EvalRequest:
				reply(evalResult, participant.EvalResponse{
					RunID:         msg.RunID,
					Round:         msg.Config.Round,
					ParticipantID: participantID,
					Result: fl.EvaluateResult{
						NumSamples: samples,
						Loss:       0.4,
						Metrics:    map[string]float64{fl.MetricLocalAUC: 0.8},
					},
				})
			default:
				t.Errorf("unexpected message type %T on %s", msg, args.String(1))
			}
		}).
		Return(nil)
}

func TestStartRunFullFederation(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	params := fl.ParameterVector{{Shape: []int{2}, Data: []float64{1, 1}}}
	h.announce(t, "bank-001", participant.StatusOnline)
	h.announce(t, "bank-002", participant.StatusOnline)
	h.wireBank(t, "bank-001", params, 300)
	h.wireBank(t, "bank-002", params, 100)

	run, err := h.svc.CreateRun(ctx, aggregator.Run{
		Config: aggregator.RunConfig{TotalRounds: 2, RoundTimeout: 5 * time.Second},
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.StartRun(ctx, run.ID))

	require.Eventually(t, func() bool {
		current, err := h.svc.GetRun(ctx, run.ID)

		return err == nil && current.State == aggregator.StateCompleted
	}, 10*time.Second, 10*time.Millisecond)

	final, err := h.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.CompletedRounds)
	assert.Len(t, final.History, 2)
	assert.Equal(t, []string{"bank-001", "bank-002"}, final.Participants)
	assert.Equal(t, "2", final.ShapeSignature)

	model, err := h.svc.GetRunModel(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, model, 1)
	assert.InDelta(t, 1.0, model[0].Data[0], 1e-12)

	metrics, err := h.svc.GetRunMetrics(ctx, run.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), metrics.Total)
	require.Len(t, metrics.Metrics, 2)
	assert.InDelta(t, 0.4, metrics.Metrics[0].Loss, 1e-12)
	assert.Contains(t, metrics.Metrics[0].Metrics, "avg_"+fl.MetricLocalTrainAUC)

	// A second start on a finished run is rejected.
	assert.ErrorIs(t, h.svc.StartRun(ctx, run.ID), pkgerrors.ErrRunFinished)
}

// wireFlakyBank behaves like wireBank except that fit requests for the round
// held in failFitRound are answered with an error, letting tests drive a run
// into StateFailed and then recover it.
func (h *testHarness) wireFlakyBank(t *testing.T, participantID string, params fl.ParameterVector, samples int, failFitRound *atomic.Int32) {
	t.Helper()

	paramsResult := fmt.Sprintf(participant.ParamsResultTopicTemplate, testFederationID)
	fitResult := fmt.Sprintf(participant.FitResultTopicTemplate, testFederationID)
	evalResult := fmt.Sprintf(participant.EvalResultTopicTemplate, testFederationID)

	reply := func(topic string, resp any) {
		payload, err := cbor.Marshal(resp)
		require.NoError(t, err)
		handler := h.handler(topic)
		require.NotNil(t, handler)
		require.NoError(t, handler(topic, payload))
	}

	h.pubsub.On("PublishCBOR", mock.Anything, mock.MatchedBy(func(topic string) bool {
		parts := strings.Split(topic, "/")

		return len(parts) == 5 && parts[3] == participantID
	}), mock.Anything).
		Run(func(args mock.Arguments) {
			switch msg := args.Get(2).(type) {
			case participant.ParamsRequest:
				reply(paramsResult, participant.ParamsResponse{
					RunID:         msg.RunID,
					ParticipantID: participantID,
					Parameters:    params,
				})
			case participant.FitRequest:
				resp := participant.FitResponse{
					RunID:         msg.RunID,
					Round:         msg.Config.Round,
					Attempt:       msg.Config.Attempt,
					ParticipantID: participantID,
				}
				if msg.Config.Round == int(failFitRound.Load()) {
					resp.Error = "local training crashed"
				} else {
					resp.Result = fl.FitResult{
						Parameters: params,
						NumSamples: samples,
						Metrics:    map[string]float64{fl.MetricLocalTrainAUC: 0.9},
					}
				}
				reply(fitResult, resp)
			case participant.EvalRequest:
				reply(evalResult, participant.EvalResponse{
					RunID:         msg.RunID,
					Round:         msg.Config.Round,
					ParticipantID: participantID,
					Result: fl.EvaluateResult{
						NumSamples: samples,
						Loss:       0.4,
						Metrics:    map[string]float64{fl.MetricLocalAUC: 0.8},
					},
				})
			default:
				t.Errorf("unexpected message type %T on %s", msg, args.String(1))
			}
		}).
		Return(nil)
}

func TestRestartFailedRunResetsHistory(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	params := fl.ParameterVector{{Shape: []int{2}, Data: []float64{1, 1}}}
	var failRound atomic.Int32
	failRound.Store(2)
	h.announce(t, "bank-001", participant.StatusOnline)
	h.wireFlakyBank(t, "bank-001", params, 300, &failRound)

	run, err := h.svc.CreateRun(ctx, aggregator.Run{
		Config: aggregator.RunConfig{TotalRounds: 2, RoundTimeout: 5 * time.Second},
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.StartRun(ctx, run.ID))
	require.Eventually(t, func() bool {
		current, err := h.svc.GetRun(ctx, run.ID)

		return err == nil && current.State == aggregator.StateFailed
	}, 10*time.Second, 10*time.Millisecond)

	failed, err := h.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, failed.CompletedRounds)
	assert.Len(t, failed.History, 1)
	assert.NotEmpty(t, failed.FailureReason)

	// The second start replays from round one with a clean slate instead of
	// appending to the failed attempt's history.
	failRound.Store(0)
	require.NoError(t, h.svc.StartRun(ctx, run.ID))
	require.Eventually(t, func() bool {
		current, err := h.svc.GetRun(ctx, run.ID)

		return err == nil && current.State == aggregator.StateCompleted
	}, 10*time.Second, 10*time.Millisecond)

	final, err := h.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, final.FailureReason)
	assert.Equal(t, 2, final.CompletedRounds)
	require.Len(t, final.History, 2)
	assert.Equal(t, 1, final.History[0].Round)
	assert.Equal(t, 2, final.History[1].Round)

	// One persisted row per round, the replayed round one overwritten.
	metrics, err := h.svc.GetRunMetrics(ctx, run.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), metrics.Total)
}

func TestUnknownOfflineAnnouncementIgnored(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	// A stray last will from a client that never joined, such as another
	// service sharing the broker, must not register a participant.
	h.announce(t, "not-a-bank", participant.StatusOffline)

	page, err := h.svc.ListParticipants(ctx, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.Empty(t, page.Participants)
}

func TestStartRunAlreadyRunning(t *testing.T) {
	t.Parallel()
	h := setupService(t)
	ctx := context.Background()

	h.announce(t, "bank-001", participant.StatusOnline)

	// The bank never answers, so the run stays in flight long enough to
	// observe the conflict.
	h.pubsub.On("PublishCBOR", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	run, err := h.svc.CreateRun(ctx, aggregator.Run{
		Config: aggregator.RunConfig{TotalRounds: 1, RoundTimeout: 10 * time.Second},
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.StartRun(ctx, run.ID))
	assert.ErrorIs(t, h.svc.StartRun(ctx, run.ID), pkgerrors.ErrRunActive)
	assert.ErrorIs(t, h.svc.DeleteRun(ctx, run.ID), pkgerrors.ErrRunActive)

	require.NoError(t, h.svc.StopRun(ctx, run.ID))

	require.Eventually(t, func() bool {
		current, err := h.svc.GetRun(ctx, run.ID)

		return err == nil && current.State == aggregator.StateFailed
	}, 10*time.Second, 10*time.Millisecond)
}
