package aggregator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/google/uuid"

	"github.com/amlnet/federator/pkg/errors"
	"github.com/amlnet/federator/pkg/fl"
	"github.com/amlnet/federator/pkg/mqtt"
	"github.com/amlnet/federator/pkg/scheduler"
	"github.com/amlnet/federator/pkg/storage"
	"github.com/amlnet/federator/pkg/storage/sqlite"
)

// A participant is considered alive while its last announcement is
// younger than this.
const livelinessWindow = 30 * time.Second

var namegen = namegenerator.NewGenerator()

type registration struct {
	id       string
	lastSeen time.Time
	online   bool
}

type service struct {
	runsDB       storage.Storage
	metricsDB    sqlite.RoundMetricsRepository
	strategy     fl.Strategy
	pubsub       mqtt.PubSub
	federationID string
	logger       *slog.Logger

	mu           sync.RWMutex
	participants map[string]*registration
	active       map[string]context.CancelFunc

	pending *pendingResponses
}

func NewService(runsDB storage.Storage, metricsDB sqlite.RoundMetricsRepository, strategy fl.Strategy, pubsub mqtt.PubSub, federationID string, logger *slog.Logger) Service {
	return &service{
		runsDB:       runsDB,
		metricsDB:    metricsDB,
		strategy:     strategy,
		pubsub:       pubsub,
		federationID: federationID,
		logger:       logger,
		participants: make(map[string]*registration),
		active:       make(map[string]context.CancelFunc),
		pending:      newPendingResponses(),
	}
}

func (svc *service) CreateRun(ctx context.Context, run Run) (Run, error) {
	run.ID = uuid.NewString()
	if run.Name == "" {
		run.Name = namegen.Generate()
	}
	run.State = StatePending
	run.Phase = PhaseIdle
	run.Config = run.Config.WithDefaults()
	run.CreatedAt = time.Now()

	if err := svc.runsDB.Create(ctx, run.ID, run); err != nil {
		return Run{}, err
	}

	return run, nil
}

func (svc *service) GetRun(ctx context.Context, runID string) (Run, error) {
	data, err := svc.runsDB.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	run, ok := data.(Run)
	if !ok {
		return Run{}, errors.ErrInvalidData
	}

	return run, nil
}

func (svc *service) ListRuns(ctx context.Context, offset, limit uint64) (RunPage, error) {
	data, total, err := svc.runsDB.List(ctx, offset, limit)
	if err != nil {
		return RunPage{}, err
	}

	runs := make([]Run, len(data))
	for i := range data {
		run, ok := data[i].(Run)
		if !ok {
			return RunPage{}, errors.ErrInvalidData
		}
		runs[i] = run
	}

	return RunPage{
		Offset: offset,
		Limit:  limit,
		Total:  total,
		Runs:   runs,
	}, nil
}

func (svc *service) DeleteRun(ctx context.Context, runID string) error {
	run, err := svc.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.State == StateRunning {
		return errors.ErrRunActive
	}

	return svc.runsDB.Delete(ctx, runID)
}

func (svc *service) StartRun(ctx context.Context, runID string) error {
	run, err := svc.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	switch run.State {
	case StateRunning:
		return errors.ErrRunActive
	case StateCompleted:
		return errors.ErrRunFinished
	}

	participants := svc.aliveParticipants(run.ID)
	if len(participants) == 0 {
		return scheduler.ErrNoParticipants
	}

	// A restart after a failure begins a fresh pipeline from round one, so
	// the previous attempt's progress is discarded rather than appended to.
	run.State = StateRunning
	run.StartedAt = time.Now()
	run.FinishedAt = time.Time{}
	run.FailureReason = ""
	run.CompletedRounds = 0
	run.History = nil
	run.Participants = make([]string, len(participants))
	for i, p := range participants {
		run.Participants[i] = p.ID()
	}
	if err := svc.runsDB.Update(ctx, run.ID, run); err != nil {
		return err
	}

	// The pipeline outlives the request; it is cancelled through StopRun or
	// Shutdown, not by the caller's context.
	runCtx, cancel := context.WithCancel(context.Background())
	svc.mu.Lock()
	svc.active[run.ID] = cancel
	svc.mu.Unlock()

	var selector scheduler.Selector
	if run.Config.SelectionFraction < 1 {
		selector = scheduler.NewFraction(run.Config.SelectionFraction, run.Config.Seed)
	} else {
		selector = scheduler.NewAll()
	}

	coord := NewCoordinator(run.ID, run.Config, svc.strategy, selector, svc.logger)
	coord.OnPhase(func(phase Phase, round int) {
		svc.updateRun(run.ID, func(r *Run) {
			r.Phase = phase
		})
	})
	coord.OnRound(func(record RoundRecord, global fl.ParameterVector) {
		svc.updateRun(run.ID, func(r *Run) {
			r.CompletedRounds = record.Round
			r.History = append(r.History, record)
			r.Parameters = global
			r.ShapeSignature = global.Signature()
		})
		if err := svc.metricsDB.Create(runCtx, sqlite.RoundMetrics{
			RunID:     run.ID,
			Round:     record.Round,
			Loss:      record.Loss,
			Metrics:   record.Metrics,
			CreatedAt: record.CompletedAt,
		}); err != nil {
			svc.logger.Error("failed to persist round metrics",
				slog.String("run_id", run.ID),
				slog.Int("round", record.Round),
				slog.Any("error", err),
			)
		}
	})

	go svc.executeRun(runCtx, cancel, coord, run.ID, participants)

	return nil
}

func (svc *service) executeRun(ctx context.Context, cancel context.CancelFunc, coord *Coordinator, runID string, participants []fl.Participant) {
	defer cancel()
	defer func() {
		svc.mu.Lock()
		delete(svc.active, runID)
		svc.mu.Unlock()
	}()

	global, _, err := coord.Execute(ctx, participants)

	svc.updateRun(runID, func(r *Run) {
		r.Phase = PhaseTerminal
		r.FinishedAt = time.Now()
		if err != nil {
			// The last successfully aggregated parameters remain the run's
			// output artifact even on failure.
			r.State = StateFailed
			r.FailureReason = err.Error()
		} else {
			r.State = StateCompleted
		}
		if global != nil {
			r.Parameters = global
			r.ShapeSignature = global.Signature()
		}
	})

	if err != nil {
		svc.logger.Error("Federation run failed",
			slog.String("run_id", runID),
			slog.Any("error", err),
		)

		return
	}

	svc.logger.Info("Federation run completed", slog.String("run_id", runID))
}

func (svc *service) StopRun(ctx context.Context, runID string) error {
	svc.mu.Lock()
	cancel, ok := svc.active[runID]
	svc.mu.Unlock()
	if !ok {
		return errors.ErrNotFound
	}
	cancel()

	return nil
}

func (svc *service) GetRunModel(ctx context.Context, runID string) (fl.ParameterVector, error) {
	run, err := svc.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Parameters == nil {
		return nil, errors.ErrNotFound
	}

	return run.Parameters, nil
}

func (svc *service) GetRunMetrics(ctx context.Context, runID string, offset, limit uint64) (MetricsPage, error) {
	if _, err := svc.GetRun(ctx, runID); err != nil {
		return MetricsPage{}, err
	}

	metrics, total, err := svc.metricsDB.List(ctx, runID, offset, limit)
	if err != nil {
		return MetricsPage{}, err
	}

	return MetricsPage{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Metrics: metrics,
	}, nil
}

func (svc *service) ListParticipants(ctx context.Context, offset, limit uint64) (ParticipantPage, error) {
	svc.mu.RLock()
	infos := make([]ParticipantInfo, 0, len(svc.participants))
	for _, reg := range svc.participants {
		infos = append(infos, ParticipantInfo{
			ID:       reg.id,
			Alive:    reg.online && time.Since(reg.lastSeen) < livelinessWindow,
			LastSeen: reg.lastSeen,
		})
	}
	svc.mu.RUnlock()

	sortParticipantInfos(infos)

	total := uint64(len(infos))
	if offset >= total {
		return ParticipantPage{Offset: offset, Limit: limit, Total: total}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return ParticipantPage{
		Offset:       offset,
		Limit:        limit,
		Total:        total,
		Participants: infos[offset:end],
	}, nil
}

func (svc *service) Shutdown(ctx context.Context) error {
	svc.mu.Lock()
	for _, cancel := range svc.active {
		cancel()
	}
	svc.mu.Unlock()

	return svc.pubsub.Disconnect(ctx)
}

// aliveParticipants snapshots the currently alive banks as remote
// participants bound to the given run.
func (svc *service) aliveParticipants(runID string) []fl.Participant {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	infos := make([]ParticipantInfo, 0, len(svc.participants))
	for _, reg := range svc.participants {
		if reg.online && time.Since(reg.lastSeen) < livelinessWindow {
			infos = append(infos, ParticipantInfo{ID: reg.id})
		}
	}
	sortParticipantInfos(infos)

	participants := make([]fl.Participant, len(infos))
	for i, info := range infos {
		participants[i] = &remoteParticipant{
			id:           info.ID,
			runID:        runID,
			federationID: svc.federationID,
			pubsub:       svc.pubsub,
			pending:      svc.pending,
		}
	}

	return participants
}

func (svc *service) updateRun(runID string, mutate func(*Run)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	ctx := context.Background()
	data, err := svc.runsDB.Get(ctx, runID)
	if err != nil {
		svc.logger.Error("failed to load run for update", slog.String("run_id", runID), slog.Any("error", err))

		return
	}
	run, ok := data.(Run)
	if !ok {
		svc.logger.Error("invalid run data", slog.String("run_id", runID))

		return
	}

	mutate(&run)

	if err := svc.runsDB.Update(ctx, runID, run); err != nil {
		svc.logger.Error("failed to update run", slog.String("run_id", runID), slog.Any("error", err))
	}
}

func sortParticipantInfos(infos []ParticipantInfo) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
}
