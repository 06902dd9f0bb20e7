package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amlnet/federator/pkg/fl"
	"github.com/amlnet/federator/pkg/scheduler"
)

// Phase names of the round lifecycle state machine.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseInitializing       Phase = "initializing"
	PhaseFitDispatch        Phase = "fit_dispatch"
	PhaseFitCollect         Phase = "fit_collect"
	PhaseAggregating        Phase = "aggregating"
	PhaseEvalDispatch       Phase = "eval_dispatch"
	PhaseEvalCollect        Phase = "eval_collect"
	PhaseMetricsAggregating Phase = "metrics_aggregating"
	PhaseTerminal           Phase = "terminal"
)

// Coordinator drives one run's round pipeline: parameter broadcast, local
// training, collection with timeout, weighted aggregation, evaluation and
// metric aggregation. Rounds are strictly sequential; within a round's
// collect phases participant responses arrive concurrently and are joined
// with a bounded wait.
type Coordinator struct {
	runID    string
	cfg      RunConfig
	strategy fl.Strategy
	selector scheduler.Selector
	logger   *slog.Logger

	onPhase func(phase Phase, round int)
	onRound func(record RoundRecord, global fl.ParameterVector)
}

func NewCoordinator(runID string, cfg RunConfig, strategy fl.Strategy, selector scheduler.Selector, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		runID:    runID,
		cfg:      cfg.WithDefaults(),
		strategy: strategy,
		selector: selector,
		logger:   logger,
	}
}

// OnPhase registers a hook invoked at every phase transition.
func (c *Coordinator) OnPhase(fn func(phase Phase, round int)) {
	c.onPhase = fn
}

// OnRound registers a hook invoked once per closed round with the round
// record and the just-aggregated global parameters.
func (c *Coordinator) OnRound(fn func(record RoundRecord, global fl.ParameterVector)) {
	c.onRound = fn
}

func (c *Coordinator) transition(phase Phase, round int) {
	c.logger.Info("Round phase transition",
		slog.String("run_id", c.runID),
		slog.String("phase", string(phase)),
		slog.Int("round", round),
	)
	if c.onPhase != nil {
		c.onPhase(phase, round)
	}
}

// Execute runs the full round pipeline over the given participants and
// returns the final global parameters with the per-round history. On failure
// it returns the last successfully aggregated parameters, the history up to
// the failed round and the error, so callers never receive a degenerate
// model silently.
func (c *Coordinator) Execute(ctx context.Context, participants []fl.Participant) (fl.ParameterVector, []RoundRecord, error) {
	c.transition(PhaseInitializing, 0)

	global, err := c.initialParameters(ctx, participants)
	if err != nil {
		c.transition(PhaseTerminal, 0)

		return nil, nil, err
	}

	c.logger.Info("Shape signature established",
		slog.String("run_id", c.runID),
		slog.String("signature", global.Signature()),
	)

	history := make([]RoundRecord, 0, c.cfg.TotalRounds)

	for round := 1; round <= c.cfg.TotalRounds; round++ {
		if err := ctx.Err(); err != nil {
			c.transition(PhaseTerminal, round)

			return global, history, err
		}

		record, next, err := c.executeRound(ctx, round, global, participants)
		if err != nil {
			c.transition(PhaseTerminal, round)

			return global, history, fmt.Errorf("round %d failed: %w", round, err)
		}

		global = next
		history = append(history, record)
		if c.onRound != nil {
			c.onRound(record, global)
		}
	}

	c.transition(PhaseTerminal, c.cfg.TotalRounds)

	return global, history, nil
}

// initialParameters obtains the run's starting parameters by querying one
// participant, which guarantees the shape signature matches whatever
// architecture participants actually instantiate. Participants that fail the
// query are skipped in order until one answers.
func (c *Coordinator) initialParameters(ctx context.Context, participants []fl.Participant) (fl.ParameterVector, error) {
	if len(participants) == 0 {
		return nil, scheduler.ErrNoParticipants
	}

	var lastErr error
	for _, p := range participants {
		// Each query gets its own deadline so one unresponsive participant
		// cannot park the run in the initializing phase.
		qctx, cancel := context.WithTimeout(ctx, c.cfg.RoundTimeout)
		params, err := p.GetParameters(qctx)
		cancel()
		if err != nil {
			c.logger.Warn("Initial parameter query failed",
				slog.String("run_id", c.runID),
				slog.String("participant_id", p.ID()),
				slog.Any("error", err),
			)
			lastErr = err

			continue
		}
		if err := params.Validate(); err != nil {
			return nil, err
		}

		return params, nil
	}

	return nil, errors.Join(errors.New("no participant provided initial parameters"), lastErr)
}

// executeRound runs one round, retrying the fit phase up to MaxRoundRetries
// times when no viable results survive. The round never advances with stale
// parameters: either aggregation succeeds or the run fails.
func (c *Coordinator) executeRound(ctx context.Context, round int, global fl.ParameterVector, participants []fl.Participant) (RoundRecord, fl.ParameterVector, error) {
	var (
		selected     []fl.Participant
		next         fl.ParameterVector
		fitMetrics   map[string]float64
		fitFailures  []fl.Failure
		attemptsLeft = c.cfg.MaxRoundRetries + 1
		attempt      int
	)

	for {
		attempt++
		var err error
		selected, err = c.selector.Select(round, participants)
		if err != nil {
			return RoundRecord{}, nil, err
		}

		c.transition(PhaseFitDispatch, round)
		fitCfg := fl.FitConfig{
			Round:        round,
			Attempt:      attempt,
			Epochs:       c.cfg.Epochs,
			BatchSize:    c.cfg.BatchSize,
			LearningRate: c.cfg.LearningRate,
			ProximalMu:   c.cfg.ProximalMu,
		}

		c.transition(PhaseFitCollect, round)
		var entries []fl.FitEntry
		entries, fitFailures = c.collectFit(ctx, global, fitCfg, selected)

		c.transition(PhaseAggregating, round)
		next, fitMetrics, err = c.strategy.AggregateFit(round, entries, fitFailures)
		if err == nil {
			break
		}
		if !errors.Is(err, fl.ErrNoViableResults) {
			return RoundRecord{}, nil, err
		}

		attemptsLeft--
		if attemptsLeft <= 0 {
			return RoundRecord{}, nil, err
		}
		c.logger.Warn("No viable results, retrying round",
			slog.String("run_id", c.runID),
			slog.Int("round", round),
			slog.Int("attempts_left", attemptsLeft),
		)
	}

	// Strategies may report no fit metrics at all.
	if fitMetrics == nil {
		fitMetrics = make(map[string]float64)
	}

	record := RoundRecord{
		Round:       round,
		Selected:    participantIDs(selected),
		Excluded:    fitFailures,
		Metrics:     fitMetrics,
		CompletedAt: time.Now(),
	}

	c.transition(PhaseEvalDispatch, round)
	evalCfg := fl.EvalConfig{Round: round}

	c.transition(PhaseEvalCollect, round)
	evalEntries, evalFailures := c.collectEval(ctx, next, evalCfg, selected)

	c.transition(PhaseMetricsAggregating, round)
	loss, evalMetrics, err := c.strategy.AggregateEvaluate(round, evalEntries, evalFailures)
	switch {
	case err == nil:
		record.Loss = loss
		for name, v := range evalMetrics {
			record.Metrics[name] = v
		}
		record.Excluded = append(record.Excluded, evalFailures...)
	case errors.Is(err, fl.ErrNoViableResults):
		// Evaluation is observability only; a fully skipped evaluation phase
		// does not fail the round.
		c.logger.Warn("No viable evaluation results this round",
			slog.String("run_id", c.runID),
			slog.Int("round", round),
		)
		record.Excluded = append(record.Excluded, evalFailures...)
	default:
		return RoundRecord{}, nil, err
	}

	record.CompletedAt = time.Now()

	return record, next, nil
}

type fitOutcome struct {
	participantID string
	entry         fl.FitEntry
	err           error
}

// collectFit broadcasts the global parameters to every selected participant
// and joins the responses with a bounded wait. Participants that error or
// miss the deadline become failures; a result arriving after the deadline is
// discarded, never retroactively merged.
func (c *Coordinator) collectFit(ctx context.Context, global fl.ParameterVector, cfg fl.FitConfig, selected []fl.Participant) ([]fl.FitEntry, []fl.Failure) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.RoundTimeout)
	defer cancel()

	outcomes := make(chan fitOutcome, len(selected))
	for _, p := range selected {
		go func(p fl.Participant) {
			result, err := p.Fit(cctx, global.Clone(), cfg)
			if err != nil {
				outcomes <- fitOutcome{participantID: p.ID(), err: err}

				return
			}
			outcomes <- fitOutcome{
				participantID: p.ID(),
				entry: fl.FitEntry{
					ParticipantID: p.ID(),
					Result:        result,
					ReceivedAt:    time.Now(),
				},
			}
		}(p)
	}

	entries := make(map[string]fl.FitEntry, len(selected))
	var failures []fl.Failure
	remaining := len(selected)
	for remaining > 0 {
		select {
		case o := <-outcomes:
			remaining--
			if o.err != nil {
				failures = append(failures, failureFor(o.participantID, o.err))

				continue
			}
			entries[o.participantID] = o.entry
		case <-cctx.Done():
			for id := range pendingIDs(selected, entries, failures) {
				failures = append(failures, failureFor(id, fl.ErrParticipantTimeout))
			}
			remaining = 0
		}
	}

	// Rebuild in selection order: aggregation is order-independent, but a
	// deterministic sequence keeps logs and tests reproducible.
	ordered := make([]fl.FitEntry, 0, len(entries))
	for _, p := range selected {
		if e, ok := entries[p.ID()]; ok {
			ordered = append(ordered, e)
		}
	}

	return ordered, failures
}

type evalOutcome struct {
	participantID string
	entry         fl.EvalEntry
	err           error
}

func (c *Coordinator) collectEval(ctx context.Context, global fl.ParameterVector, cfg fl.EvalConfig, selected []fl.Participant) ([]fl.EvalEntry, []fl.Failure) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.RoundTimeout)
	defer cancel()

	outcomes := make(chan evalOutcome, len(selected))
	for _, p := range selected {
		go func(p fl.Participant) {
			result, err := p.Evaluate(cctx, global.Clone(), cfg)
			if err != nil {
				outcomes <- evalOutcome{participantID: p.ID(), err: err}

				return
			}
			outcomes <- evalOutcome{
				participantID: p.ID(),
				entry: fl.EvalEntry{
					ParticipantID: p.ID(),
					Result:        result,
					ReceivedAt:    time.Now(),
				},
			}
		}(p)
	}

	entries := make(map[string]fl.EvalEntry, len(selected))
	var failures []fl.Failure
	remaining := len(selected)
	for remaining > 0 {
		select {
		case o := <-outcomes:
			remaining--
			if o.err != nil {
				failures = append(failures, failureFor(o.participantID, o.err))

				continue
			}
			entries[o.participantID] = o.entry
		case <-cctx.Done():
			for id := range pendingEvalIDs(selected, entries, failures) {
				failures = append(failures, failureFor(id, fl.ErrParticipantTimeout))
			}
			remaining = 0
		}
	}

	ordered := make([]fl.EvalEntry, 0, len(entries))
	for _, p := range selected {
		if e, ok := entries[p.ID()]; ok {
			ordered = append(ordered, e)
		}
	}

	return ordered, failures
}

func failureFor(participantID string, err error) fl.Failure {
	return fl.Failure{
		ParticipantID: participantID,
		Err:           err,
		Reason:        err.Error(),
	}
}

func pendingIDs(selected []fl.Participant, entries map[string]fl.FitEntry, failures []fl.Failure) map[string]struct{} {
	resolved := make(map[string]struct{}, len(entries)+len(failures))
	for id := range entries {
		resolved[id] = struct{}{}
	}
	for _, f := range failures {
		resolved[f.ParticipantID] = struct{}{}
	}

	pending := make(map[string]struct{})
	for _, p := range selected {
		if _, ok := resolved[p.ID()]; !ok {
			pending[p.ID()] = struct{}{}
		}
	}

	return pending
}

func pendingEvalIDs(selected []fl.Participant, entries map[string]fl.EvalEntry, failures []fl.Failure) map[string]struct{} {
	resolved := make(map[string]struct{}, len(entries)+len(failures))
	for id := range entries {
		resolved[id] = struct{}{}
	}
	for _, f := range failures {
		resolved[f.ParticipantID] = struct{}{}
	}

	pending := make(map[string]struct{})
	for _, p := range selected {
		if _, ok := resolved[p.ID()]; !ok {
			pending[p.ID()] = struct{}{}
		}
	}

	return pending
}

func participantIDs(participants []fl.Participant) []string {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID()
	}

	return ids
}
