package aggregator

import (
	"context"
	"fmt"
	"sync"

	"github.com/amlnet/federator/participant"
	"github.com/amlnet/federator/pkg/fl"
	"github.com/amlnet/federator/pkg/mqtt"
)

// pendingResponses routes result messages arriving on the shared result
// topics back to the in-flight request that is waiting for them. Keys are
// runID|participantID for parameter fetches, runID|round|attempt|participantID
// for fit calls and runID|round|participantID for evaluate calls, so stale
// responses from earlier rounds or earlier dispatch attempts never reach a
// later waiter.
type pendingResponses struct {
	mu     sync.Mutex
	params map[string]chan participant.ParamsResponse
	fit    map[string]chan participant.FitResponse
	eval   map[string]chan participant.EvalResponse
}

func newPendingResponses() *pendingResponses {
	return &pendingResponses{
		params: make(map[string]chan participant.ParamsResponse),
		fit:    make(map[string]chan participant.FitResponse),
		eval:   make(map[string]chan participant.EvalResponse),
	}
}

func paramsKey(runID, participantID string) string {
	return fmt.Sprintf("%s|%s", runID, participantID)
}

func roundKey(runID string, round int, participantID string) string {
	return fmt.Sprintf("%s|%d|%s", runID, round, participantID)
}

func fitKey(runID string, round, attempt int, participantID string) string {
	return fmt.Sprintf("%s|%d|%d|%s", runID, round, attempt, participantID)
}

func (p *pendingResponses) awaitParams(key string) chan participant.ParamsResponse {
	ch := make(chan participant.ParamsResponse, 1)
	p.mu.Lock()
	p.params[key] = ch
	p.mu.Unlock()

	return ch
}

func (p *pendingResponses) awaitFit(key string) chan participant.FitResponse {
	ch := make(chan participant.FitResponse, 1)
	p.mu.Lock()
	p.fit[key] = ch
	p.mu.Unlock()

	return ch
}

func (p *pendingResponses) awaitEval(key string) chan participant.EvalResponse {
	ch := make(chan participant.EvalResponse, 1)
	p.mu.Lock()
	p.eval[key] = ch
	p.mu.Unlock()

	return ch
}

func (p *pendingResponses) dropParams(key string) {
	p.mu.Lock()
	delete(p.params, key)
	p.mu.Unlock()
}

func (p *pendingResponses) dropFit(key string) {
	p.mu.Lock()
	delete(p.fit, key)
	p.mu.Unlock()
}

func (p *pendingResponses) dropEval(key string) {
	p.mu.Lock()
	delete(p.eval, key)
	p.mu.Unlock()
}

// deliverParams hands the response to its waiter, if one is still
// registered. Late responses find no waiter and are discarded.
func (p *pendingResponses) deliverParams(resp participant.ParamsResponse) bool {
	key := paramsKey(resp.RunID, resp.ParticipantID)
	p.mu.Lock()
	ch, ok := p.params[key]
	if ok {
		delete(p.params, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp

	return true
}

func (p *pendingResponses) deliverFit(resp participant.FitResponse) bool {
	key := fitKey(resp.RunID, resp.Round, resp.Attempt, resp.ParticipantID)
	p.mu.Lock()
	ch, ok := p.fit[key]
	if ok {
		delete(p.fit, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp

	return true
}

func (p *pendingResponses) deliverEval(resp participant.EvalResponse) bool {
	key := roundKey(resp.RunID, resp.Round, resp.ParticipantID)
	p.mu.Lock()
	ch, ok := p.eval[key]
	if ok {
		delete(p.eval, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp

	return true
}

// remoteParticipant exposes a bank's training agent, reachable only over
// MQTT, through the in-process Participant interface the coordinator
// drives. Each call publishes a request on the bank's request topic and
// blocks until the matching result arrives or the context expires.
type remoteParticipant struct {
	id           string
	runID        string
	federationID string
	pubsub       mqtt.PubSub
	pending      *pendingResponses
}

var _ fl.Participant = (*remoteParticipant)(nil)

func (r *remoteParticipant) ID() string {
	return r.id
}

func (r *remoteParticipant) GetParameters(ctx context.Context) (fl.ParameterVector, error) {
	key := paramsKey(r.runID, r.id)
	ch := r.pending.awaitParams(key)
	defer r.pending.dropParams(key)

	topic := fmt.Sprintf(participant.ParamsRequestTopicTemplate, r.federationID, r.id)
	if err := r.pubsub.PublishCBOR(ctx, topic, participant.ParamsRequest{RunID: r.runID}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fl.ErrorFromWire(resp.Error)
		}

		return resp.Parameters, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *remoteParticipant) Fit(ctx context.Context, params fl.ParameterVector, cfg fl.FitConfig) (fl.FitResult, error) {
	key := fitKey(r.runID, cfg.Round, cfg.Attempt, r.id)
	ch := r.pending.awaitFit(key)
	defer r.pending.dropFit(key)

	topic := fmt.Sprintf(participant.FitRequestTopicTemplate, r.federationID, r.id)
	req := participant.FitRequest{RunID: r.runID, Parameters: params, Config: cfg}
	if err := r.pubsub.PublishCBOR(ctx, topic, req); err != nil {
		return fl.FitResult{}, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return fl.FitResult{}, fl.ErrorFromWire(resp.Error)
		}

		return resp.Result, nil
	case <-ctx.Done():
		return fl.FitResult{}, ctx.Err()
	}
}

func (r *remoteParticipant) Evaluate(ctx context.Context, params fl.ParameterVector, cfg fl.EvalConfig) (fl.EvaluateResult, error) {
	key := roundKey(r.runID, cfg.Round, r.id)
	ch := r.pending.awaitEval(key)
	defer r.pending.dropEval(key)

	topic := fmt.Sprintf(participant.EvalRequestTopicTemplate, r.federationID, r.id)
	req := participant.EvalRequest{RunID: r.runID, Parameters: params, Config: cfg}
	if err := r.pubsub.PublishCBOR(ctx, topic, req); err != nil {
		return fl.EvaluateResult{}, err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return fl.EvaluateResult{}, fl.ErrorFromWire(resp.Error)
		}

		return resp.Result, nil
	case <-ctx.Done():
		return fl.EvaluateResult{}, ctx.Err()
	}
}
