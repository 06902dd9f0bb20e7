package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/amlnet/federator/participant"
)

// Subscribe attaches the service to the federation's control and result
// topics. It must be called once before any run starts.
func (svc *service) Subscribe(ctx context.Context) error {
	subs := map[string]func(topic string, payload []byte) error{
		fmt.Sprintf(participant.JoinTopicTemplate, svc.federationID):    svc.handleAnnouncement,
		fmt.Sprintf(participant.AliveTopicTemplate, svc.federationID):   svc.handleAnnouncement,
		fmt.Sprintf(participant.OfflineTopicTemplate, svc.federationID): svc.handleAnnouncement,

		fmt.Sprintf(participant.ParamsResultTopicTemplate, svc.federationID): svc.handleParamsResult,
		fmt.Sprintf(participant.FitResultTopicTemplate, svc.federationID):    svc.handleFitResult,
		fmt.Sprintf(participant.EvalResultTopicTemplate, svc.federationID):   svc.handleEvalResult,
	}

	for topic, handler := range subs {
		if err := svc.pubsub.Subscribe(ctx, topic, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}

	return nil
}

func (svc *service) handleAnnouncement(topic string, payload []byte) error {
	var ann participant.Announcement
	if err := json.Unmarshal(payload, &ann); err != nil {
		return fmt.Errorf("invalid announcement payload: %w", err)
	}
	if ann.ParticipantID == "" {
		return fmt.Errorf("announcement without participant ID on %s", topic)
	}

	online := ann.Status != participant.StatusOffline

	svc.mu.Lock()
	reg, ok := svc.participants[ann.ParticipantID]
	if !ok {
		// An offline announcement for an ID that never joined does not
		// register a participant. Brokers replay last wills for clients that
		// are not bank agents.
		if !online {
			svc.mu.Unlock()
			svc.logger.Debug("Ignoring offline announcement for unknown participant",
				slog.String("participant_id", ann.ParticipantID),
			)

			return nil
		}
		reg = &registration{id: ann.ParticipantID}
		svc.participants[ann.ParticipantID] = reg
	}
	reg.online = online
	reg.lastSeen = time.Now()
	svc.mu.Unlock()

	if !ok {
		svc.logger.Info("Participant joined federation",
			slog.String("participant_id", ann.ParticipantID),
		)
	}
	if !online {
		svc.logger.Warn("Participant went offline",
			slog.String("participant_id", ann.ParticipantID),
		)
	}

	return nil
}

func (svc *service) handleParamsResult(_ string, payload []byte) error {
	var resp participant.ParamsResponse
	if err := cbor.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("invalid parameters result payload: %w", err)
	}

	if !svc.pending.deliverParams(resp) {
		svc.logger.Debug("Discarding late parameters result",
			slog.String("run_id", resp.RunID),
			slog.String("participant_id", resp.ParticipantID),
		)
	}

	return nil
}

func (svc *service) handleFitResult(_ string, payload []byte) error {
	var resp participant.FitResponse
	if err := cbor.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("invalid fit result payload: %w", err)
	}

	if !svc.pending.deliverFit(resp) {
		svc.logger.Debug("Discarding late fit result",
			slog.String("run_id", resp.RunID),
			slog.Int("round", resp.Round),
			slog.String("participant_id", resp.ParticipantID),
		)
	}

	return nil
}

func (svc *service) handleEvalResult(_ string, payload []byte) error {
	var resp participant.EvalResponse
	if err := cbor.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("invalid evaluate result payload: %w", err)
	}

	if !svc.pending.deliverEval(resp) {
		svc.logger.Debug("Discarding late evaluate result",
			slog.String("run_id", resp.RunID),
			slog.Int("round", resp.Round),
			slog.String("participant_id", resp.ParticipantID),
		)
	}

	return nil
}
