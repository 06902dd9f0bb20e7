package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/amlnet/federator/pkg/fl"
	pkgmqtt "github.com/amlnet/federator/pkg/mqtt"
)

const livelinessInterval = 10 * time.Second

// Service is the networked bank agent: it announces itself to the
// federation, listens for fit/evaluate dispatches addressed to it and
// publishes results back to the aggregator's collection topics.
type Service struct {
	federationID string
	bankID       string
	agent        *Agent
	pubsub       pkgmqtt.PubSub
	logger       *slog.Logger
}

func NewService(federationID, bankID string, agent *Agent, pubsub pkgmqtt.PubSub, logger *slog.Logger) *Service {
	return &Service{
		federationID: federationID,
		bankID:       bankID,
		agent:        agent,
		pubsub:       pubsub,
		logger:       logger,
	}
}

func (s *Service) Run(ctx context.Context) error {
	joinTopic := fmt.Sprintf(JoinTopicTemplate, s.federationID)
	announcement := Announcement{ParticipantID: s.bankID, Status: StatusOnline}
	if err := s.pubsub.Publish(ctx, joinTopic, announcement); err != nil {
		return errors.Join(errors.New("failed to announce participant"), err)
	}

	topic := fmt.Sprintf(ParamsRequestTopicTemplate, s.federationID, s.bankID)
	if err := s.pubsub.Subscribe(ctx, topic, s.handleParamsRequest(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to params topic: %w", err)
	}

	topic = fmt.Sprintf(FitRequestTopicTemplate, s.federationID, s.bankID)
	if err := s.pubsub.Subscribe(ctx, topic, s.handleFitRequest(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to fit topic: %w", err)
	}

	topic = fmt.Sprintf(EvalRequestTopicTemplate, s.federationID, s.bankID)
	if err := s.pubsub.Subscribe(ctx, topic, s.handleEvalRequest(ctx)); err != nil {
		return fmt.Errorf("failed to subscribe to eval topic: %w", err)
	}

	go s.startLivelinessUpdates(ctx)

	s.logger.Info("Participant agent running",
		slog.String("federation_id", s.federationID),
		slog.String("bank_id", s.bankID),
	)

	<-ctx.Done()

	return s.pubsub.Disconnect(context.Background())
}

func (s *Service) startLivelinessUpdates(ctx context.Context) {
	ticker := time.NewTicker(livelinessInterval)
	defer ticker.Stop()

	topic := fmt.Sprintf(AliveTopicTemplate, s.federationID)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping liveliness updates")

			return
		case <-ticker.C:
			announcement := Announcement{ParticipantID: s.bankID, Status: StatusAlive}
			if err := s.pubsub.Publish(ctx, topic, announcement); err != nil {
				s.logger.Error("failed to publish liveliness message", slog.Any("error", err))
			}
		}
	}
}

func (s *Service) handleParamsRequest(ctx context.Context) pkgmqtt.Handler {
	return func(_ string, payload []byte) error {
		var req ParamsRequest
		if err := cbor.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("failed to decode params request: %w", err)
		}

		resp := ParamsResponse{
			RunID:         req.RunID,
			ParticipantID: s.bankID,
		}
		params, err := s.agent.GetParameters(ctx)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Parameters = params
		}

		topic := fmt.Sprintf(ParamsResultTopicTemplate, s.federationID)

		return s.pubsub.PublishCBOR(ctx, topic, resp)
	}
}

func (s *Service) handleFitRequest(ctx context.Context) pkgmqtt.Handler {
	return func(_ string, payload []byte) error {
		var req FitRequest
		if err := cbor.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("failed to decode fit request: %w", err)
		}

		s.logger.Info("Local training started",
			slog.String("run_id", req.RunID),
			slog.Int("round", req.Config.Round),
			slog.Int("epochs", req.Config.Epochs),
		)

		resp := FitResponse{
			RunID:         req.RunID,
			Round:         req.Config.Round,
			Attempt:       req.Config.Attempt,
			ParticipantID: s.bankID,
		}
		result, err := s.agent.Fit(ctx, req.Parameters, req.Config)
		if err != nil {
			s.logger.Warn("Local training failed",
				slog.String("run_id", req.RunID),
				slog.Int("round", req.Config.Round),
				slog.Any("error", err),
			)
			resp.Error = err.Error()
		} else {
			resp.Result = result
			s.logger.Info("Local training completed",
				slog.String("run_id", req.RunID),
				slog.Int("round", req.Config.Round),
				slog.Int("num_samples", result.NumSamples),
				slog.Float64(fl.MetricLocalTrainAUC, result.Metrics[fl.MetricLocalTrainAUC]),
			)
		}

		topic := fmt.Sprintf(FitResultTopicTemplate, s.federationID)

		return s.pubsub.PublishCBOR(ctx, topic, resp)
	}
}

func (s *Service) handleEvalRequest(ctx context.Context) pkgmqtt.Handler {
	return func(_ string, payload []byte) error {
		var req EvalRequest
		if err := cbor.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("failed to decode eval request: %w", err)
		}

		resp := EvalResponse{
			RunID:         req.RunID,
			Round:         req.Config.Round,
			ParticipantID: s.bankID,
		}
		result, err := s.agent.Evaluate(ctx, req.Parameters, req.Config)
		if err != nil {
			s.logger.Warn("Local evaluation skipped",
				slog.String("run_id", req.RunID),
				slog.Int("round", req.Config.Round),
				slog.Any("error", err),
			)
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}

		topic := fmt.Sprintf(EvalResultTopicTemplate, s.federationID)

		return s.pubsub.PublishCBOR(ctx, topic, resp)
	}
}
