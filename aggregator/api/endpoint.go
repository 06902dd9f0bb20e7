package api

import (
	"context"
	"errors"

	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"

	"github.com/amlnet/federator/aggregator"
	pkgerrors "github.com/amlnet/federator/pkg/errors"
)

func createRunEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(runReq)
		if !ok {
			return runResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		run, err := svc.CreateRun(ctx, req.Run)
		if err != nil {
			return runResponse{}, err
		}

		return runResponse{
			Run:     run,
			created: true,
		}, nil
	}
}

func getRunEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return runResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		run, err := svc.GetRun(ctx, req.id)
		if err != nil {
			return runResponse{}, err
		}

		return runResponse{
			Run: run,
		}, nil
	}
}

func listRunsEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listRunResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listRunResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		runs, err := svc.ListRuns(ctx, req.offset, req.limit)
		if err != nil {
			return listRunResponse{}, err
		}

		return listRunResponse{
			RunPage: runs,
		}, nil
	}
}

func deleteRunEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return runResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return runResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.DeleteRun(ctx, req.id); err != nil {
			return runResponse{}, err
		}

		return runResponse{
			deleted: true,
		}, nil
	}
}

func startRunEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return startStopResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return startStopResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.StartRun(ctx, req.id); err != nil {
			return startStopResponse{}, err
		}

		return startStopResponse{}, nil
	}
}

func stopRunEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return startStopResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return startStopResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.StopRun(ctx, req.id); err != nil {
			return startStopResponse{}, err
		}

		return startStopResponse{}, nil
	}
}

func getRunModelEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return modelResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return modelResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		params, err := svc.GetRunModel(ctx, req.id)
		if err != nil {
			return modelResponse{}, err
		}

		return modelResponse{
			RunID:      req.id,
			Parameters: params,
		}, nil
	}
}

func getRunMetricsEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listRunEntityReq)
		if !ok {
			return metricsResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return metricsResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		metrics, err := svc.GetRunMetrics(ctx, req.id, req.offset, req.limit)
		if err != nil {
			return metricsResponse{}, err
		}

		return metricsResponse{
			MetricsPage: metrics,
		}, nil
	}
}

func listParticipantsEndpoint(svc aggregator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listParticipantResponse{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return listParticipantResponse{}, errors.Join(apiutil.ErrValidation, err)
		}

		participants, err := svc.ListParticipants(ctx, req.offset, req.limit)
		if err != nil {
			return listParticipantResponse{}, err
		}

		return listParticipantResponse{
			ParticipantPage: participants,
		}, nil
	}
}
