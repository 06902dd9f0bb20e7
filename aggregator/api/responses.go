package api

import (
	"net/http"

	"github.com/absmach/supermq"

	"github.com/amlnet/federator/aggregator"
	"github.com/amlnet/federator/pkg/fl"
)

var (
	_ supermq.Response = (*runResponse)(nil)
	_ supermq.Response = (*listRunResponse)(nil)
	_ supermq.Response = (*modelResponse)(nil)
	_ supermq.Response = (*metricsResponse)(nil)
	_ supermq.Response = (*listParticipantResponse)(nil)
)

type runResponse struct {
	aggregator.Run
	created bool
	deleted bool
}

func (r runResponse) Code() int {
	if r.created {
		return http.StatusCreated
	}
	if r.deleted {
		return http.StatusNoContent
	}

	return http.StatusOK
}

func (r runResponse) Headers() map[string]string {
	if r.created {
		return map[string]string{
			"Location": "/runs/" + r.ID,
		}
	}

	return map[string]string{}
}

func (r runResponse) Empty() bool {
	return r.deleted
}

type listRunResponse struct {
	aggregator.RunPage
}

func (l listRunResponse) Code() int {
	return http.StatusOK
}

func (l listRunResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listRunResponse) Empty() bool {
	return false
}

type startStopResponse struct{}

func (s startStopResponse) Code() int {
	return http.StatusAccepted
}

func (s startStopResponse) Headers() map[string]string {
	return map[string]string{}
}

func (s startStopResponse) Empty() bool {
	return true
}

type modelResponse struct {
	RunID      string             `json:"run_id"`
	Parameters fl.ParameterVector `json:"parameters"`
}

func (m modelResponse) Code() int {
	return http.StatusOK
}

func (m modelResponse) Headers() map[string]string {
	return map[string]string{}
}

func (m modelResponse) Empty() bool {
	return false
}

type metricsResponse struct {
	aggregator.MetricsPage
}

func (m metricsResponse) Code() int {
	return http.StatusOK
}

func (m metricsResponse) Headers() map[string]string {
	return map[string]string{}
}

func (m metricsResponse) Empty() bool {
	return false
}

type listParticipantResponse struct {
	aggregator.ParticipantPage
}

func (l listParticipantResponse) Code() int {
	return http.StatusOK
}

func (l listParticipantResponse) Headers() map[string]string {
	return map[string]string{}
}

func (l listParticipantResponse) Empty() bool {
	return false
}
