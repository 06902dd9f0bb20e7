package api

import (
	apiutil "github.com/absmach/supermq/api/http/util"

	"github.com/amlnet/federator/aggregator"
)

type runReq struct {
	aggregator.Run `json:",inline"`
}

func (r *runReq) validate() error {
	if r.Config.TotalRounds < 0 {
		return apiutil.ErrValidation
	}

	return nil
}

type entityReq struct {
	id string
}

func (e *entityReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (e *listEntityReq) validate() error {
	return nil
}

type listRunEntityReq struct {
	id            string
	offset, limit uint64
}

func (e *listRunEntityReq) validate() error {
	if e.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}
