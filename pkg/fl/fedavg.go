package fl

import (
	"fmt"
)

// FedAvg implements sample-count-weighted federated averaging: participants
// with more local data have proportionally more influence on the global
// model. Equal sample counts degenerate to an unweighted mean with no special
// casing. The rule is commutative-associative, so the arrival order of
// results does not change the output beyond float64 accumulation.
type FedAvg struct{}

func NewFedAvg() Strategy {
	return &FedAvg{}
}

const aggregatedMetricPrefix = "avg_"

func (f *FedAvg) AggregateFit(round int, results []FitEntry, failures []Failure) (ParameterVector, map[string]float64, error) {
	survivors := surviveFit(results, failures)
	if len(survivors) == 0 {
		return nil, nil, fmt.Errorf("round %d: %w", round, ErrNoViableResults)
	}

	ref := survivors[0].Result.Parameters
	if err := ref.Validate(); err != nil {
		return nil, nil, err
	}
	for _, s := range survivors[1:] {
		if !ref.MatchesSignature(s.Result.Parameters) {
			return nil, nil, fmt.Errorf("%w: participant %s sent %s, expected %s",
				ErrShapeMismatch, s.ParticipantID, s.Result.Parameters.Signature(), ref.Signature())
		}
	}

	global := make(ParameterVector, len(ref))
	for i, t := range ref {
		global[i] = Tensor{
			Shape: append([]int(nil), t.Shape...),
			Data:  make([]float64, len(t.Data)),
		}
	}

	var totalWeight float64
	for _, s := range survivors {
		if s.Result.NumSamples <= 0 {
			return nil, nil, fmt.Errorf("participant %s reported non-positive sample count %d",
				s.ParticipantID, s.Result.NumSamples)
		}
		w := float64(s.Result.NumSamples)
		totalWeight += w
		for i, t := range s.Result.Parameters {
			for j, v := range t.Data {
				global[i].Data[j] += v * w
			}
		}
	}
	for i := range global {
		for j := range global[i].Data {
			global[i].Data[j] /= totalWeight
		}
	}

	metrics := make(map[string]float64)
	weights := make(map[string]float64)
	for _, s := range survivors {
		w := float64(s.Result.NumSamples)
		for name, v := range s.Result.Metrics {
			metrics[aggregatedMetricPrefix+name] += v * w
			weights[aggregatedMetricPrefix+name] += w
		}
	}
	for name := range metrics {
		metrics[name] /= weights[name]
	}

	return global, metrics, nil
}

func (f *FedAvg) AggregateEvaluate(round int, results []EvalEntry, failures []Failure) (float64, map[string]float64, error) {
	survivors := surviveEval(results, failures)
	if len(survivors) == 0 {
		return 0, nil, fmt.Errorf("round %d: %w", round, ErrNoViableResults)
	}

	var loss, totalWeight float64
	metrics := make(map[string]float64)
	weights := make(map[string]float64)
	for _, s := range survivors {
		w := float64(s.Result.NumSamples)
		totalWeight += w
		loss += s.Result.Loss * w
		// A participant that could not compute a metric simply omits it; the
		// weighted average runs over reporters only. A missing signal is not
		// evidence of zero discriminative power.
		for name, v := range s.Result.Metrics {
			metrics[aggregatedMetricPrefix+name] += v * w
			weights[aggregatedMetricPrefix+name] += w
		}
	}
	loss /= totalWeight
	for name := range metrics {
		metrics[name] /= weights[name]
	}

	return loss, metrics, nil
}

func surviveFit(results []FitEntry, failures []Failure) []FitEntry {
	failed := failureSet(failures)
	survivors := make([]FitEntry, 0, len(results))
	for _, r := range results {
		if _, ok := failed[r.ParticipantID]; !ok {
			survivors = append(survivors, r)
		}
	}

	return survivors
}

func surviveEval(results []EvalEntry, failures []Failure) []EvalEntry {
	failed := failureSet(failures)
	survivors := make([]EvalEntry, 0, len(results))
	for _, r := range results {
		if _, ok := failed[r.ParticipantID]; !ok {
			survivors = append(survivors, r)
		}
	}

	return survivors
}

func failureSet(failures []Failure) map[string]struct{} {
	set := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		set[f.ParticipantID] = struct{}{}
	}

	return set
}
