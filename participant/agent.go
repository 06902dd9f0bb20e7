package participant

import (
	"context"
	"errors"
	"sync"

	"github.com/amlnet/federator/pkg/fl"
	"github.com/amlnet/federator/pkg/metrics"
)

// Agent owns one bank's local dataset partition and model. It satisfies
// fl.Participant directly, so it serves both as the in-process simulated bank
// used in tests and as the engine behind the MQTT-connected Service.
type Agent struct {
	id    string
	mu    sync.Mutex
	model *Model
	split Split
}

var _ fl.Participant = (*Agent)(nil)

func NewAgent(id string, model *Model, split Split) *Agent {
	return &Agent{
		id:    id,
		model: model,
		split: split,
	}
}

func (a *Agent) ID() string {
	return a.id
}

func (a *Agent) GetParameters(_ context.Context) (fl.ParameterVector, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.model.Parameters(), nil
}

func (a *Agent) Fit(_ context.Context, parameters fl.ParameterVector, cfg fl.FitConfig) (fl.FitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.model.SetParameters(parameters); err != nil {
		return fl.FitResult{}, err
	}

	a.model.Train(a.split.TrainFeatures, a.split.TrainLocal, cfg)

	result := fl.FitResult{
		Parameters: a.model.Parameters(),
		NumSamples: len(a.split.TrainFeatures),
		Metrics:    map[string]float64{},
	}

	scores := a.model.Scores(a.split.TrainFeatures)
	auc, err := metrics.ROCAUC(a.split.TrainLocal, scores)
	switch {
	case err == nil:
		result.Metrics[fl.MetricLocalTrainAUC] = auc
	case errors.Is(err, fl.ErrInsufficientLabelDiversity):
		// Single-class training partition: report no AUC rather than a
		// fabricated zero.
	default:
		return fl.FitResult{}, err
	}

	return result, nil
}

func (a *Agent) Evaluate(_ context.Context, parameters fl.ParameterVector, cfg fl.EvalConfig) (fl.EvaluateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.model.SetParameters(parameters); err != nil {
		return fl.EvaluateResult{}, err
	}

	scores := a.model.Scores(a.split.TestFeatures)

	localAUC, err := metrics.ROCAUC(a.split.TestLocal, scores)
	if err != nil {
		// AUC against the bank's own label view is undefined, so the whole
		// evaluation is a skip for this round.
		return fl.EvaluateResult{}, err
	}

	result := fl.EvaluateResult{
		NumSamples: len(a.split.TestFeatures),
		Loss:       a.model.Loss(a.split.TestFeatures, a.split.TestLocal),
		Metrics: map[string]float64{
			fl.MetricLocalAUC: localAUC,
		},
	}

	globalAUC, err := metrics.ROCAUC(a.split.TestGlobal, scores)
	switch {
	case err == nil:
		result.Metrics[fl.MetricGlobalAUC] = globalAUC
	case errors.Is(err, fl.ErrInsufficientLabelDiversity):
		// Cross-scenario labels can be single-class even when local labels
		// are not; only the global metric is dropped.
	default:
		return fl.EvaluateResult{}, err
	}

	return result, nil
}
