package participant_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amlnet/federator/participant"
	"github.com/amlnet/federator/pkg/fl"
)

func TestModelParameterShapes(t *testing.T) {
	t.Parallel()

	m := participant.NewModel(14, 32, 1)
	pv := m.Parameters()

	require.Len(t, pv, 4)
	assert.Equal(t, "14x32,32,32x1,1", pv.Signature())
	require.NoError(t, pv.Validate())
}

func TestSetParametersRoundTrip(t *testing.T) {
	t.Parallel()

	src := participant.NewModel(4, 8, 1)
	dst := participant.NewModel(4, 8, 2)

	require.NoError(t, dst.SetParameters(src.Parameters()))
	assert.Equal(t, src.Parameters(), dst.Parameters())
}

func TestSetParametersShapeMismatch(t *testing.T) {
	t.Parallel()

	m := participant.NewModel(4, 8, 1)
	other := participant.NewModel(5, 8, 1)

	err := m.SetParameters(other.Parameters())
	assert.ErrorIs(t, err, fl.ErrShapeMismatch)
}

func TestSetParametersCorruptBuffer(t *testing.T) {
	t.Parallel()

	m := participant.NewModel(4, 8, 1)
	pv := m.Parameters()
	pv[0].Data = pv[0].Data[:len(pv[0].Data)-1]

	assert.ErrorIs(t, m.SetParameters(pv), fl.ErrShapeMismatch)
}

func syntheticData(n, dim int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	features := make([][]float64, n)
	labels := make([]int, n)
	for i := range features {
		label := 0
		if rng.Float64() < 0.1 {
			label = 1
		}
		row := make([]float64, dim)
		for j := range row {
			row[j] = rng.NormFloat64()
			if label == 1 {
				row[j] += 2.0
			}
		}
		features[i] = row
		labels[i] = label
	}

	return features, labels
}

func TestTrainReducesLoss(t *testing.T) {
	t.Parallel()

	features, labels := syntheticData(500, 6, 7)
	m := participant.NewModel(6, 12, 7)

	before := m.Loss(features, labels)
	m.Train(features, labels, fl.FitConfig{
		Epochs:       20,
		BatchSize:    64,
		LearningRate: 0.05,
	})
	after := m.Loss(features, labels)

	assert.Less(t, after, before)
}

func TestTrainDeterministic(t *testing.T) {
	t.Parallel()

	features, labels := syntheticData(200, 4, 11)
	cfg := fl.FitConfig{Epochs: 5, BatchSize: 32, LearningRate: 0.05}

	m1 := participant.NewModel(4, 8, 3)
	m1.Train(features, labels, cfg)

	m2 := participant.NewModel(4, 8, 3)
	m2.Train(features, labels, cfg)

	assert.Equal(t, m1.Parameters(), m2.Parameters())
}

func TestProximalTermKeepsWeightsCloser(t *testing.T) {
	t.Parallel()

	features, labels := syntheticData(500, 6, 13)
	cfg := fl.FitConfig{Epochs: 20, BatchSize: 64, LearningRate: 0.1}

	free := participant.NewModel(6, 12, 5)
	anchor := free.Parameters().Clone()
	free.Train(features, labels, cfg)

	proximal := participant.NewModel(6, 12, 5)
	cfg.ProximalMu = 10.0
	proximal.Train(features, labels, cfg)

	freeDist := paramDistance(anchor, free.Parameters())
	proximalDist := paramDistance(anchor, proximal.Parameters())

	assert.Less(t, proximalDist, freeDist)
}

func paramDistance(a, b fl.ParameterVector) float64 {
	var d float64
	for i := range a {
		for j := range a[i].Data {
			diff := a[i].Data[j] - b[i].Data[j]
			d += diff * diff
		}
	}

	return d
}

func TestPredictBounded(t *testing.T) {
	t.Parallel()

	m := participant.NewModel(3, 6, 1)
	p := m.Predict([]float64{100, -100, 0})
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)
}
