package participant

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/amlnet/federator/pkg/fl"
)

// Class weights for the imbalance-aware loss. Confirmed illicit activity is
// extremely rare, so suspicious labels are weighted 100:1 against clean ones.
const (
	positiveClassWeight = 1.0
	negativeClassWeight = 0.01
)

// Model is a compact feed-forward binary classifier: one ReLU hidden layer
// into a sigmoid output, trained with weighted binary cross-entropy by
// mini-batch SGD. Deterministic given a fixed seed and fixed data.
type Model struct {
	inputDim  int
	hiddenDim int

	w1 []float64 // inputDim x hiddenDim, row-major
	b1 []float64 // hiddenDim
	w2 []float64 // hiddenDim
	b2 []float64 // 1

	rng *rand.Rand
}

func NewModel(inputDim, hiddenDim int, seed int64) *Model {
	m := &Model{
		inputDim:  inputDim,
		hiddenDim: hiddenDim,
		w1:        make([]float64, inputDim*hiddenDim),
		b1:        make([]float64, hiddenDim),
		w2:        make([]float64, hiddenDim),
		b2:        make([]float64, 1),
		rng:       rand.New(rand.NewSource(seed)),
	}

	scale1 := math.Sqrt(2.0 / float64(inputDim))
	for i := range m.w1 {
		m.w1[i] = m.rng.NormFloat64() * scale1
	}
	scale2 := math.Sqrt(2.0 / float64(hiddenDim))
	for i := range m.w2 {
		m.w2[i] = m.rng.NormFloat64() * scale2
	}

	return m
}

// Parameters returns the model's trainable weights as an ordered tensor
// sequence. The order (w1, b1, w2, b2) is part of the run's shape signature.
func (m *Model) Parameters() fl.ParameterVector {
	return fl.ParameterVector{
		{Shape: []int{m.inputDim, m.hiddenDim}, Data: append([]float64(nil), m.w1...)},
		{Shape: []int{m.hiddenDim}, Data: append([]float64(nil), m.b1...)},
		{Shape: []int{m.hiddenDim, 1}, Data: append([]float64(nil), m.w2...)},
		{Shape: []int{1}, Data: append([]float64(nil), m.b2...)},
	}
}

// SetParameters replaces the model weights. The vector must match the model's
// shape signature exactly.
func (m *Model) SetParameters(pv fl.ParameterVector) error {
	if err := pv.Validate(); err != nil {
		return err
	}
	if !pv.MatchesSignature(m.Parameters()) {
		return fmt.Errorf("%w: got %s, model expects %s", fl.ErrShapeMismatch, pv.Signature(), m.Parameters().Signature())
	}

	copy(m.w1, pv[0].Data)
	copy(m.b1, pv[1].Data)
	copy(m.w2, pv[2].Data)
	copy(m.b2, pv[3].Data)

	return nil
}

// Predict returns the suspicion probability for one feature row.
func (m *Model) Predict(x []float64) float64 {
	hidden := make([]float64, m.hiddenDim)
	m.forward(x, hidden)

	z := m.b2[0]
	for j, h := range hidden {
		z += h * m.w2[j]
	}

	return sigmoid(z)
}

// Scores returns suspicion probabilities for every row.
func (m *Model) Scores(features [][]float64) []float64 {
	scores := make([]float64, len(features))
	for i, x := range features {
		scores[i] = m.Predict(x)
	}

	return scores
}

// Loss is the weighted binary cross-entropy over the given set.
func (m *Model) Loss(features [][]float64, labels []int) float64 {
	if len(features) == 0 {
		return 0
	}

	var total float64
	for i, x := range features {
		p := clampProb(m.Predict(x))
		w := negativeClassWeight
		if labels[i] > 0 {
			w = positiveClassWeight
			total += -w * math.Log(p)
		} else {
			total += -w * math.Log(1-p)
		}
	}

	return total / float64(len(features))
}

// Train runs cfg.Epochs passes of mini-batch SGD with the weighted loss. When
// cfg.ProximalMu > 0 a proximal term pulls each weight toward its value in
// the broadcast global parameters, which stabilizes convergence on
// heterogeneous bank data.
func (m *Model) Train(features [][]float64, labels []int, cfg fl.FitConfig) {
	if len(features) == 0 || cfg.Epochs <= 0 {
		return
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = 0.01
	}

	// Anchor for the proximal term: the weights as broadcast this round.
	var g1, gb1, g2, gb2 []float64
	if cfg.ProximalMu > 0 {
		g1 = append([]float64(nil), m.w1...)
		gb1 = append([]float64(nil), m.b1...)
		g2 = append([]float64(nil), m.w2...)
		gb2 = append([]float64(nil), m.b2...)
	}

	order := make([]int, len(features))
	for i := range order {
		order[i] = i
	}

	dw1 := make([]float64, len(m.w1))
	db1 := make([]float64, len(m.b1))
	dw2 := make([]float64, len(m.w2))
	db2 := make([]float64, 1)
	hidden := make([]float64, m.hiddenDim)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		m.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		for start := 0; start < len(order); start += batchSize {
			end := start + batchSize
			if end > len(order) {
				end = len(order)
			}
			batch := order[start:end]

			zero(dw1)
			zero(db1)
			zero(dw2)
			zero(db2)

			for _, idx := range batch {
				x := features[idx]
				y := 0.0
				w := negativeClassWeight
				if labels[idx] > 0 {
					y = 1.0
					w = positiveClassWeight
				}

				m.forward(x, hidden)
				z := m.b2[0]
				for j, h := range hidden {
					z += h * m.w2[j]
				}
				p := sigmoid(z)

				// d(weighted BCE)/dz for the output logit.
				dz2 := w * (p - y)
				db2[0] += dz2
				for j, h := range hidden {
					dw2[j] += dz2 * h
					if hidden[j] > 0 {
						dz1 := dz2 * m.w2[j]
						db1[j] += dz1
						for i, xi := range x {
							dw1[i*m.hiddenDim+j] += dz1 * xi
						}
					}
				}
			}

			n := float64(len(batch))
			for i := range m.w1 {
				grad := dw1[i] / n
				if cfg.ProximalMu > 0 {
					grad += cfg.ProximalMu * (m.w1[i] - g1[i])
				}
				m.w1[i] -= lr * grad
			}
			for i := range m.b1 {
				grad := db1[i] / n
				if cfg.ProximalMu > 0 {
					grad += cfg.ProximalMu * (m.b1[i] - gb1[i])
				}
				m.b1[i] -= lr * grad
			}
			for i := range m.w2 {
				grad := dw2[i] / n
				if cfg.ProximalMu > 0 {
					grad += cfg.ProximalMu * (m.w2[i] - g2[i])
				}
				m.w2[i] -= lr * grad
			}
			grad := db2[0] / n
			if cfg.ProximalMu > 0 {
				grad += cfg.ProximalMu * (m.b2[0] - gb2[0])
			}
			m.b2[0] -= lr * grad
		}
	}
}

func (m *Model) forward(x []float64, hidden []float64) {
	for j := 0; j < m.hiddenDim; j++ {
		z := m.b1[j]
		for i, xi := range x {
			z += xi * m.w1[i*m.hiddenDim+j]
		}
		if z > 0 {
			hidden[j] = z
		} else {
			hidden[j] = 0
		}
	}
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func clampProb(p float64) float64 {
	const eps = 1e-12
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}

	return p
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}
