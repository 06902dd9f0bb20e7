package participant

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// Sample is one feature-encoded transaction. local_label is the scenario the
// owning bank detects itself; global_label covers scenarios detected anywhere
// in the consortium, so a bank can be scored on typologies it cannot see in
// its own labels.
type Sample struct {
	Features    []float64 `json:"features"`
	LocalLabel  int       `json:"local_label"`
	GlobalLabel int       `json:"global_label"`
}

// Dataset is the opaque tabular dataset handed to the agent by the data
// layer. Feature encoding happens upstream.
type Dataset struct {
	Samples []Sample
}

// BankDatasetPath resolves the conventional per-bank dataset file name.
func BankDatasetPath(dir, bankID string) string {
	return filepath.Join(dir, fmt.Sprintf("Bank_%s_transactions.json", bankID))
}

func LoadDataset(path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to read dataset file '%s': %w", path, err)
	}

	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return Dataset{}, fmt.Errorf("failed to parse dataset file '%s': %w", path, err)
	}
	if len(samples) == 0 {
		return Dataset{}, errors.New("dataset is empty")
	}

	dim := len(samples[0].Features)
	for i, s := range samples {
		if len(s.Features) != dim {
			return Dataset{}, fmt.Errorf("sample %d has %d features, expected %d", i, len(s.Features), dim)
		}
	}

	return Dataset{Samples: samples}, nil
}

func (d Dataset) FeatureDim() int {
	if len(d.Samples) == 0 {
		return 0
	}

	return len(d.Samples[0].Features)
}

// Split holds the train/test partition an agent works against. Training uses
// local labels only; evaluation scores both label views on the held-out set.
type Split struct {
	TrainFeatures [][]float64
	TrainLocal    []int

	TestFeatures [][]float64
	TestLocal    []int
	TestGlobal   []int
}

// Split partitions the dataset with a seeded shuffle so the same seed always
// reproduces the same held-out set.
func (d Dataset) Split(testFraction float64, seed int64) Split {
	order := make([]int, len(d.Samples))
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	testCount := int(float64(len(order)) * testFraction)
	if testCount >= len(order) {
		testCount = len(order) - 1
	}

	var s Split
	for i, idx := range order {
		sample := d.Samples[idx]
		if i < testCount {
			s.TestFeatures = append(s.TestFeatures, sample.Features)
			s.TestLocal = append(s.TestLocal, sample.LocalLabel)
			s.TestGlobal = append(s.TestGlobal, sample.GlobalLabel)
		} else {
			s.TrainFeatures = append(s.TrainFeatures, sample.Features)
			s.TrainLocal = append(s.TrainLocal, sample.LocalLabel)
		}
	}

	return s
}
