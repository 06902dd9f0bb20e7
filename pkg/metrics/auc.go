// Package metrics holds the scoring math participants use to grade their
// local models.
package metrics

import (
	"fmt"
	"sort"

	"github.com/amlnet/federator/pkg/fl"
)

// ROCAUC computes the area under the ROC curve via the rank statistic, with
// average ranks for tied scores. Labels are binary; anything > 0 counts as
// positive. AUC is undefined when the split holds a single class, in which
// case ErrInsufficientLabelDiversity is returned and callers skip the metric.
func ROCAUC(labels []int, scores []float64) (float64, error) {
	if len(labels) != len(scores) {
		return 0, fmt.Errorf("labels and scores length mismatch: %d vs %d", len(labels), len(scores))
	}

	var pos, neg int
	for _, l := range labels {
		if l > 0 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, fl.ErrInsufficientLabelDiversity
	}

	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return scores[idx[a]] < scores[idx[b]]
	})

	// Sum of positive-class ranks, averaging ranks across tied scores.
	var rankSum float64
	i := 0
	for i < len(idx) {
		j := i
		for j < len(idx) && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		avgRank := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			if labels[idx[k]] > 0 {
				rankSum += avgRank
			}
		}
		i = j
	}

	np, nn := float64(pos), float64(neg)

	return (rankSum - np*(np+1)/2) / (np * nn), nil
}
