package classifier

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Tutortoise/leafdx/models"
)

var ErrScoreMismatch = errors.New("score count does not match label catalog")

// Argmax returns the index of the largest score, preferring the lowest index
// on ties. NaN scores are skipped; ok is false when nothing can be ranked.
func Argmax(scores []float32) (index int, ok bool) {
	index = -1
	for i, v := range scores {
		if isNaN(v) {
			continue
		}
		if index < 0 || v > scores[index] {
			index = i
		}
	}
	return index, index >= 0
}

// Postprocess maps raw scores onto the label catalog. Index 0 is a class like
// any other. The confidence is the winning raw score times 100.
func Postprocess(scores []float32, labels []string, topK int) (models.ClassificationResult, error) {
	if len(scores) == 0 || len(scores) != len(labels) {
		return models.ClassificationResult{}, fmt.Errorf("%w: %d scores, %d labels", ErrScoreMismatch, len(scores), len(labels))
	}

	best, ok := Argmax(scores)
	if !ok {
		return models.Unknown(), nil
	}

	return models.ClassificationResult{
		Label:      labels[best],
		Index:      best,
		Confidence: float64(scores[best]) * 100,
		Known:      true,
		Top:        TopK(scores, labels, topK),
	}, nil
}

// TopK returns up to k ranked scores, highest first, lower index first on
// ties. NaN scores are left out.
func TopK(scores []float32, labels []string, k int) []models.LabelScore {
	if k <= 0 {
		return nil
	}

	ranked := make([]models.LabelScore, 0, len(scores))
	for i, v := range scores {
		if isNaN(v) || i >= len(labels) {
			continue
		}
		ranked = append(ranked, models.LabelScore{Index: i, Label: labels[i], Score: v})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

func isNaN(v float32) bool {
	return math.IsNaN(float64(v))
}
