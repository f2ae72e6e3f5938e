package models

import (
	"fmt"
	"time"
)

// UnknownLabel is reported when no output score can be ranked.
const UnknownLabel = "Unknown Class"

type LabelScore struct {
	Index int
	Label string
	Score float32
}

// ClassificationResult is the outcome of one classify call. Confidence is the
// winning raw score scaled to a percentage; it is not re-normalized.
type ClassificationResult struct {
	Label      string
	Index      int
	Confidence float64
	Known      bool
	Top        []LabelScore
	Timings    ProcessingTimings
}

// Unknown returns the sentinel result.
func Unknown() ClassificationResult {
	return ClassificationResult{Label: UnknownLabel, Index: -1}
}

func (r ClassificationResult) String() string {
	return fmt.Sprintf("Prediction Result: %s\nConfidence: %.2f", r.Label, r.Confidence)
}

type ProcessingTimings struct {
	RequestID   string
	Preprocess  time.Duration
	Queue       time.Duration // waiting for a free session
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
