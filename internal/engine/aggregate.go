// Package engine implements the correlation pipeline: signal aggregation,
// circuit reconstruction, evidence sealing, and justification rendering.
package engine

import (
	"math"

	"github.com/torsightlabs/torsight-tca/internal/models"
)

// Fixed relative weights honoring critical > high > medium. These are
// constants of the method, never tuned per run.
const (
	weightCritical = 0.5
	weightHigh     = 0.3
	weightMedium   = 0.2
)

// WeightFor returns the aggregation weight of a reliability class.
func WeightFor(class models.WeightClass) float64 {
	switch class {
	case models.WeightCritical:
		return weightCritical
	case models.WeightHigh:
		return weightHigh
	case models.WeightMedium:
		return weightMedium
	default:
		return 0
	}
}

// RoundScore normalises a score to the 2-decimal precision used in stored
// results, so re-aggregating stored scores reproduces stored confidence
// exactly.
func RoundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

// Aggregate combines the three signal scores into an overall confidence in
// [0,100]. It is a pure function: identical inputs always yield identical
// output, with no dependence on call order or clock.
func Aggregate(timing, volume, pattern float64) float64 {
	overall := RoundScore(timing)*weightCritical +
		RoundScore(volume)*weightHigh +
		RoundScore(pattern)*weightMedium

	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}
	return RoundScore(overall)
}
