package scorers

import (
	"math"

	"github.com/torsightlabs/torsight-tca/internal/models"
)

// maxVolumeBins caps the byte-count series length for very long sessions.
const maxVolumeBins = 4096

// VolumeScorer correlates the byte-count time series of the two directions.
type VolumeScorer struct{}

// NewVolumeScorer creates the volume signal unit.
func NewVolumeScorer() *VolumeScorer {
	return &VolumeScorer{}
}

func (s *VolumeScorer) Factor() models.SignalFactor { return models.FactorVolume }

func (s *VolumeScorer) Weight() models.WeightClass { return models.WeightHigh }

// Score bins packet sizes into windowSeconds-wide time bins per direction
// and rescales the Pearson correlation of the two series to [0,100].
// Negative or undefined correlation clamps to 0.
func (s *VolumeScorer) Score(packets []models.PacketRecord, windowSeconds float64) float64 {
	if len(packets) == 0 || windowSeconds <= 0 {
		return 0
	}

	start := packets[0].Timestamp
	span := packets[len(packets)-1].Timestamp.Sub(start).Seconds()
	bins := int(span/windowSeconds) + 1
	if bins < 2 {
		// A single bin carries no co-variation signal.
		return 0
	}
	if bins > maxVolumeBins {
		bins = maxVolumeBins
	}

	inbound := make([]float64, bins)
	outbound := make([]float64, bins)
	for _, p := range packets {
		idx := int(p.Timestamp.Sub(start).Seconds() / windowSeconds)
		if idx < 0 {
			idx = 0
		}
		if idx >= bins {
			idx = bins - 1
		}
		switch p.Direction {
		case models.DirectionInbound:
			inbound[idx] += float64(p.Size)
		case models.DirectionOutbound:
			outbound[idx] += float64(p.Size)
		}
	}

	r := pearson(inbound, outbound)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	return clampScore(r * 100)
}

// pearson returns the correlation coefficient of two equal-length series,
// or NaN when either series has zero variance.
func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return math.NaN()
	}

	meanA, meanB := 0.0, 0.0
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varB)
}
