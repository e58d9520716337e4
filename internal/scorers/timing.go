package scorers

import (
	"github.com/torsightlabs/torsight-tca/internal/models"
)

// timingHistogramBuckets bounds the inter-arrival histogram. Gaps beyond
// the last bucket are folded into it rather than dropped.
const timingHistogramBuckets = 16

// TimingScorer compares inter-packet-interval jitter between the inbound
// and outbound sub-sequences. A score of 100 means the two directions'
// timing fingerprints are indistinguishable at the configured window.
type TimingScorer struct{}

// NewTimingScorer creates the timing signal unit.
func NewTimingScorer() *TimingScorer {
	return &TimingScorer{}
}

func (s *TimingScorer) Factor() models.SignalFactor { return models.FactorTiming }

func (s *TimingScorer) Weight() models.WeightClass { return models.WeightCritical }

// Score buckets each direction's inter-arrival gaps into a histogram
// spanning the analysis window and returns an inverse total-variation
// similarity. Fewer than 2 packets in either direction yields exactly 0.
func (s *TimingScorer) Score(packets []models.PacketRecord, windowSeconds float64) float64 {
	if windowSeconds <= 0 {
		return 0
	}

	inbound, outbound := splitByDirection(packets)
	if len(inbound) < 2 || len(outbound) < 2 {
		return 0
	}

	inHist := arrivalHistogram(interArrivals(inbound), windowSeconds)
	outHist := arrivalHistogram(interArrivals(outbound), windowSeconds)

	// Total variation distance between the two normalized histograms:
	// 0 when identical, 1 when disjoint.
	distance := 0.0
	for i := range inHist {
		diff := inHist[i] - outHist[i]
		if diff < 0 {
			diff = -diff
		}
		distance += diff
	}
	distance /= 2

	return clampScore((1 - distance) * 100)
}

// arrivalHistogram bins gaps into buckets spanning [0, windowSeconds) and
// normalizes counts to proportions. Gaps at or beyond the window fold into
// the last bucket.
func arrivalHistogram(gaps []float64, windowSeconds float64) []float64 {
	hist := make([]float64, timingHistogramBuckets)
	if len(gaps) == 0 {
		return hist
	}
	bucketWidth := windowSeconds / timingHistogramBuckets
	for _, gap := range gaps {
		idx := int(gap / bucketWidth)
		if idx < 0 {
			idx = 0
		}
		if idx >= timingHistogramBuckets {
			idx = timingHistogramBuckets - 1
		}
		hist[idx]++
	}
	total := float64(len(gaps))
	for i := range hist {
		hist[i] /= total
	}
	return hist
}
