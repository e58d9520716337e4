package scorers

import (
	"math"

	"github.com/torsightlabs/torsight-tca/internal/models"
)

// PatternScorer compares the coarse burst structure of the two directions:
// an ordered sequence of bursts separated by idle gaps, scored by edit
// distance over quantized burst sizes.
type PatternScorer struct{}

// NewPatternScorer creates the pattern signal unit.
func NewPatternScorer() *PatternScorer {
	return &PatternScorer{}
}

func (s *PatternScorer) Factor() models.SignalFactor { return models.FactorPattern }

func (s *PatternScorer) Weight() models.WeightClass { return models.WeightMedium }

// burst is one contiguous run of packets with no idle gap inside it.
type burst struct {
	durationSeconds float64
	totalBytes      int64
}

// Score extracts per-direction burst signatures using an idle threshold of
// windowSeconds/4 and rescales their edit-distance similarity to [0,100].
// Signatures of different lengths are handled by the distance itself; a
// large length mismatch lowers the score, never crashes.
func (s *PatternScorer) Score(packets []models.PacketRecord, windowSeconds float64) float64 {
	if windowSeconds <= 0 {
		return 0
	}

	inbound, outbound := splitByDirection(packets)
	idleGap := windowSeconds / 4

	inSig := burstSignature(inbound, idleGap)
	outSig := burstSignature(outbound, idleGap)
	if len(inSig) == 0 || len(outSig) == 0 {
		return 0
	}

	inTokens := quantize(inSig)
	outTokens := quantize(outSig)

	maxLen := len(inTokens)
	if len(outTokens) > maxLen {
		maxLen = len(outTokens)
	}
	distance := editDistance(inTokens, outTokens)

	return clampScore((1 - float64(distance)/float64(maxLen)) * 100)
}

// burstSignature groups consecutive packets whose gap stays below idleGap.
func burstSignature(packets []models.PacketRecord, idleGap float64) []burst {
	if len(packets) == 0 {
		return nil
	}

	signature := make([]burst, 0, 8)
	current := burst{totalBytes: packets[0].Size}
	burstStart := packets[0].Timestamp

	for i := 1; i < len(packets); i++ {
		gap := packets[i].Timestamp.Sub(packets[i-1].Timestamp).Seconds()
		if gap > idleGap {
			current.durationSeconds = packets[i-1].Timestamp.Sub(burstStart).Seconds()
			signature = append(signature, current)
			current = burst{}
			burstStart = packets[i].Timestamp
		}
		current.totalBytes += packets[i].Size
	}
	current.durationSeconds = packets[len(packets)-1].Timestamp.Sub(burstStart).Seconds()
	signature = append(signature, current)

	return signature
}

// quantize maps burst byte totals to log2 buckets so that bursts of the
// same order of magnitude compare as equal tokens.
func quantize(signature []burst) []int {
	tokens := make([]int, len(signature))
	for i, b := range signature {
		tokens[i] = int(math.Log2(float64(b.totalBytes) + 1))
	}
	return tokens
}

// editDistance is the Levenshtein distance over two token sequences.
func editDistance(a, b []int) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
