// Package scorers holds the independent correlation signal units. Each
// scorer reduces a packet series to a single value in [0,100]; sparse or
// degenerate input resolves to 0 locally and never raises an error, since
// correlation work must tolerate thin evidence.
package scorers

import (
	"github.com/torsightlabs/torsight-tca/internal/models"
)

// Scorer is the shared contract for all correlation signal units.
type Scorer interface {
	Factor() models.SignalFactor
	Weight() models.WeightClass
	Score(packets []models.PacketRecord, windowSeconds float64) float64
}

func splitByDirection(packets []models.PacketRecord) (inbound, outbound []models.PacketRecord) {
	for _, p := range packets {
		switch p.Direction {
		case models.DirectionInbound:
			inbound = append(inbound, p)
		case models.DirectionOutbound:
			outbound = append(outbound, p)
		}
	}
	return inbound, outbound
}

func interArrivals(packets []models.PacketRecord) []float64 {
	if len(packets) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(packets)-1)
	for i := 1; i < len(packets); i++ {
		gaps = append(gaps, packets[i].Timestamp.Sub(packets[i-1].Timestamp).Seconds())
	}
	return gaps
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
