package engine

import (
	"fmt"
	"strings"

	"github.com/torsightlabs/torsight-tca/internal/models"
)

// BuildJustification renders the plain-text narrative for a result. It
// derives purely from the stored record, so regenerating it from persisted
// fields yields equivalent content.
func BuildJustification(res models.CorrelationResult) string {
	var b strings.Builder

	b.WriteString("TRAFFIC CORRELATION ANALYSIS\n")
	fmt.Fprintf(&b, "Case %s, session %s, time window %.1fs.\n\n", res.CaseID, res.SessionID, res.TimeWindowSeconds)

	for _, score := range res.Scores() {
		fmt.Fprintf(&b, "%s correlation scored %.2f/100 (%s weight, %.0f%% of the aggregate): %s temporal-traffic agreement between inbound and outbound flows.\n",
			strings.ToUpper(string(score.Factor)[:1])+string(score.Factor)[1:],
			score.Value,
			score.Weight,
			WeightFor(score.Weight)*100,
			band(score.Value),
		)
	}

	fmt.Fprintf(&b, "\nOverall correlation confidence: %.2f/100 (%s).\n", res.OverallConfidence, band(res.OverallConfidence))

	b.WriteString("\nProbable circuit: ")
	b.WriteString(strings.Join([]string{
		hopLine("entry", res.Circuit.Entry),
		hopLine("middle", res.Circuit.Middle),
		hopLine("exit", res.Circuit.Exit),
	}, "; "))
	b.WriteString(".\n")
	if res.ProbableOrigin != "" {
		fmt.Fprintf(&b, "Probable origin: %s.\n", res.ProbableOrigin)
	}

	b.WriteString("\nDISCLAIMER: this analysis is a probability-weighted investigative lead. ")
	b.WriteString("It does not identify a person or host and does not claim to de-anonymize relay traffic; ")
	b.WriteString("findings require independent verification before any evidentiary use.")

	return b.String()
}

func band(v float64) string {
	switch {
	case v > 60:
		return "strong"
	case v > 30:
		return "moderate"
	default:
		return "weak"
	}
}

func hopLine(role string, ref *models.RelayRef) string {
	if ref == nil {
		return fmt.Sprintf("%s not detected", role)
	}
	return fmt.Sprintf("%s %s (%s, %s)", role, ref.Nickname, ref.Country, ref.MaskedIP)
}
