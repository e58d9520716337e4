package engine

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/torsightlabs/torsight-tca/internal/models"
)

// OriginNotDetected is the probable-origin label used when no entry relay
// could be resolved from the catalog.
const OriginNotDetected = "not detected"

// CircuitReconstructor selects one relay per role from a catalog snapshot.
// The result is deterministic for an unchanged snapshot: candidates rank by
// policy score and ties break on ascending fingerprint, so repeated runs
// reproduce the identical circuit.
type CircuitReconstructor struct {
	policy SelectionPolicy
	logger *slog.Logger
}

// NewCircuitReconstructor constructs a reconstructor with the given policy.
func NewCircuitReconstructor(policy SelectionPolicy, logger *slog.Logger) *CircuitReconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	if len(policy.Roles) == 0 {
		policy = DefaultSelectionPolicy()
	}
	return &CircuitReconstructor{policy: policy, logger: logger}
}

// Reconstruct builds the probable circuit and origin label. A role with no
// catalog candidate stays unresolved; that is a valid terminal state, never
// an error. The reconstructor only ever picks relays present in the
// snapshot.
func (r *CircuitReconstructor) Reconstruct(confidence float64, catalog []models.RelayDescriptor) (models.ProbableCircuit, string) {
	circuit := models.ProbableCircuit{
		Entry:  r.selectRole(models.RoleGuard, catalog),
		Middle: r.selectRole(models.RoleMiddle, catalog),
		Exit:   r.selectRole(models.RoleExit, catalog),
	}
	return circuit, probableOrigin(confidence, circuit)
}

func (r *CircuitReconstructor) selectRole(role models.RelayRole, catalog []models.RelayDescriptor) *models.RelayRef {
	candidates := make([]models.RelayDescriptor, 0, len(catalog))
	for _, relay := range catalog {
		if relay.Role == role {
			candidates = append(candidates, relay)
		}
	}
	if len(candidates) == 0 {
		r.logger.Debug("no catalog candidate for role", slog.String("role", string(role)))
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := r.policy.rank(candidates[i]), r.policy.rank(candidates[j])
		if ri != rj {
			return ri > rj
		}
		return candidates[i].Fingerprint < candidates[j].Fingerprint
	})

	ref := candidates[0].Ref()
	return &ref
}

// probableOrigin derives a deterministic origin label from the resolved
// entry relay. It is an investigative lead qualifier, never an assertion of
// identity.
func probableOrigin(confidence float64, circuit models.ProbableCircuit) string {
	if circuit.Entry == nil {
		return OriginNotDetected
	}
	qualifier := "tentative"
	if confidence >= 40 {
		qualifier = "likely"
	}
	return fmt.Sprintf("%s origin region %s via entry %s (probabilistic, not verified)",
		qualifier, circuit.Entry.Country, circuit.Entry.Nickname)
}
