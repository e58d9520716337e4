package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/torsightlabs/torsight-tca/internal/models"
)

// SelectionPolicy ranks relay candidates per role. The heuristic is
// deliberately pluggable: deployments can reweight bandwidth against uptime
// or boost specific countries without code changes.
type SelectionPolicy struct {
	Roles map[models.RelayRole]RoleWeights `yaml:"roles"`
}

// RoleWeights weights the ranking inputs for one circuit role. Bandwidth is
// taken in KB/s, uptime in days; CountryBoost adds a flat rank bonus per
// country code.
type RoleWeights struct {
	Bandwidth    float64            `yaml:"bandwidth"`
	Uptime       float64            `yaml:"uptime"`
	CountryBoost map[string]float64 `yaml:"countryBoost"`
}

type policyFile struct {
	Policy SelectionPolicy `yaml:"policy"`
}

// DefaultSelectionPolicy mirrors upstream behaviour: exits rank on raw
// capacity, guards blend capacity with longevity, middles sit in between.
func DefaultSelectionPolicy() SelectionPolicy {
	return SelectionPolicy{
		Roles: map[models.RelayRole]RoleWeights{
			models.RoleGuard:  {Bandwidth: 0.7, Uptime: 0.3},
			models.RoleMiddle: {Bandwidth: 0.5, Uptime: 0.5},
			models.RoleExit:   {Bandwidth: 1.0},
		},
	}
}

// LoadSelectionPolicy reads a policy from a YAML file. An empty path or a
// missing file falls back to the default policy.
func LoadSelectionPolicy(path string, logger *slog.Logger) (SelectionPolicy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultSelectionPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("selection policy file absent, using defaults", slog.String("path", path))
			return DefaultSelectionPolicy(), nil
		}
		return SelectionPolicy{}, fmt.Errorf("read selection policy: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return SelectionPolicy{}, fmt.Errorf("parse selection policy: %w", err)
	}
	if len(file.Policy.Roles) == 0 {
		return DefaultSelectionPolicy(), nil
	}

	// Roles left out of the file keep their default weights.
	policy := DefaultSelectionPolicy()
	for role, weights := range file.Policy.Roles {
		policy.Roles[role] = weights
	}
	return policy, nil
}

// rank scores one candidate for its role. Higher is better; ties are broken
// by the reconstructor on fingerprint ordering.
func (p SelectionPolicy) rank(relay models.RelayDescriptor) float64 {
	weights, ok := p.Roles[relay.Role]
	if !ok {
		return 0
	}
	uptimeDays := float64(relay.UptimeSeconds) / 86400.0
	score := weights.Bandwidth*float64(relay.BandwidthKBps) + weights.Uptime*uptimeDays
	if boost, ok := weights.CountryBoost[relay.Country]; ok {
		score += boost
	}
	return score
}
