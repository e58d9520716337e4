package models

import "time"

// RelayRole classifies a relay's position in a circuit.
type RelayRole string

const (
	RoleGuard  RelayRole = "guard"
	RoleMiddle RelayRole = "middle"
	RoleExit   RelayRole = "exit"
)

// RelayDescriptor describes one known relay. Descriptors are immutable for
// the duration of an analysis run; the reconstructor operates on a snapshot
// taken at run start.
type RelayDescriptor struct {
	Fingerprint   string    `json:"fingerprint"`
	Nickname      string    `json:"nickname"`
	Role          RelayRole `json:"role"`
	MaskedIP      string    `json:"masked_ip"`
	Port          int       `json:"port"`
	Country       string    `json:"country"`
	BandwidthKBps int64     `json:"bandwidth_kbps"`
	Flags         string    `json:"flags"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

// RelayRef is the subset of descriptor fields carried inside a reconstructed
// circuit hop.
type RelayRef struct {
	Fingerprint string `json:"fingerprint"`
	Nickname    string `json:"nickname"`
	Country     string `json:"country"`
	MaskedIP    string `json:"masked_ip"`
}

// Ref projects a descriptor into its circuit-hop reference form.
func (d RelayDescriptor) Ref() RelayRef {
	return RelayRef{
		Fingerprint: d.Fingerprint,
		Nickname:    d.Nickname,
		Country:     d.Country,
		MaskedIP:    d.MaskedIP,
	}
}
