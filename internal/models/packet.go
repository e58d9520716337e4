package models

import "time"

// Direction indicates packet flow relative to the monitored host.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// PacketRecord is one normalized capture record. Records arrive ordered by
// timestamp; duplicates by (timestamp, direction, size) are permitted.
type PacketRecord struct {
	Timestamp time.Time `json:"timestamp"`
	SrcAddr   string    `json:"src_addr"`
	DstAddr   string    `json:"dst_addr"`
	Protocol  string    `json:"protocol"`
	Size      int64     `json:"size"`
	Direction Direction `json:"direction"`
}

// TrafficSession summarises one captured session.
type TrafficSession struct {
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	PacketCount int       `json:"packet_count"`
	TotalBytes  int64     `json:"total_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}
