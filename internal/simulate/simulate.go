// Package simulate generates synthetic relay catalogs and traffic sessions
// for demos and testing. Output is a pure function of the seed.
package simulate

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/torsightlabs/torsight-tca/internal/models"
)

var countries = []string{"US", "DE", "NL", "FR", "GB", "CA", "SE", "CH", "RO", "RU", "UA", "PL", "CZ", "AT", "FI"}

var (
	nicknamePrefixes = []string{"Relay", "Guard", "Exit", "Node", "Tor", "Anon", "Privacy", "Freedom", "Secure", "Fast"}
	nicknameSuffixes = []string{"Alpha", "Beta", "Gamma", "Delta", "Omega", "Prime", "Core", "Net", "Hub", "Link"}
)

const hexDigits = "0123456789ABCDEF"

// GenerateRelays produces count descriptors split roughly 1/4 guard, 1/4
// exit, remainder middle. At least one relay per role is always emitted
// when count >= 3.
func GenerateRelays(count int, seed int64) []models.RelayDescriptor {
	if count <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))

	guardCount := max(1, count/4)
	exitCount := max(1, count/4)
	middleCount := count - guardCount - exitCount
	if middleCount < 0 {
		middleCount = 0
	}

	relays := make([]models.RelayDescriptor, 0, count)
	for i := 0; i < guardCount; i++ {
		relay := baseRelay(rng, models.RoleGuard)
		relay.Port = pick(rng, []int{443, 9001, 9030, 9050, 9051})
		relay.BandwidthKBps = 5000 + rng.Int63n(95001)
		relay.Flags = "Guard,Stable,Valid,Running"
		relay.UptimeSeconds = 86400 + rng.Int63n(31536000-86400+1)
		relays = append(relays, relay)
	}
	for i := 0; i < middleCount; i++ {
		relay := baseRelay(rng, models.RoleMiddle)
		relay.Port = pick(rng, []int{443, 9001, 9030})
		relay.BandwidthKBps = 3000 + rng.Int63n(77001)
		relay.Flags = "Stable,Valid,Running"
		relay.UptimeSeconds = 43200 + rng.Int63n(15768000-43200+1)
		relays = append(relays, relay)
	}
	for i := 0; i < exitCount; i++ {
		relay := baseRelay(rng, models.RoleExit)
		relay.Port = pick(rng, []int{80, 443, 9001})
		relay.BandwidthKBps = 10000 + rng.Int63n(140001)
		relay.Flags = "Exit,Stable,Valid,Running"
		relay.UptimeSeconds = 86400 + rng.Int63n(31536000-86400+1)
		relays = append(relays, relay)
	}
	return relays
}

func baseRelay(rng *rand.Rand, role models.RelayRole) models.RelayDescriptor {
	return models.RelayDescriptor{
		Fingerprint: fingerprint(rng),
		Nickname:    nickname(rng),
		Role:        role,
		MaskedIP:    maskedIP(rng),
		Country:     pick(rng, countries),
	}
}

func fingerprint(rng *rand.Rand) string {
	buf := make([]byte, 40)
	for i := range buf {
		buf[i] = hexDigits[rng.Intn(len(hexDigits))]
	}
	return string(buf)
}

func nickname(rng *rand.Rand) string {
	return fmt.Sprintf("%s%s%d", pick(rng, nicknamePrefixes), pick(rng, nicknameSuffixes), 1+rng.Intn(999))
}

// maskedIP renders only the first two octets, matching how descriptors are
// published without exposing full relay addresses.
func maskedIP(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.xxx.xxx", 1+rng.Intn(223), rng.Intn(256))
}

// GenerateSession produces packetCount records with exponentially
// distributed inter-arrival gaps (mean 0.5s), mixed directions, and
// per-protocol size ranges. Records are returned in timestamp order.
func GenerateSession(sessionID string, packetCount int, seed int64) []models.PacketRecord {
	if packetCount <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(seed))
	baseTime := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

	srcAddrs := make([]string, 3)
	for i := range srcAddrs {
		srcAddrs[i] = fmt.Sprintf("192.168.1.%d", 10+rng.Intn(41))
	}
	dstAddrs := make([]string, 5)
	for i := range dstAddrs {
		dstAddrs[i] = fmt.Sprintf("10.0.0.%d", 1+rng.Intn(254))
	}

	current := baseTime
	packets := make([]models.PacketRecord, 0, packetCount)
	for i := 0; i < packetCount; i++ {
		gap := rng.ExpFloat64() * 0.5
		current = current.Add(time.Duration(gap * float64(time.Second)))

		direction := models.DirectionOutbound
		if rng.Intn(2) == 0 {
			direction = models.DirectionInbound
		}
		src, dst := pick(rng, srcAddrs), pick(rng, dstAddrs)
		if direction == models.DirectionInbound {
			src, dst = pick(rng, dstAddrs), pick(rng, srcAddrs)
		}

		protocol := pickProtocol(rng)
		packets = append(packets, models.PacketRecord{
			Timestamp: current,
			SrcAddr:   src,
			DstAddr:   dst,
			Protocol:  protocol,
			Size:      packetSize(rng, protocol),
			Direction: direction,
		})
	}
	return packets
}

// pickProtocol draws from the observed protocol mix: mostly TCP and TLS
// with occasional UDP and HTTP traffic.
func pickProtocol(rng *rand.Rand) string {
	roll := rng.Float64()
	switch {
	case roll < 0.40:
		return "TCP"
	case roll < 0.55:
		return "UDP"
	case roll < 0.80:
		return "TLS"
	case roll < 0.90:
		return "HTTP"
	default:
		return "HTTPS"
	}
}

func packetSize(rng *rand.Rand, protocol string) int64 {
	switch protocol {
	case "HTTP", "HTTPS":
		return 500 + rng.Int63n(14501)
	case "TLS":
		return 100 + rng.Int63n(4901)
	default:
		return 40 + rng.Int63n(1461)
	}
}

func pick[T any](rng *rand.Rand, values []T) T {
	return values[rng.Intn(len(values))]
}
