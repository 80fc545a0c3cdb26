package gateway

import (
	"strings"

	"github.com/spaolacci/murmur3"
)

// selectionSeed keeps rendezvous scores stable across restarts.
const selectionSeed uint32 = 0x5eed

// pickDeviceLocked chooses a device for phone. Caller holds g.mu.
//
// Candidates are the devices in region when any exist, otherwise all devices.
// The least loaded candidate wins; ties go to the highest rendezvous score so
// a given phone keeps landing on the same handset while load is even.
func (g *Gateway) pickDeviceLocked(phone, region string) *Device {
	if len(g.devices) == 0 {
		return nil
	}

	var regional []*Device
	if region = strings.TrimSpace(region); region != "" {
		for _, d := range g.devices {
			if strings.EqualFold(d.Region, region) {
				regional = append(regional, d)
			}
		}
	}

	candidates := regional
	if len(candidates) == 0 {
		candidates = make([]*Device, 0, len(g.devices))
		for _, d := range g.devices {
			candidates = append(candidates, d)
		}
	}

	var (
		best      *Device
		bestScore uint64
	)
	for _, d := range candidates {
		score := rendezvousScore(phone, d.Key)
		switch {
		case best == nil,
			d.inflight < best.inflight,
			d.inflight == best.inflight && score > bestScore,
			d.inflight == best.inflight && score == bestScore && d.Key < best.Key:
			best, bestScore = d, score
		}
	}
	return best
}

func rendezvousScore(phone, deviceKey string) uint64 {
	h := murmur3.New64WithSeed(selectionSeed)
	_, _ = h.Write([]byte(phone))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(deviceKey))
	return h.Sum64()
}
