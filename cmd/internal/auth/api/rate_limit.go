package authapi

import (
	"context"
	"net"
	"time"
)

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// evaluateWindowThrottle blocks once max events fall inside window. The
// block lifts when the oldest counted event leaves the window.
func evaluateWindowThrottle(now time.Time, events []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	count := 0
	var oldest time.Time
	for _, ts := range events {
		if ts.Before(cut) {
			continue
		}
		count++
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	if count < max {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies every tier and returns the longest
// active lockout. A tier trips when Threshold failures happened within its
// Duration and lasts Duration past the latest failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	var latest time.Time
	for _, f := range failures {
		if f.After(latest) {
			latest = f
		}
	}

	var retry time.Duration
	for _, tier := range tiers {
		if tier.Threshold <= 0 || tier.Duration <= 0 {
			continue
		}
		cut := now.Add(-tier.Duration)
		n := 0
		for _, f := range failures {
			if f.After(cut) {
				n++
			}
		}
		if n < tier.Threshold {
			continue
		}
		if d := latest.Add(tier.Duration).Sub(now); d > retry {
			retry = d
		}
	}
	return retry > 0, retry
}

func (h *Handler) checkSendThrottle(ctx context.Context, ip net.IP, now time.Time) (bool, time.Duration, error) {
	if ip == nil || h.cfg.SendIPMax <= 0 {
		return false, 0, nil
	}
	events, err := h.auditor.RecentByIP(ctx, actionOTPSent, ip, now.Add(-h.cfg.SendIPWindow))
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateWindowThrottle(now, events, h.cfg.SendIPMax, h.cfg.SendIPWindow)
	return blocked, retry, nil
}

func (h *Handler) checkVerifyLockout(ctx context.Context, ip net.IP, now time.Time) (bool, time.Duration, error) {
	if ip == nil {
		return false, 0, nil
	}
	tiers := h.cfg.lockoutTiers()
	var longest time.Duration
	for _, t := range tiers {
		if t.Duration > longest {
			longest = t.Duration
		}
	}
	if longest <= 0 {
		return false, 0, nil
	}
	failures, err := h.auditor.RecentByIP(ctx, actionOTPVerifyFailed, ip, now.Add(-longest))
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateProgressiveLockout(now, failures, tiers)
	return blocked, retry, nil
}
