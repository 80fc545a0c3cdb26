package otp

import (
	"testing"
	"time"
)

func TestCodeUsable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	consumed := now.Add(-time.Second)
	base := Code{ExpiresAt: now.Add(time.Minute), MaxAttempts: 5}

	cases := []struct {
		name string
		mod  func(c *Code)
		want bool
	}{
		{name: "fresh", mod: func(*Code) {}, want: true},
		{name: "last attempt left", mod: func(c *Code) { c.Attempts = 4 }, want: true},
		{name: "attempts exhausted", mod: func(c *Code) { c.Attempts = 5 }, want: false},
		{name: "expires now", mod: func(c *Code) { c.ExpiresAt = now }, want: false},
		{name: "consumed", mod: func(c *Code) { c.ConsumedAt = &consumed }, want: false},
	}

	for _, tc := range cases {
		c := base
		tc.mod(&c)
		if got := c.Usable(now); got != tc.want {
			t.Fatalf("%s: Usable=%v want %v", tc.name, got, tc.want)
		}
	}
}
