// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"time"
)

// Stats are usage counters for one controller.
type Stats struct {
	MessagesSent  int            `json:"messages_sent"`
	Replies       int            `json:"replies"`
	Errors        int            `json:"errors"`
	Retries       int            `json:"retries"`
	CacheHits     int            `json:"cache_hits"`
	ModelSwitches int            `json:"model_switches"`
	ModelUsage    map[string]int `json:"model_usage"`

	// TotalResponseTime sums the latency of successful uncached replies.
	TotalResponseTime time.Duration `json:"total_response_time_ns"`
}

// AverageResponseTime returns the mean latency of uncached replies.
func (s Stats) AverageResponseTime() time.Duration {
	n := s.Replies - s.CacheHits
	if n <= 0 {
		return 0
	}
	return s.TotalResponseTime / time.Duration(n)
}

// ErrorRate returns the fraction of sends that ended in an error reply.
func (s Stats) ErrorRate() float64 {
	done := s.Replies + s.Errors
	if done == 0 {
		return 0
	}
	return float64(s.Errors) / float64(done)
}

func (s Stats) clone() Stats {
	usage := make(map[string]int, len(s.ModelUsage))
	for k, v := range s.ModelUsage {
		usage[k] = v
	}
	s.ModelUsage = usage
	return s
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}
