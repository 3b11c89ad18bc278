// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package monitor

import (
	"fmt"
	"math"
	"time"
)

const (
	checkErrorRate       = "error_rate"
	checkAnomaly         = "anomaly"
	checkRepeatedPattern = "repeated_pattern"
	checkDegradation     = "degradation"
	checkRecoveryFailure = "recovery_failure"
)

// checkErrorRate compares the overall errors-per-minute over the rate
// window against the warn and critical thresholds.
func (m *Monitor) checkErrorRate(now time.Time) {
	window := m.thresholds.RateWindow
	cutoff := now.Add(-window)

	m.mu.Lock()
	var count int
	for _, stamps := range m.opErrors {
		for _, ts := range stamps {
			if ts.After(cutoff) {
				count++
			}
		}
	}
	m.mu.Unlock()

	perMinute := float64(count) / window.Minutes()
	switch {
	case perMinute >= m.thresholds.CriticalRatePerMinute:
		m.raise(checkErrorRate, "global", TierCritical,
			fmt.Sprintf("error rate %.1f/min over the past %s", perMinute, window))
	case perMinute >= m.thresholds.WarnRatePerMinute:
		m.raise(checkErrorRate, "global", TierWarning,
			fmt.Sprintf("error rate %.1f/min over the past %s", perMinute, window))
	default:
		m.resolve(checkErrorRate, "global")
	}
}

// anomalyHistoryHours is how far back the anomaly baseline reaches.
const anomalyHistoryHours = 24

// checkAnomalies flags operations whose current-hour error count exceeds
// the operation's hourly mean over the trailing 24 hours by more than
// two standard deviations. Fewer than three non-empty history hours is
// not enough baseline to judge.
func (m *Monitor) checkAnomalies(now time.Time) {
	m.mu.Lock()
	type opStats struct {
		current int
		history [anomalyHistoryHours]int
	}
	stats := make(map[string]*opStats, len(m.opErrors))
	for op, stamps := range m.opErrors {
		s := &opStats{}
		for _, ts := range stamps {
			age := now.Sub(ts)
			if age < 0 {
				age = 0
			}
			idx := int(age / time.Hour)
			switch {
			case idx == 0:
				s.current++
			case idx <= anomalyHistoryHours:
				s.history[idx-1]++
			}
		}
		stats[op] = s
	}
	m.mu.Unlock()

	for op, s := range stats {
		var points int
		for _, c := range s.history {
			if c > 0 {
				points++
			}
		}
		if points < 3 {
			continue
		}
		mean, stddev := meanStddev(s.history[:])
		if stddev == 0 {
			stddev = 1
		}
		if float64(s.current) > mean+2*stddev && s.current >= 3 {
			m.raise(checkAnomaly, op, TierWarning,
				fmt.Sprintf("operation %s at %d errors this hour, baseline %.1f±%.1f/hour",
					op, s.current, mean, stddev))
		} else {
			m.resolve(checkAnomaly, op)
		}
	}
}

// checkRepeatedPatterns alerts on any pattern seen at least
// patternRepeatThreshold times in the last hour, with a cooldown so one
// persisting pattern alerts at most every 30 minutes.
func (m *Monitor) checkRepeatedPatterns(now time.Time) {
	hourAgo := now.Add(-time.Hour)

	m.mu.Lock()
	type hit struct {
		sig     string
		op      string
		kind    ErrorKind
		count   int
		message string
	}
	var hits []hit
	for _, p := range m.patterns {
		if p.LastSeen.Before(hourAgo) {
			continue
		}
		recent := m.countPatternRecentLocked(p, hourAgo)
		if recent >= patternRepeatThreshold && now.Sub(p.LastAlerted) >= patternAlertCooldown {
			p.LastAlerted = now
			hits = append(hits, hit{p.Signature, p.Operation, p.Kind, recent, p.Message})
		}
	}
	m.mu.Unlock()

	for _, h := range hits {
		m.raise(checkRepeatedPattern, h.sig, TierWarning,
			fmt.Sprintf("pattern repeated %d times in the last hour: %s/%s %q",
				h.count, h.op, h.kind, h.message))
	}
}

// countPatternRecentLocked counts ring records matching the pattern since
// the cutoff. Caller holds m.mu.
func (m *Monitor) countPatternRecentLocked(p *Pattern, cutoff time.Time) int {
	var count int
	for i := 0; i < m.ringLen; i++ {
		rec := m.ring[i]
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		if patternSignature(rec.Operation, rec.Kind, rec.Message) == p.Signature {
			count++
		}
	}
	return count
}

// checkDegradation counts critical and high severity records over the
// degradation window and pages when either limit is crossed.
func (m *Monitor) checkDegradation(now time.Time) {
	cutoff := now.Add(-m.thresholds.DegradationWindow)

	m.mu.Lock()
	var criticals, highs int
	for i := 0; i < m.ringLen; i++ {
		rec := m.ring[i]
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		switch rec.Severity {
		case SeverityCritical:
			criticals++
		case SeverityHigh:
			highs++
		}
	}
	m.mu.Unlock()

	if criticals >= m.thresholds.CriticalCountLimit || highs >= m.thresholds.HighCountLimit {
		m.raise(checkDegradation, "global", TierCritical,
			fmt.Sprintf("service degradation: %d critical, %d high errors in %s",
				criticals, highs, m.thresholds.DegradationWindow))
	} else {
		m.resolve(checkDegradation, "global")
	}
}

// checkRecoveryFailures alerts on patterns whose recovery success rate
// over the recovery window is below the configured floor.
func (m *Monitor) checkRecoveryFailures(now time.Time) {
	cutoff := now.Add(-m.thresholds.RecoveryWindow)

	m.mu.Lock()
	type failing struct {
		sig      string
		op       string
		attempts int
		rate     float64
	}
	var hits []failing
	for _, p := range m.patterns {
		if p.LastSeen.Before(cutoff) {
			continue
		}
		if p.recoveryAttempts < m.thresholds.RecoveryMinAttempts {
			continue
		}
		rate := float64(p.recoverySuccesses) / float64(p.recoveryAttempts)
		if rate < m.thresholds.RecoveryMinRate {
			hits = append(hits, failing{p.Signature, p.Operation, p.recoveryAttempts, rate})
		}
	}
	m.mu.Unlock()

	for _, h := range hits {
		m.raise(checkRecoveryFailure, h.sig, TierCritical,
			fmt.Sprintf("recovery failing for %s: %.0f%% success over %d attempts",
				h.op, h.rate*100, h.attempts))
	}
}

func meanStddev(values []int) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += float64(v)
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}
