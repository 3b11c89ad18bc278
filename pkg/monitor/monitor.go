// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package monitor records authentication errors, aggregates them into
// patterns, and raises tiered alerts when error behavior crosses
// configured thresholds. Recording never returns an error: monitoring
// must not add failure modes to the paths it observes.
package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/gatekeep/go-gatekeep/pkg/logging"
	"github.com/gatekeep/go-gatekeep/pkg/metrics"
)

// Severity classifies a recorded error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorKind names the failure category of a recorded error.
type ErrorKind string

const (
	KindChallenge  ErrorKind = "challenge"
	KindCredential ErrorKind = "credential"
	KindSecurity   ErrorKind = "security"
	KindStorage    ErrorKind = "storage"
	KindCeremony   ErrorKind = "ceremony"
	KindInternal   ErrorKind = "internal"
)

// messageSignatureLength caps how much of an error message participates in
// the pattern signature, so variable suffixes (IDs, addresses) do not split
// one pattern into many.
const messageSignatureLength = 80

const (
	defaultRingCapacity    = 4096
	defaultRetention       = 7 * 24 * time.Hour
	defaultAnalysisPeriod  = time.Minute
	patternRepeatThreshold = 10
	patternAlertCooldown   = 30 * time.Minute
)

// Record is a single observed error.
type Record struct {
	Timestamp     time.Time
	Operation     string
	Kind          ErrorKind
	Severity      Severity
	Message       string
	UserID        string
	CorrelationID string
	Recovered     bool
}

// Pattern aggregates records sharing an operation, kind and message prefix.
type Pattern struct {
	Signature   string
	Operation   string
	Kind        ErrorKind
	Message     string
	Count       int
	FirstSeen   time.Time
	LastSeen    time.Time
	LastAlerted time.Time

	recoveryAttempts  int
	recoverySuccesses int
}

// Thresholds tunes the periodic checks.
type Thresholds struct {
	// WarnRatePerMinute and CriticalRatePerMinute bound the overall
	// error rate over RateWindow.
	WarnRatePerMinute     float64
	CriticalRatePerMinute float64
	RateWindow            time.Duration

	// Degradation check: counts over the degradation window.
	DegradationWindow   time.Duration
	CriticalCountLimit  int
	HighCountLimit      int
	RecoveryWindow      time.Duration
	RecoveryMinAttempts int
	RecoveryMinRate     float64
}

// DefaultThresholds returns the standard production tuning.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarnRatePerMinute:     5,
		CriticalRatePerMinute: 10,
		RateWindow:            15 * time.Minute,
		DegradationWindow:     30 * time.Minute,
		CriticalCountLimit:    5,
		HighCountLimit:        15,
		RecoveryWindow:        2 * time.Hour,
		RecoveryMinAttempts:   5,
		RecoveryMinRate:       0.3,
	}
}

// Params configures a Monitor.
type Params struct {
	Logger         *logging.Logger
	Thresholds     Thresholds
	RingCapacity   int
	Retention      time.Duration
	AnalysisPeriod time.Duration

	// now is overridable for tests.
	now func() time.Time
}

// Monitor is the error monitor. All state is guarded by a single mutex;
// analysis runs single-flight.
type Monitor struct {
	mu       sync.Mutex
	ring     []Record
	ringNext int
	ringLen  int

	patterns map[string]*Pattern

	// opErrors holds recent error timestamps per operation, pruned
	// against the retention window.
	opErrors map[string][]time.Time

	alerts      map[string]*Alert
	callbacks   map[AlertTier][]AlertCallback
	analyzing   bool
	lastAnalyze time.Time

	thresholds Thresholds
	retention  time.Duration
	period     time.Duration
	logger     *logging.Logger
	now        func() time.Time
}

// New creates a Monitor.
func New(params *Params) *Monitor {
	if params == nil {
		params = &Params{}
	}
	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	capacity := params.RingCapacity
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	period := params.AnalysisPeriod
	if period <= 0 {
		period = defaultAnalysisPeriod
	}
	thresholds := params.Thresholds
	if thresholds.RateWindow == 0 {
		thresholds = DefaultThresholds()
	}
	now := params.now
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		ring:       make([]Record, capacity),
		patterns:   make(map[string]*Pattern),
		opErrors:   make(map[string][]time.Time),
		alerts:     make(map[string]*Alert),
		callbacks:  make(map[AlertTier][]AlertCallback),
		thresholds: thresholds,
		retention:  retention,
		period:     period,
		logger:     logger,
		now:        now,
	}
}

// RecordError records an error observation. It never fails and never
// blocks beyond the internal mutex. Critical-severity records trigger an
// immediate analysis pass.
func (m *Monitor) RecordError(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	if rec.Severity == "" {
		rec.Severity = SeverityMedium
	}

	m.mu.Lock()
	m.ring[m.ringNext] = rec
	m.ringNext = (m.ringNext + 1) % len(m.ring)
	if m.ringLen < len(m.ring) {
		m.ringLen++
	}

	sig := patternSignature(rec.Operation, rec.Kind, rec.Message)
	p, ok := m.patterns[sig]
	if !ok {
		p = &Pattern{
			Signature: sig,
			Operation: rec.Operation,
			Kind:      rec.Kind,
			Message:   truncateMessage(rec.Message),
			FirstSeen: rec.Timestamp,
		}
		m.patterns[sig] = p
	}
	p.Count++
	p.LastSeen = rec.Timestamp

	m.opErrors[rec.Operation] = append(m.opErrors[rec.Operation], rec.Timestamp)

	critical := rec.Severity == SeverityCritical
	m.mu.Unlock()

	metrics.ErrorsRecorded.WithLabelValues(rec.Operation, string(rec.Severity)).Inc()

	if critical {
		m.Analyze()
	}
}

// RecordRecovery records the outcome of a recovery attempt for the pattern
// matching the given operation, kind and message.
func (m *Monitor) RecordRecovery(operation string, kind ErrorKind, message string, success bool) {
	sig := patternSignature(operation, kind, message)
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patterns[sig]
	if !ok {
		return
	}
	p.recoveryAttempts++
	if success {
		p.recoverySuccesses++
	}
}

// Snapshot returns a copy of the most recent records, newest last.
func (m *Monitor) Snapshot(limit int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > m.ringLen {
		limit = m.ringLen
	}
	out := make([]Record, 0, limit)
	start := m.ringNext - limit
	for i := 0; i < limit; i++ {
		idx := (start + i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out
}

// Patterns returns a copy of the current pattern table.
func (m *Monitor) Patterns() []Pattern {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, *p)
	}
	return out
}

// Run executes the periodic analysis loop until the context is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Analyze()
		}
	}
}

// Analyze runs all checks once. Concurrent calls collapse to a single
// in-flight analysis.
func (m *Monitor) Analyze() {
	m.mu.Lock()
	if m.analyzing {
		m.mu.Unlock()
		return
	}
	m.analyzing = true
	now := m.now()
	m.pruneLocked(now)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.analyzing = false
		m.lastAnalyze = now
		m.mu.Unlock()
	}()

	m.checkErrorRate(now)
	m.checkAnomalies(now)
	m.checkRepeatedPatterns(now)
	m.checkDegradation(now)
	m.checkRecoveryFailures(now)
	m.escalateStaleAlerts(now)
}

// pruneLocked drops timestamps and patterns older than the retention
// window. Caller holds m.mu.
func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.retention)
	for op, stamps := range m.opErrors {
		kept := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(m.opErrors, op)
		} else {
			m.opErrors[op] = kept
		}
	}
	for sig, p := range m.patterns {
		if p.LastSeen.Before(cutoff) {
			delete(m.patterns, sig)
		}
	}
	for id, a := range m.alerts {
		if a.Resolved && a.ResolvedAt.Before(cutoff) {
			delete(m.alerts, id)
		}
	}
}

func patternSignature(operation string, kind ErrorKind, message string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", operation, kind, truncateMessage(message))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func truncateMessage(message string) string {
	if len(message) > messageSignatureLength {
		return message[:messageSignatureLength]
	}
	return message
}
