// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package monitor

import (
	"time"

	"github.com/google/uuid"

	"github.com/gatekeep/go-gatekeep/pkg/metrics"
)

// AlertTier orders alert urgency. Alerts escalate one tier at a time.
type AlertTier int

const (
	TierNotice AlertTier = iota + 1
	TierWarning
	TierCritical
	TierPage
)

func (t AlertTier) String() string {
	switch t {
	case TierNotice:
		return "notice"
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	case TierPage:
		return "page"
	default:
		return "unknown"
	}
}

// autoEscalateAfter is how long an unresolved alert sits at a tier before
// being bumped to the next one.
const autoEscalateAfter = time.Hour

// Alert is a raised condition. Alerts are keyed by check+subject so a
// persisting condition updates its alert instead of flooding.
type Alert struct {
	ID         string
	Check      string
	Subject    string
	Tier       AlertTier
	Message    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Escalated  time.Time
	Resolved   bool
	ResolvedAt time.Time
}

// AlertCallback receives alerts raised at (or escalated to) its tier.
type AlertCallback func(Alert)

// OnAlert registers a callback for a tier. Callbacks must be registered
// before Run starts; they are invoked outside the monitor lock, and a
// panicking callback is caught and logged.
func (m *Monitor) OnAlert(tier AlertTier, cb AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[tier] = append(m.callbacks[tier], cb)
}

// ActiveAlerts returns unresolved alerts.
func (m *Monitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if !a.Resolved {
			out = append(out, *a)
		}
	}
	return out
}

// raise creates or refreshes the alert for check+subject at the given
// tier. An existing unresolved alert keeps its tier unless the new tier
// is higher.
func (m *Monitor) raise(check, subject string, tier AlertTier, message string) {
	now := m.now()
	key := check + ":" + subject

	m.mu.Lock()
	a, ok := m.alerts[key]
	notify := false
	if !ok || a.Resolved {
		a = &Alert{
			ID:        uuid.New().String(),
			Check:     check,
			Subject:   subject,
			Tier:      tier,
			Message:   message,
			CreatedAt: now,
			UpdatedAt: now,
			Escalated: now,
		}
		m.alerts[key] = a
		notify = true
	} else {
		a.UpdatedAt = now
		a.Message = message
		if tier > a.Tier {
			a.Tier = tier
			a.Escalated = now
			notify = true
		}
	}
	snapshot := *a
	m.mu.Unlock()

	if notify {
		metrics.AlertsGenerated.WithLabelValues(check, snapshot.Tier.String()).Inc()
		m.logger.Warn("alert raised",
			"check", check, "subject", subject,
			"tier", snapshot.Tier.String(), "message", message)
		m.dispatch(snapshot)
	}
}

// Resolve marks the alert for check+subject resolved and reports
// whether an unresolved alert existed. A resolved alert stays in
// history until the retention pass drops it; if the condition persists,
// the next analysis raises a fresh alert.
func (m *Monitor) Resolve(check, subject string) bool {
	key := check + ":" + subject
	m.mu.Lock()
	a, ok := m.alerts[key]
	if !ok || a.Resolved {
		m.mu.Unlock()
		return false
	}
	a.Resolved = true
	a.ResolvedAt = m.now()
	m.mu.Unlock()

	m.logger.Info("alert resolved", "check", check, "subject", subject)
	return true
}

// resolve clears an alert when its condition is no longer observed.
func (m *Monitor) resolve(check, subject string) {
	m.Resolve(check, subject)
}

// escalateStaleAlerts bumps unresolved alerts that have sat at their tier
// past the escalation deadline.
func (m *Monitor) escalateStaleAlerts(now time.Time) {
	var escalated []Alert
	m.mu.Lock()
	for _, a := range m.alerts {
		if a.Resolved || a.Tier >= TierPage {
			continue
		}
		if now.Sub(a.Escalated) >= autoEscalateAfter {
			a.Tier++
			a.Escalated = now
			a.UpdatedAt = now
			escalated = append(escalated, *a)
		}
	}
	m.mu.Unlock()

	for _, a := range escalated {
		metrics.AlertsGenerated.WithLabelValues(a.Check, a.Tier.String()).Inc()
		m.logger.Warn("alert escalated",
			"check", a.Check, "subject", a.Subject, "tier", a.Tier.String())
		m.dispatch(a)
	}
}

// dispatch invokes the callbacks registered for the alert's tier.
func (m *Monitor) dispatch(a Alert) {
	m.mu.Lock()
	cbs := make([]AlertCallback, len(m.callbacks[a.Tier]))
	copy(cbs, m.callbacks[a.Tier])
	m.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Errorf("alert callback panic: check=%s tier=%s panic=%v",
						a.Check, a.Tier.String(), r)
				}
			}()
			cb(a)
		}()
	}
}
