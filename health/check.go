// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package health

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// CheckState is the outcome of a single named check.
type CheckState string

const (
	StateHealthy CheckState = "HEALTHY"
	StateError   CheckState = "ERROR"
)

// CheckResult is one entry of a [Report].
type CheckResult struct {
	Type    string     `json:"type"`
	State   CheckState `json:"state"`
	Message string     `json:"message,omitempty"`
}

// Report is the aggregated result of every registered check.
type Report struct {
	Checks map[string]CheckResult `json:"checks"`
}

// Healthy is true when every check is healthy.
func (r Report) Healthy() bool {
	for _, c := range r.Checks {
		if c.State != StateHealthy {
			return false
		}
	}
	return true
}

// DuplicateCheckError is returned when a check type is registered twice.
type DuplicateCheckError struct {
	Type string
}

// Error implements the error interface.
func (e DuplicateCheckError) Error() string {
	return fmt.Sprintf("health check already registered: %s", e.Type)
}

type check struct {
	typ     string
	metric  Metric
	message string
}

// Checks is a registry of named health checks.
type Checks struct {
	mu     sync.RWMutex
	checks []check
}

// Register adds a check whose type is a short upper-case identifier
// like "ENDPOINT_FIVE_HUNDREDS". message is reported while unhealthy.
func (c *Checks) Register(typ string, m Metric, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slices.ContainsFunc(c.checks, func(ch check) bool { return ch.typ == typ }) {
		return DuplicateCheckError{Type: typ}
	}
	c.checks = append(c.checks, check{typ: typ, metric: m, message: message})
	return nil
}

// Report evaluates every check.
func (c *Checks) Report(ctx context.Context) Report {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	c.mu.RUnlock()

	r := Report{Checks: make(map[string]CheckResult, len(checks))}
	for _, ch := range checks {
		res := CheckResult{Type: ch.typ, State: StateHealthy}
		if !ch.metric.Healthy(ctx) {
			res.State = StateError
			res.Message = ch.message
		}
		r.Checks[ch.typ] = res
	}
	return r
}

// Healthy implements the [Metric] interface.
func (c *Checks) Healthy(ctx context.Context) bool {
	return c.Report(ctx).Healthy()
}
