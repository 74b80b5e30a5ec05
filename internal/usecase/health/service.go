// Package health aggregates component checks for the health endpoint.
package health

import (
	"context"

	"github.com/deepfield-io/zoomdex/internal/domain/dataset"
)

// Status is the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult is an individual component check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing check.
	CheckError CheckResult = "error"
)

// Report aggregates component checks with an index summary.
type Report struct {
	Status  Status
	Checks  map[string]CheckResult
	Indexes IndexSummary
}

// IndexSummary counts the registry's datasets by whether they serve.
type IndexSummary struct {
	Tracked int
	Ready   int
}

// Service coordinates health checks.
type Service struct {
	kv      kv
	tiles   tiles
	encoder encoder
	reg     registry
}

// New creates the health service. encoder can be nil when the provider
// check is not wanted on the health path.
func New(kv kv, tiles tiles, encoder encoder, reg registry) *Service {
	return &Service{kv: kv, tiles: tiles, encoder: encoder, reg: reg}
}

// Check probes every component. Any failing check degrades the status;
// probes run even when an earlier one failed so the report stays complete.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.kv.Ping(ctx); err != nil {
		checks["kv"] = CheckError
	} else {
		checks["kv"] = CheckOK
	}

	if _, err := s.tiles.Datasets(ctx); err != nil {
		checks["tilestore"] = CheckError
	} else {
		checks["tilestore"] = CheckOK
	}

	if s.encoder != nil {
		if err := s.encoder.HealthCheck(ctx); err != nil {
			checks["encoder"] = CheckError
		} else {
			checks["encoder"] = CheckOK
		}
	}

	var summary IndexSummary
	for _, state := range s.reg.States() {
		summary.Tracked++
		if state == dataset.StateReady {
			summary.Ready++
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks, Indexes: summary}
}
