// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"net/http"

	"github.com/z5labs/anvil/endpoint"
	"github.com/z5labs/anvil/health"
	"github.com/z5labs/anvil/request"

	"github.com/bytedance/sonic"
)

// Paths of the status endpoints, relative to the context path.
const (
	PathLiveness  = "/status/liveness"
	PathReadiness = "/status/readiness"
	PathHealth    = "/status/health"
	PathMetrics   = "/status/metrics"
)

// Health check types registered by every server.
const (
	CheckServerAccepting     = "SERVER_ACCEPTING"
	CheckEndpointFiveHundred = "ENDPOINT_FIVE_HUNDREDS"
	CheckPanics              = "PANICS"
)

type statusBody struct {
	Status string `json:"status"`
}

func metricStatus(m health.Metric) endpoint.Handler {
	return endpoint.HandlerFunc(func(ctx context.Context, r *http.Request) (*endpoint.Response, error) {
		if m.Healthy(ctx) {
			return jsonResponse(http.StatusOK, statusBody{Status: "UP"})
		}
		return jsonResponse(http.StatusServiceUnavailable, statusBody{Status: "DOWN"})
	})
}

func healthReport(checks *health.Checks) endpoint.Handler {
	return endpoint.HandlerFunc(func(ctx context.Context, r *http.Request) (*endpoint.Response, error) {
		report := checks.Report(ctx)
		if report.Healthy() {
			return jsonResponse(http.StatusOK, report)
		}
		return jsonResponse(http.StatusServiceUnavailable, report)
	})
}

func jsonResponse(status int, v any) (*endpoint.Response, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	resp := request.Bytes(status, "application/json", b)
	resp.Header.Set("Cache-Control", "no-store")
	return resp, nil
}

func (s *Server) statusEndpoints() []endpoint.Endpoint {
	return []endpoint.Endpoint{
		{
			Name:    "liveness",
			Method:  http.MethodGet,
			Pattern: PathLiveness,
			Handler: metricStatus(s.liveness),
		},
		{
			Name:    "readiness",
			Method:  http.MethodGet,
			Pattern: PathReadiness,
			Handler: metricStatus(s.readiness),
		},
		{
			Name:    "health",
			Method:  http.MethodGet,
			Pattern: PathHealth,
			Handler: healthReport(s.checks),
		},
		{
			Name:    "metrics",
			Method:  http.MethodGet,
			Pattern: PathMetrics,
			Handler: endpoint.HTTP(s.metrics.Handler()),
		},
	}
}
