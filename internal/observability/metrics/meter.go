// Copyright 2026 The Teamplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Metrics bundles the service's instruments. When disabled the instruments
// come from the noop meter and every Add is free.
type Metrics struct {
	meter metric.Meter

	Registrations  metric.Int64Counter
	LoginSuccesses metric.Int64Counter
	LoginFailures  metric.Int64Counter
	RateLimited    metric.Int64Counter
}

// New creates the metrics bundle on the global meter provider.
// In production, configure a proper meter provider with exporters.
func New(cfg Config, serviceName string) (*Metrics, error) {
	name := serviceName
	if !cfg.Enabled {
		name = "noop"
	}
	meter := otel.Meter(name)
	m := &Metrics{meter: meter}

	instruments := []struct {
		counter     *metric.Int64Counter
		name        string
		description string
	}{
		{&m.Registrations, "auth_registrations_total", "Completed tenant registrations"},
		{&m.LoginSuccesses, "auth_login_success_total", "Successful logins"},
		{&m.LoginFailures, "auth_login_failure_total", "Rejected login attempts"},
		{&m.RateLimited, "http_rate_limited_total", "Requests rejected by a rate limit window"},
	}
	for _, inst := range instruments {
		counter, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.description))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", inst.name, err)
		}
		*inst.counter = counter
	}

	return m, nil
}

// GetMeter returns the underlying meter for ad-hoc instruments.
func (m *Metrics) GetMeter() metric.Meter {
	return m.meter
}
