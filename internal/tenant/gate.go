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

package tenant

import "time"

// Denial reasons returned by Evaluate.
const (
	ReasonTrialExpired         = "TrialExpired"
	ReasonSubscriptionInactive = "SubscriptionInactive"
)

// Decision is the outcome of a subscription gate evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluate applies the subscription gate to a tenant at the given time.
// It runs at login only: an already issued token stays usable until its own
// expiry even if the trial lapses mid-session. Pure function, no I/O.
func Evaluate(t *Tenant, now time.Time) Decision {
	switch t.SubscriptionStatus {
	case StatusActive:
		return Decision{Allowed: true}
	case StatusTrial:
		if t.TrialEndsAt != nil && !now.After(*t.TrialEndsAt) {
			return Decision{Allowed: true}
		}
		return Decision{Reason: ReasonTrialExpired}
	default:
		// suspended, cancelled, or an unset status all deny.
		return Decision{Reason: ReasonSubscriptionInactive}
	}
}
