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

package tracing

import (
	"context"
	"testing"
)

// TestPurpose: Validates the disabled tracer works end to end and shutdown never panics, not even on a nil tracer.
// Scope: Unit Test
// Expected: New with Enabled=false yields a usable noop tracer; Shutdown on it and on a nil *Tracer returns nil.
// Test Case ID: TRC-01
func TestTracer_DisabledAndNilShutdown(t *testing.T) {
	ctx := context.Background()

	tracer, err := New(ctx, Config{Enabled: false})
	if err != nil {
		t.Fatalf("disabled tracer should not fail: %v", err)
	}

	_, span := tracer.Start(ctx, "test-span")
	span.End()

	if err := tracer.Shutdown(ctx); err != nil {
		t.Errorf("shutdown of disabled tracer should be a no-op, got %v", err)
	}

	// A failed New leaves callers holding a nil tracer; a deferred
	// shutdown must still be safe.
	var nilTracer *Tracer
	if err := nilTracer.Shutdown(ctx); err != nil {
		t.Errorf("shutdown on nil tracer should return nil, got %v", err)
	}
}
