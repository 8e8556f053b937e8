// Copyright (C) 2026 Forgelight, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package animstream

import "testing"

func TestUsageRingRecordDedup(t *testing.T) {
	var r usageRing
	inserted, diverged := r.record(1, 1, 0.5, nil, 4)
	if !inserted || diverged {
		t.Fatalf("first record: inserted=%v diverged=%v, want true,false", inserted, diverged)
	}
	inserted, _ = r.record(1, 1, 0.5001, nil, 4)
	if inserted {
		t.Fatal("a phase within tolerance of an existing entry should not insert again")
	}
}

func TestUsageRingDivergence(t *testing.T) {
	var r usageRing
	r.record(1, 1, 0.5, nil, 4)
	inserted, diverged := r.record(1, 2, 0.9, nil, 4)
	if !inserted {
		t.Fatal("a distinct (clip, phase) pair should insert")
	}
	if !diverged {
		t.Fatal("a second, sufficiently different phase in the same frame should be reported as diverged")
	}
	// A second divergent entry in the same frame should not re-report.
	_, diverged = r.record(1, 3, 0.1, nil, 4)
	if diverged {
		t.Fatal("divergence should only be reported once per frame")
	}
}

func TestUsageRingDistinctPhases(t *testing.T) {
	var r usageRing
	r.record(1, 1, 0.10, nil, 0)
	r.record(1, 1, 0.20, nil, 1)
	r.record(1, 1, 0.2001, nil, 2) // within tolerance of 0.20
	r.record(1, 1, 0.30, nil, 3)
	phases := r.distinctPhases()
	if len(phases) != 3 {
		t.Fatalf("distinctPhases() = %v, want 3 distinct values", phases)
	}
}

func TestUsageRingWraps(t *testing.T) {
	var r usageRing
	for f := int64(0); f < InactiveWindow+2; f++ {
		r.record(1, 1, float64(f)/100, nil, f)
	}
	// Frame 0's row has been overwritten by frame InactiveWindow.
	phases := r.distinctPhases()
	if len(phases) != InactiveWindow {
		t.Fatalf("distinctPhases() after wraparound = %d entries, want %d", len(phases), InactiveWindow)
	}
}

func TestUsageRingPhaseForNewestFirst(t *testing.T) {
	var r usageRing
	r.record(1, 5, 0.10, nil, 10)
	r.record(1, 5, 0.20, nil, 11)
	p, ok := r.phaseFor(5, 11)
	if !ok || p != 0.20 {
		t.Fatalf("phaseFor = (%v, %v), want (0.20, true)", p, ok)
	}
}

func TestUsageRingPhaseForFallback(t *testing.T) {
	var r usageRing
	r.record(1, 9, 0.77, nil, 3)
	// Querying a different clip than what was recorded should still
	// fall back to whatever is in the window, to preserve continuity
	// across a mid-bundle clip switch.
	p, ok := r.phaseFor(42, 3)
	if !ok || p != 0.77 {
		t.Fatalf("phaseFor fallback = (%v, %v), want (0.77, true)", p, ok)
	}
}

func TestUsageRingPhaseForEmpty(t *testing.T) {
	var r usageRing
	if _, ok := r.phaseFor(1, 0); ok {
		t.Fatal("phaseFor on an empty ring should report not found")
	}
}
