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

func TestChunkIndexForPhase(t *testing.T) {
	cases := []struct {
		phase          float64
		totalFrames    int
		framesPerBlock int
		want           int
	}{
		{0, 30, 10, 0},
		{0.05, 30, 10, 0},
		{0.34, 30, 10, 1},
		{0.67, 30, 10, 2},
		{0.99, 30, 10, 2},
	}
	for _, c := range cases {
		got := chunkIndexForPhase(c.phase, c.totalFrames, c.framesPerBlock)
		if got != c.want {
			t.Errorf("chunkIndexForPhase(%v, %d, %d) = %d, want %d", c.phase, c.totalFrames, c.framesPerBlock, got, c.want)
		}
	}
}

// TestChunkPhaseBoundsAdjacency is the core correctness requirement
// the integer-numerator-first arithmetic exists for: one chunk's
// phaseEnd must be bitwise identical to the next chunk's phaseStart,
// or a phase sampled exactly on the boundary could fail to match
// either chunk's [start, end) interval.
func TestChunkPhaseBoundsAdjacency(t *testing.T) {
	totals := []int{30, 97, 101, 256}
	for _, total := range totals {
		const framesPerBlock = 10
		numChunks := (total + framesPerBlock - 1) / framesPerBlock
		for idx := 0; idx < numChunks-1; idx++ {
			framesInChunk := framesPerBlock
			if rem := total - idx*framesPerBlock; rem < framesInChunk {
				framesInChunk = rem
			}
			_, end := chunkPhaseBounds(idx, framesPerBlock, framesInChunk, total)

			nextFramesInChunk := framesPerBlock
			if rem := total - (idx+1)*framesPerBlock; rem < nextFramesInChunk {
				nextFramesInChunk = rem
			}
			nextStart, _ := chunkPhaseBounds(idx+1, framesPerBlock, nextFramesInChunk, total)

			if end != nextStart {
				t.Fatalf("total=%d idx=%d: chunk end %v != next chunk start %v (not bitwise equal)", total, idx, end, nextStart)
			}
		}
	}
}

func TestChunkPhaseBoundsTerminalWidening(t *testing.T) {
	start, end := chunkPhaseBounds(2, 10, 10, 30)
	if start != 2.0/3.0 {
		t.Fatalf("start = %v, want %v", start, 2.0/3.0)
	}
	if end != terminalPhaseEnd {
		t.Fatalf("final chunk's end = %v, want widened terminalPhaseEnd %v", end, terminalPhaseEnd)
	}
}

func TestChunkContains(t *testing.T) {
	c := newChunk(1)
	if c.contains(0.1) {
		t.Fatal("empty chunk should not contain any phase")
	}
	c.chunkIndex = 1
	c.phaseStart, c.phaseEnd = 0.2, 0.4
	if !c.contains(0.2) {
		t.Fatal("contains should be inclusive of phaseStart")
	}
	if c.contains(0.4) {
		t.Fatal("contains should be exclusive of phaseEnd")
	}
	if !c.contains(0.39) {
		t.Fatal("expected 0.39 to be contained")
	}
}

func TestChunkClearRetainsBuffer(t *testing.T) {
	c := newChunk(2)
	c.buf = make([]byte, 16)
	c.chunkIndex = 1
	c.slots[0] = &ArtItemAnim{ClipName: "x"}
	c.clear()
	if c.chunkIndex != emptyChunkIndex {
		t.Fatal("clear should mark the chunk empty")
	}
	if c.buf == nil {
		t.Fatal("clear should not release the pooled buffer")
	}
	if c.slots[0] != nil {
		t.Fatal("clear should drop per-slot pointers")
	}
}
