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

import (
	"testing"
	"unsafe"
)

func TestStreamingBufferMallocFree(t *testing.T) {
	b := NewStreamingBuffer(1 << 20)
	buf, err := b.Malloc(100)
	if err != nil {
		t.Fatalf("Malloc: %v", err)
	}
	if len(buf) != 100 {
		t.Fatalf("Malloc returned %d bytes, want 100", len(buf))
	}
	if uintptr(unsafe.Pointer(&buf[0]))%streamingAlignment != 0 {
		t.Fatal("allocation is not 16-byte aligned")
	}
	if got := b.Used(); got != int64(classSize(100)) {
		t.Fatalf("Used() = %d, want %d", got, classSize(100))
	}
	b.Free(buf)
	if got := b.Used(); got != 0 {
		t.Fatalf("Used() after Free = %d, want 0", got)
	}
}

func TestStreamingBufferSeparatesClasses(t *testing.T) {
	b := NewStreamingBuffer(1 << 20)
	small, _ := b.Malloc(10)
	big, _ := b.Malloc(1000)
	if classSize(10) == classSize(1000) {
		t.Fatal("test fixture needs sizes that land in different classes")
	}
	b.Free(small)
	b.Free(big)
	if b.Used() != 0 {
		t.Fatalf("Used() after freeing both = %d, want 0", b.Used())
	}
}

func TestStreamingBufferHighWater(t *testing.T) {
	b := NewStreamingBuffer(1 << 20)
	a, _ := b.Malloc(64)
	c, _ := b.Malloc(64)
	peak := b.HighWater()
	b.Free(a)
	b.Free(c)
	if b.HighWater() != peak {
		t.Fatal("HighWater should not decrease after Free")
	}
	if peak < int64(2*classSize(64)) {
		t.Fatalf("HighWater = %d, want at least %d", peak, 2*classSize(64))
	}
}

func TestStreamingBufferExhaustion(t *testing.T) {
	b := NewStreamingBuffer(4096)
	var bufs [][]byte
	var lastErr error
	for i := 0; i < 10000; i++ {
		buf, err := b.Malloc(64)
		if err != nil {
			lastErr = err
			break
		}
		bufs = append(bufs, buf)
	}
	if lastErr != ErrBufferExhausted {
		t.Fatalf("expected ErrBufferExhausted eventually, got %v", lastErr)
	}
	for _, buf := range bufs {
		b.Free(buf)
	}
}

func TestStreamingBufferDoubleFreePanics(t *testing.T) {
	b := NewStreamingBuffer(1 << 20)
	buf, _ := b.Malloc(32)
	b.Free(buf)
	defer func() {
		if recover() == nil {
			t.Fatal("expected double free to panic")
		}
	}()
	b.Free(buf)
}

func TestClassSizeRoundsUpToPowerOfTwo(t *testing.T) {
	cases := map[int]int{1: minSizeClass, 16: 16, 17: 32, 64: 64, 65: 128, 1000: 1024}
	for size, want := range cases {
		if got := classSize(size); got != want {
			t.Errorf("classSize(%d) = %d, want %d", size, got, want)
		}
	}
}
