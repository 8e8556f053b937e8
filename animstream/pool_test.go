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

func TestLoaderPoolAcquireRelease(t *testing.T) {
	fs := newFakeFS()
	p := NewLoaderPool(fs)
	if p.NumFree() != MaxLoaders {
		t.Fatalf("NumFree() = %d, want %d", p.NumFree(), MaxLoaders)
	}
	l := p.Acquire()
	if l == nil {
		t.Fatal("Acquire on a fresh pool should never return nil")
	}
	if p.NumFree() != MaxLoaders-1 {
		t.Fatalf("NumFree() after one Acquire = %d, want %d", p.NumFree(), MaxLoaders-1)
	}
	p.Release(l)
	if p.NumFree() != MaxLoaders {
		t.Fatalf("NumFree() after Release of an otherwise-idle loader = %d, want %d", p.NumFree(), MaxLoaders)
	}
}

func TestLoaderPoolExhaustion(t *testing.T) {
	fs := newFakeFS()
	p := NewLoaderPool(fs)
	var got []*Loader
	for i := 0; i < MaxLoaders; i++ {
		l := p.Acquire()
		if l == nil {
			t.Fatalf("Acquire failed on iteration %d of %d", i, MaxLoaders)
		}
		got = append(got, l)
	}
	if p.Acquire() != nil {
		t.Fatal("Acquire should return nil once every loader is in use")
	}
	p.Release(got[0])
	if p.Acquire() == nil {
		t.Fatal("Acquire should succeed again after a Release")
	}
}

func TestLoaderPoolReleaseWaitsForGracefulClose(t *testing.T) {
	fs := newFakeFS()
	fs.putFile("walk", []byte("0123456789"))
	p := NewLoaderPool(fs)
	l := p.Acquire()
	for {
		ok, err := l.RequestOpen("walk")
		if err != nil {
			t.Fatalf("RequestOpen: %v", err)
		}
		if ok {
			break
		}
	}
	p.Release(l)
	if p.NumFree() != MaxLoaders-1 {
		t.Fatal("a released loader that is still open should not count as free until it closes")
	}
	for p.NumFree() != MaxLoaders {
		p.Update()
	}
}

func TestLoaderPoolForceRelease(t *testing.T) {
	fs := newFakeFS()
	fs.latency = 2
	fs.putFile("walk", []byte("0123456789"))
	p := NewLoaderPool(fs)
	l := p.Acquire()
	l.RequestOpen("walk")
	p.ForceRelease(l)
	if p.NumFree() != MaxLoaders {
		t.Fatalf("NumFree() after ForceRelease = %d, want %d", p.NumFree(), MaxLoaders)
	}
}

func TestLoaderPoolSetInUseUnownedPanics(t *testing.T) {
	fs := newFakeFS()
	p := NewLoaderPool(fs)
	other := NewLoader(newFakeFS())
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic releasing a loader this pool does not own")
		}
	}()
	p.Release(other)
}
