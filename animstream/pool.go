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

import "golang.org/x/exp/slices"

// MaxLoaders is M, the fixed size of the loader pool.
const MaxLoaders = 10

// LoaderPool is a bounded free-list of MaxLoaders loaders. It is
// driven from a single thread (the same one that runs Manager.UpdateAll)
// and does no locking of its own.
type LoaderPool struct {
	slots [MaxLoaders]poolSlot
}

type poolSlot struct {
	loader *Loader
	inUse  bool
}

// NewLoaderPool constructs a pool of MaxLoaders loaders, all backed by
// fs.
func NewLoaderPool(fs Filesystem) *LoaderPool {
	p := &LoaderPool{}
	for i := range p.slots {
		p.slots[i].loader = NewLoader(fs)
	}
	return p
}

// Acquire returns the first loader that is neither in-use nor active,
// marking it in-use, or nil if the pool is saturated (every loader is
// either borrowed or still winding down a close).
func (p *LoaderPool) Acquire() *Loader {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.inUse && !s.loader.IsActive() {
			s.inUse = true
			return s.loader
		}
	}
	return nil
}

// Release clears the in-use flag on l. The loader remains active
// (and thus unavailable to Acquire) until its graceful close, driven
// by Update, completes.
func (p *LoaderPool) Release(l *Loader) {
	p.setInUse(l, false)
}

// ForceRelease forcefully shuts l down (blocking) and then clears its
// in-use flag. Reserved for error-recovery and stream Reset.
func (p *LoaderPool) ForceRelease(l *Loader) {
	l.ForcefulShutdown()
	p.setInUse(l, false)
}

func (p *LoaderPool) setInUse(l *Loader, v bool) {
	for i := range p.slots {
		if p.slots[i].loader == l {
			p.slots[i].inUse = v
			return
		}
	}
	fatalf("LoaderPool: Release of a loader not owned by this pool")
}

// Update drives graceful shutdown of every loader that is not
// currently borrowed but is still active, e.g. one whose owning
// stream called Release while a close had not yet completed. This is
// how idle loaders eventually give up their file handles and become
// acquirable again. Loaders are shut down oldest-issued first, so a
// pool under sustained pressure frees its longest-idle handles ahead
// of ones that only just went idle.
func (p *LoaderPool) Update() {
	for _, l := range p.idleLoaders() {
		l.GracefulShutdown()
	}
}

// NumFree returns the number of loaders that are neither in-use nor
// active, for diagnostics and tests.
func (p *LoaderPool) NumFree() int {
	n := 0
	for i := range p.slots {
		if !p.slots[i].inUse && !p.slots[i].loader.IsActive() {
			n++
		}
	}
	return n
}

// idleLoaders returns every loader that is idle-but-active (released
// by its stream but not yet closed), oldest-issued first.
func (p *LoaderPool) idleLoaders() []*Loader {
	var idle []*Loader
	for i := range p.slots {
		s := &p.slots[i]
		if !s.inUse && s.loader.IsActive() {
			idle = append(idle, s.loader)
		}
	}
	slices.SortFunc(idle, func(a, b *Loader) bool {
		return a.issuedAt.Before(b.issuedAt)
	})
	return idle
}
