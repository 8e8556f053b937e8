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
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// MaxStreams is the fixed capacity of a Manager's stream registry.
const MaxStreams = 350

// shutdownConcurrency bounds how many streams Shutdown tears down at
// once, so a registry near MaxStreams doesn't fire hundreds of
// concurrent ForcefulShutdown busy-waits against the same Filesystem.
const shutdownConcurrency = 8

// Manager owns every registered Stream, the shared loader pool and
// streaming buffer they draw from, and the single entry points
// gameplay and the frame loop use: NotifyUsage to report phase,
// UpdateAll to drive every stream's state machine once per frame, and
// GetArtItem/GetAnimStreamPhase to read back what is currently loaded.
//
// Manager is safe for concurrent NotifyUsage/GetArtItem/GetAnimStreamPhase
// calls from gameplay and render threads; UpdateAll, RegisterStreamDef,
// UnregisterStreamDef, Reset, Shutdown, and NotifyAnimTableUpdated are
// intended to be called from a single owning thread, matching how the
// streams and loader pool they drive are themselves single-threaded.
type Manager struct {
	fs        Filesystem
	animTable AnimTable
	pkgParser PackageParser
	buffer    *StreamingBuffer
	pool      *LoaderPool
	watchdog  RenderWatchdog
	logger    Logger

	// Verbose gates the per-frame streaming-buffer high-water log line
	// UpdateAll emits.
	Verbose bool

	// Trace, if non-nil, receives a record of every NotifyUsage call.
	// It is nil in production; tools wire one in for capture-and-replay.
	Trace *TraceWriter

	mu        sync.Mutex
	streams   map[string]*Stream
	order     []string
	slotOwner map[uint64]*Stream

	attachGroup singleflight.Group
	frame       atomic.Int64
}

// NewManager constructs a Manager with its own streaming buffer of
// bufferSize bytes and a MaxLoaders-sized loader pool over fs.
// watchdog and logger may be nil.
func NewManager(fs Filesystem, animTable AnimTable, pkgParser PackageParser, bufferSize int, watchdog RenderWatchdog, logger Logger) *Manager {
	if logger == nil {
		logger = nopLogger{}
	}
	if watchdog == nil {
		watchdog = immediateWatchdog{}
	}
	return &Manager{
		fs:        fs,
		animTable: animTable,
		pkgParser: pkgParser,
		buffer:    NewStreamingBuffer(bufferSize),
		pool:      NewLoaderPool(fs),
		watchdog:  watchdog,
		logger:    logger,
		streams:   make(map[string]*Stream),
		slotOwner: make(map[uint64]*Stream),
	}
}

// RegisterStreamDef validates def and adds a new Stream for it to the
// registry. It fails if def.Name is already registered, the registry
// is at MaxStreams, or any of def's slots is already served by another
// registered stream.
func (m *Manager) RegisterStreamDef(def *Definition) (*Stream, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.streams[def.Name]; exists {
		return nil, fmt.Errorf("animstream: stream %q is already registered", def.Name)
	}
	if len(m.streams) >= MaxStreams {
		return nil, ErrRegistryFull
	}
	for _, sd := range def.Slots {
		if owner, exists := m.slotOwner[slotKey(sd.SkeletonID, sd.ClipID)]; exists {
			return nil, fmt.Errorf("animstream: skeleton %d clip %d is already served by stream %q, cannot register %q",
				sd.SkeletonID, sd.ClipID, owner.Name(), def.Name)
		}
	}

	st := NewStream(def, m.animTable, m.pkgParser, m.buffer, m.pool, m.watchdog, m.logger)
	m.streams[def.Name] = st
	m.order = append(m.order, def.Name)
	for _, sd := range def.Slots {
		m.slotOwner[slotKey(sd.SkeletonID, sd.ClipID)] = st
	}
	return st, nil
}

// UnregisterStreamDef removes a stream from the registry and resets
// it, releasing its loader and streaming-buffer allocations.
func (m *Manager) UnregisterStreamDef(name string) error {
	m.mu.Lock()
	st, ok := m.streams[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("animstream: stream %q is not registered", name)
	}
	delete(m.streams, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for _, sd := range st.def.Slots {
		delete(m.slotOwner, slotKey(sd.SkeletonID, sd.ClipID))
	}
	m.mu.Unlock()

	st.Reset()
	return nil
}

// NotifyUsage reports that gameplay sampled (skel, clip) at phase this
// frame. The first call for a slot lazily attaches its owning stream;
// concurrent first-calls for the same slot are collapsed into one
// Attach via a singleflight group, so gameplay does not need to
// coordinate who "owns" attaching a slot.
func (m *Manager) NotifyUsage(skel SkeletonID, clip ClipID, phase float64) error {
	m.mu.Lock()
	st, ok := m.slotOwner[slotKey(skel, clip)]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSlot
	}

	if !st.slotAttached(skel, clip) {
		key := strconv.FormatUint(slotKey(skel, clip), 16)
		_, err, _ := m.attachGroup.Do(key, func() (any, error) {
			if st.slotAttached(skel, clip) {
				return nil, nil
			}
			idx, err := st.def.SlotIndex(skel, clip)
			if err != nil {
				return nil, err
			}
			clipName := st.def.Slots[idx].ClipName
			header, ok := m.animTable.Resolve(skel, clipName)
			if !ok {
				return nil, fmt.Errorf("animstream: resolve header %q for stream %q: %w", clipName, st.Name(), ErrNotAttached)
			}
			return nil, st.Attach(skel, clip, header, m.frame.Load())
		})
		if err != nil {
			return err
		}
	}

	frame := m.frame.Load()
	st.recordUsage(skel, clip, phase, frame)
	if m.Trace != nil {
		if err := m.Trace.Record(frame, skel, clip, phase); err != nil {
			m.logger.Printf("animstream: trace write failed: %v", err)
		}
	}
	return nil
}

// UpdateAll advances frame and runs every registered stream's Update
// once, in registration order, followed by a loader-pool sweep that
// drives graceful close on any loader a stream released this frame.
func (m *Manager) UpdateAll(frame int64) {
	m.frame.Store(frame)

	m.mu.Lock()
	order := make([]string, len(m.order))
	copy(order, m.order)
	m.mu.Unlock()

	for _, name := range order {
		m.mu.Lock()
		st := m.streams[name]
		m.mu.Unlock()
		if st == nil {
			continue
		}
		st.Update(st.currentPhases(), frame)
	}

	m.pool.Update()

	if m.Verbose {
		m.logger.Printf("animstream: frame %d: streaming buffer used=%d peak=%d streams=%d",
			frame, m.buffer.Used(), m.buffer.HighWater(), len(order))
	}
}

// GetArtItem resolves the art item serving (skel, clip) at phase,
// including the terminal-chunk shortcut: a phase of 1.0 or beyond
// resolves directly to the "<clipName>-chunk-last" resource in the
// anim master table rather than through any stream's resident chunks,
// so a fully-played clip does not depend on streaming state. When that
// resource is absent, the stream resolves the phase as for any other.
func (m *Manager) GetArtItem(skel SkeletonID, clip ClipID, phase float64) *ArtItemAnim {
	m.mu.Lock()
	st, ok := m.slotOwner[slotKey(skel, clip)]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if phase >= 1 {
		if idx, err := st.def.SlotIndex(skel, clip); err == nil {
			name := st.def.Slots[idx].ClipName + "-chunk-last"
			if item, ok := m.animTable.Resolve(skel, name); ok {
				return item
			}
		}
	}
	return st.GetArtItem(skel, clip, phase)
}

// IsLoaded reports whether GetArtItem(skel, clip, phase) would
// currently return streamed (rather than fallback) data.
func (m *Manager) IsLoaded(skel SkeletonID, clip ClipID, phase float64) bool {
	m.mu.Lock()
	st, ok := m.slotOwner[slotKey(skel, clip)]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return st.IsLoaded(skel, clip, phase)
}

// GetAnimStreamPhase returns the most recent phase NotifyUsage
// recorded for clip within the owning stream's usage window. If clip
// has no record there, it returns the most recent record for any clip
// of the same stream.
func (m *Manager) GetAnimStreamPhase(skel SkeletonID, clip ClipID) (float64, bool) {
	m.mu.Lock()
	st, ok := m.slotOwner[slotKey(skel, clip)]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	return st.phaseAt(clip, m.frame.Load())
}

// AllocateStreamingBlockBuffer reserves size bytes from the manager's
// shared streaming pool for a caller outside the stream machinery
// itself (debug capture, a scratch decode buffer). It is the same
// pool chunk buffers are allocated from, so short-lived scratch use
// competes with streaming chunks for the same fixed budget. Exhaustion
// of the pool is a fatal halt (a panic), not a returned error.
func (m *Manager) AllocateStreamingBlockBuffer(size int) ([]byte, error) {
	buf, err := m.buffer.Malloc(size)
	if err != nil {
		fatalf("AllocateStreamingBlockBuffer(%d): %v", size, err)
	}
	return buf, nil
}

// FreeStreamingBlockBuffer returns a buffer obtained from
// AllocateStreamingBlockBuffer.
func (m *Manager) FreeStreamingBlockBuffer(buf []byte) {
	m.buffer.Free(buf)
}

// AnimStreamIsBusy reports whether any registered stream currently
// holds a loader or has a read in flight. Callers use this to decide
// whether it is safe to, for example, tear down the animation system
// without losing in-flight I/O.
func (m *Manager) AnimStreamIsBusy() bool {
	for _, st := range m.snapshotStreams() {
		if st.Busy() {
			return true
		}
	}
	return false
}

// Reset resets every registered stream to its unattached state,
// without removing any stream from the registry.
func (m *Manager) Reset() {
	for _, st := range m.snapshotStreams() {
		st.Reset()
	}
}

// NotifyAnimTableUpdated resets any stream whose attached headers were
// resolved against an older generation of the anim master table, so a
// hot-reload never leaves a stream holding pointers into freed or
// superseded content. Streams already on the current generation, or
// never attached, are left untouched.
func (m *Manager) NotifyAnimTableUpdated() {
	gen := m.animTable.Generation()
	for _, st := range m.snapshotStreams() {
		st.checkGeneration(gen)
	}
}

// Shutdown tears every registered stream down concurrently, bounded by
// shutdownConcurrency, and returns the first error encountered (Reset
// itself cannot fail; Shutdown exists to give ctx cancellation a seam
// and to match the bounded-teardown shape Manager's other operators
// use for tenant-scale fan-out).
func (m *Manager) Shutdown(ctx context.Context) error {
	streams := m.snapshotStreams()
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(shutdownConcurrency)
	for _, st := range streams {
		st := st
		g.Go(func() error {
			st.Reset()
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) snapshotStreams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Stream, 0, len(m.streams))
	for _, st := range m.streams {
		out = append(out, st)
	}
	return out
}
