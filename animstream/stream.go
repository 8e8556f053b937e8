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

import "sync"

// Stream is the demand-paged view of one Definition: the permanent
// chunk 0 plus up to two streamed chunks, the loader currently
// reading on its behalf, and the per-slot art-item handles gameplay
// reads through GetArtItem.
//
// A Stream is driven by its owning Manager: Update is called from the
// single update thread, while Attach (through Manager.NotifyUsage) and
// GetArtItem may be called from gameplay/render threads. Every method
// takes s.mu, so these calls are serialized against Update.
type Stream struct {
	def       *Definition
	animTable AnimTable
	pkgParser PackageParser
	buffer    *StreamingBuffer
	pool      *LoaderPool
	watchdog  RenderWatchdog
	logger    Logger

	mu sync.Mutex

	headers  []*ArtItemAnim
	attached []bool

	chunks        [NumResidentChunks]*chunk
	numUsedChunks int

	loader              *Loader
	requestedBlockIndex int
	pendingChunkIndex   int
	pendingChunk        *chunk

	totalFrames    int
	animGeneration uint32

	lastUsedOnFrame         int64
	waitRenderFrameComplete int64

	usage usageRing

	fellBehindWarned    bool
	poolExhaustedLogged bool
}

// NewStream constructs a Stream bound to def. watchdog and logger may
// be nil; a nil watchdog behaves as if every frame were immediately
// render-complete, and a nil logger discards diagnostics.
func NewStream(def *Definition, animTable AnimTable, pkgParser PackageParser, buffer *StreamingBuffer, pool *LoaderPool, watchdog RenderWatchdog, logger Logger) *Stream {
	if logger == nil {
		logger = nopLogger{}
	}
	if watchdog == nil {
		watchdog = immediateWatchdog{}
	}
	s := &Stream{
		def:                 def,
		animTable:           animTable,
		pkgParser:           pkgParser,
		buffer:              buffer,
		pool:                pool,
		watchdog:            watchdog,
		logger:              logger,
		headers:             make([]*ArtItemAnim, def.NumSlots()),
		attached:            make([]bool, def.NumSlots()),
		requestedBlockIndex: emptyChunkIndex,
		pendingChunkIndex:   emptyChunkIndex,
	}
	for i := range s.chunks {
		s.chunks[i] = newChunk(def.NumSlots())
	}
	return s
}

// Name returns the stream definition's name, for logging and registry
// lookups.
func (s *Stream) Name() string { return s.def.Name }

// Attach binds (skel, clip) to its slot and installs the permanent
// chunk-0 art item resolved from the anim master table. It must
// succeed for a slot before GetArtItem or Update will do anything
// useful for that slot; failure to resolve the chunk-0 resource is an
// authoring/content error and is always fatal, since continuing would
// mean silently serving garbage animation data.
func (s *Stream) Attach(skel SkeletonID, clip ClipID, headerAnim *ArtItemAnim, frame int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.def.SlotIndex(skel, clip)
	if err != nil {
		return err
	}
	if s.totalFrames == 0 {
		s.totalFrames = headerAnim.NumFrames
	} else if s.totalFrames != headerAnim.NumFrames {
		s.logger.Printf("animstream: stream %q slot %d frame count %d does not match the stream's established %d",
			s.def.Name, idx, headerAnim.NumFrames, s.totalFrames)
	}

	chunk0Name := s.def.Slots[idx].ClipName + "-chunk-0"
	first, ok := s.animTable.Resolve(skel, chunk0Name)
	if !ok {
		fatalf("animstream: chunk-0 resource %q not found for stream %q", chunk0Name, s.def.Name)
	}

	c0 := s.chunks[0]
	end := float64(first.NumFrames) / float64(s.totalFrames)
	if end >= 1 {
		end = terminalPhaseEnd
	}
	c0.chunkIndex = 0
	c0.phaseStart = 0
	c0.phaseEnd = end
	c0.slots[idx] = first
	if s.numUsedChunks < 1 {
		s.numUsedChunks = 1
	}

	s.headers[idx] = headerAnim
	s.attached[idx] = true
	s.lastUsedOnFrame = frame
	s.waitRenderFrameComplete = frame
	s.animGeneration = s.animTable.Generation()
	return nil
}

// GetArtItem returns the art item serving phase p for (skel, clip),
// falling back to the permanent chunk-0 item when no streamed chunk
// currently covers p (the slot has not caught up yet, or p wrapped
// back into territory that has been evicted). It returns nil if the
// slot was never attached.
func (s *Stream) GetArtItem(skel SkeletonID, clip ClipID, phase float64) *ArtItemAnim {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.def.SlotIndex(skel, clip)
	if err != nil || !s.attached[idx] {
		return nil
	}
	for i := 0; i < s.numUsedChunks; i++ {
		c := s.chunks[i]
		if c.chunkIndex != 0 && c.contains(phase) && c.slots[idx] != nil {
			return c.slots[idx]
		}
	}
	return s.chunks[0].slots[idx]
}

// IsLoaded reports whether GetArtItem would currently return a
// streamed (non-fallback) art item for (skel, clip, phase).
func (s *Stream) IsLoaded(skel SkeletonID, clip ClipID, phase float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.def.SlotIndex(skel, clip)
	if err != nil || !s.attached[idx] {
		return false
	}
	for i := 0; i < s.numUsedChunks; i++ {
		c := s.chunks[i]
		if c.chunkIndex != 0 && c.contains(phase) && c.slots[idx] != nil {
			return true
		}
	}
	return false
}

// Busy reports whether the stream currently holds or is waiting on a
// loader: a read in flight, or an open/close still winding down.
func (s *Stream) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestedBlockIndex != emptyChunkIndex || (s.loader != nil && s.loader.IsActive())
}

// recordUsage feeds one (clip, phase) sample reported for frame into
// the stream's sliding usage window, refreshing lastUsedOnFrame. It is
// called by the Manager from NotifyUsage, not directly by gameplay.
func (s *Stream) recordUsage(skel SkeletonID, clip ClipID, phase float64, frame int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.def.SlotIndex(skel, clip)
	if err != nil {
		return
	}
	_, diverged := s.usage.record(skel, clip, phase, s.headers[idx], frame)
	if diverged {
		s.logger.Printf("animstream: stream %q saw diverging phases for the same frame %d", s.def.Name, frame)
	}
	if frame > s.lastUsedOnFrame {
		s.lastUsedOnFrame = frame
	}
}

// phaseAt answers GetAnimStreamPhase for clip by walking the stream's
// usage window.
func (s *Stream) phaseAt(clip ClipID, frame int64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage.phaseFor(clip, frame)
}

// slotAttached reports whether (skel, clip)'s slot has been attached.
func (s *Stream) slotAttached(skel SkeletonID, clip ClipID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.def.SlotIndex(skel, clip)
	if err != nil {
		return false
	}
	return s.attached[idx]
}

// currentPhases returns the distinct phase values reported for this
// stream over its usage window, the input Update needs each frame.
func (s *Stream) currentPhases() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage.distinctPhases()
}

// checkGeneration resets the stream if the anim master table has been
// reloaded since it was last attached, since every header ArtItemAnim
// and resolved chunk payload it holds may now point at freed or
// superseded content.
func (s *Stream) checkGeneration(gen uint32) {
	s.mu.Lock()
	attached := s.numUsedChunks > 0 && s.animGeneration != gen
	s.mu.Unlock()
	if attached {
		s.Reset()
	}
}

// Reset tears the stream back down to its unattached state: any
// loader is forcefully shut down and returned to the pool, every
// pooled chunk buffer is freed, and every slot is detached. A detached
// stream re-attaches lazily the next time NotifyUsage sees it.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// resetLocked is Reset's body for callers that already hold s.mu.
func (s *Stream) resetLocked() {
	if s.loader != nil {
		s.pool.ForceRelease(s.loader)
		s.loader = nil
	}
	for i := 1; i < NumResidentChunks; i++ {
		c := s.chunks[i]
		if c.buf != nil {
			s.buffer.Free(c.buf)
			c.buf = nil
		}
		c.clear()
	}
	s.chunks[0].clear()
	for i := range s.headers {
		s.headers[i] = nil
		s.attached[i] = false
	}
	s.numUsedChunks = 0
	s.requestedBlockIndex = emptyChunkIndex
	s.pendingChunkIndex = emptyChunkIndex
	s.pendingChunk = nil
	s.totalFrames = 0
	s.animGeneration = 0
	s.usage = usageRing{}
	s.fellBehindWarned = false
	s.poolExhaustedLogged = false
}

// Update runs the stream's per-frame state machine against the
// distinct phase values reported for it this frame: idle retirement,
// chunk eviction, issuing or polling the next read, and validating
// that every requested phase still resolves to a resident chunk.
func (s *Stream) Update(phases []float64, frame int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasAttachedSlot() {
		return
	}

	if s.requestedBlockIndex == emptyChunkIndex && len(phases) == 0 &&
		frame > s.lastUsedOnFrame+InactiveWindow+1 &&
		s.watchdog.GetLastPreparedFrameNumber() > s.lastUsedOnFrame+InactiveWindow+1 {
		s.resetLocked()
		return
	}

	s.evict(phases, frame)
	s.requestNext(phases, frame)
	s.validate(phases)
}

func (s *Stream) hasAttachedSlot() bool {
	for _, a := range s.attached {
		if a {
			return true
		}
	}
	return false
}

// evict drops any non-permanent resident chunk c for which no requested
// phase maps to c or to c-1, compacting the occupied chunk slots to the front of the
// array so the next streamed read always lands at s.chunks[s.numUsedChunks].
func (s *Stream) evict(phases []float64, frame int64) {
	i := 1
	for i < s.numUsedChunks {
		c := s.chunks[i]
		if s.chunkStillWanted(c.chunkIndex, phases) {
			i++
			continue
		}
		last := s.numUsedChunks - 1
		s.chunks[i], s.chunks[last] = s.chunks[last], s.chunks[i]
		s.chunks[last].clear()
		s.numUsedChunks--
		s.waitRenderFrameComplete = frame
	}
}

func (s *Stream) chunkStillWanted(idx int, phases []float64) bool {
	for _, p := range phases {
		want := chunkIndexForPhase(p, s.totalFrames, s.def.FramesPerBlock)
		if want == idx || want == idx-1 {
			return true
		}
	}
	return false
}

// requestNext drives the loader's lifecycle: poll a read already in
// flight to completion, or, if none is in flight, decide whether a new
// one is needed and issue it.
func (s *Stream) requestNext(phases []float64, frame int64) {
	if s.requestedBlockIndex != emptyChunkIndex {
		done, err := s.loader.WaitForRead()
		if !done {
			return
		}
		if err != nil {
			if onDisc {
				fatalf("animstream: stream %q: %v", s.def.Name, err)
			}
			s.logger.Printf("animstream: stream %q: %v", s.def.Name, err)
			s.requestedBlockIndex = emptyChunkIndex
			s.pendingChunkIndex = emptyChunkIndex
			s.pendingChunk = nil
			return
		}
		s.completeRead()
		return
	}

	if len(phases) > 0 && s.allPhasesFinal(phases) {
		if s.loader != nil {
			s.pool.Release(s.loader)
			s.loader = nil
		}
		return
	}

	if s.watchdog.GetLastPreparedFrameNumber() < s.waitRenderFrameComplete {
		return
	}

	if s.loader == nil {
		l := s.pool.Acquire()
		if l == nil {
			if !s.poolExhaustedLogged {
				s.logger.Printf("animstream: stream %q: could not acquire a loader, retrying", s.def.Name)
			}
			s.poolExhaustedLogged = true
			return
		}
		s.poolExhaustedLogged = false
		s.loader = l
	}

	if !s.loader.IsOpen() {
		ok, err := s.loader.RequestOpen(s.def.Name)
		if err != nil {
			s.logger.Printf("animstream: stream %q: %v", s.def.Name, err)
			s.pool.Release(s.loader)
			s.loader = nil
			return
		}
		if !ok {
			return
		}
	}

	if err := s.ensureChunkBuffers(); err != nil {
		fatalf("animstream: stream %q: %v", s.def.Name, err)
	}

	if s.numUsedChunks >= NumResidentChunks {
		return
	}

	wanted, ok := s.wantedChunk(phases)
	if !ok {
		return
	}

	dest := s.chunks[s.numUsedChunks]
	block := wanted - 1
	if err := s.loader.Read(dest.buf, s.def.BlockOffset(block), s.def.BlockSize(block), s.def.Name); err != nil {
		s.logger.Printf("animstream: stream %q: %v", s.def.Name, err)
		return
	}
	s.requestedBlockIndex = block
	s.pendingChunkIndex = wanted
	// Pin the destination chunk by identity: evict() can reshuffle
	// array indices (and numUsedChunks) on later frames while this read
	// is still in flight, so completeRead must not re-derive the
	// destination from s.numUsedChunks at completion time.
	s.pendingChunk = dest
}

// allPhasesFinal reports whether every reported phase already resolves
// to the clip's final chunk, the signal to give the loader back to the
// pool rather than hold it idle.
func (s *Stream) allPhasesFinal(phases []float64) bool {
	last := s.def.LastChunkIndex()
	for _, p := range phases {
		if chunkIndexForPhase(p, s.totalFrames, s.def.FramesPerBlock) != last {
			return false
		}
	}
	return true
}

// wantedChunk picks the smallest not-yet-resident chunk index c >= 1
// such that some requested phase maps to c or to c-1 (a phase just
// ahead of the streamed window should already trigger the next
// chunk's read, not wait for playback to land inside it).
func (s *Stream) wantedChunk(phases []float64) (int, bool) {
	last := s.def.LastChunkIndex()
	for c := 1; c <= last; c++ {
		if s.resident(c) {
			continue
		}
		for _, p := range phases {
			want := chunkIndexForPhase(p, s.totalFrames, s.def.FramesPerBlock)
			if want == c || want == c-1 {
				return c, true
			}
		}
	}
	return 0, false
}

func (s *Stream) resident(idx int) bool {
	for i := 0; i < s.numUsedChunks; i++ {
		if s.chunks[i].chunkIndex == idx {
			return true
		}
	}
	return false
}

// ensureChunkBuffers allocates the two non-permanent chunk buffers
// from the streaming pool on first use. They are retained across
// evictions and only freed by Reset, so a stream settles into a
// steady state of zero allocator traffic once both slots have filled
// at least once.
func (s *Stream) ensureChunkBuffers() error {
	size := s.def.MaxBlockSize + PackageHeaderSize
	for i := 1; i < NumResidentChunks; i++ {
		if s.chunks[i].buf != nil {
			continue
		}
		buf, err := s.buffer.Malloc(size)
		if err != nil {
			return err
		}
		s.chunks[i].buf = buf
	}
	return nil
}

// completeRead parses the just-finished read's buffer into per-slot
// art items and publishes the new chunk. A malformed payload (missing
// ANIM resource) is an authoring error and is fatal, matching Attach's
// chunk-0 resolve failure.
func (s *Stream) completeRead() {
	dest := s.pendingChunk
	// dest may no longer sit at chunks[numUsedChunks]: evict() can have
	// shuffled occupied chunks into/out of that slot on frames between
	// issuing this read and it completing. Swap dest back into the
	// current free slot so the [0, numUsedChunks) occupied-prefix
	// invariant holds before it's marked resident below.
	for i := range s.chunks {
		if s.chunks[i] == dest {
			s.chunks[i], s.chunks[s.numUsedChunks] = s.chunks[s.numUsedChunks], s.chunks[i]
			break
		}
	}
	off := 0
	for slotIdx, sd := range s.def.Slots {
		n := s.def.SlotSize(s.requestedBlockIndex, slotIdx)
		payload := dest.buf[off : off+n]
		off += n

		resources, err := s.pkgParser.Parse(payload)
		if err != nil {
			fatalf("animstream: stream %q chunk %d slot %d: %v", s.def.Name, s.pendingChunkIndex, slotIdx, err)
		}
		var anim *Resource
		for i := range resources {
			if resources[i].Type == ResourceAnim {
				anim = &resources[i]
				break
			}
		}
		if anim == nil {
			fatalf("animstream: stream %q chunk %d slot %d: no ANIM resource in payload", s.def.Name, s.pendingChunkIndex, slotIdx)
		}
		dest.slots[slotIdx] = &ArtItemAnim{
			ClipName:   sd.ClipName,
			NumFrames:  s.totalFrames,
			Generation: s.animGeneration,
			Data:       anim.Payload,
		}
	}

	framesInChunk := s.def.FramesPerBlock
	remaining := s.totalFrames - s.pendingChunkIndex*s.def.FramesPerBlock
	if remaining < framesInChunk {
		framesInChunk = remaining
	}
	dest.phaseStart, dest.phaseEnd = chunkPhaseBounds(s.pendingChunkIndex, s.def.FramesPerBlock, framesInChunk, s.totalFrames)
	dest.chunkIndex = s.pendingChunkIndex

	s.numUsedChunks++
	s.requestedBlockIndex = emptyChunkIndex
	s.pendingChunkIndex = emptyChunkIndex
	s.pendingChunk = nil
}

// validate confirms every requested phase still resolves to a resident
// chunk, surfacing a "fell behind" warning once per stall rather than
// once per frame of an ongoing one.
func (s *Stream) validate(phases []float64) {
	behind := false
	for _, p := range phases {
		covered := false
		for i := 0; i < s.numUsedChunks; i++ {
			if s.chunks[i].contains(p) {
				covered = true
				break
			}
		}
		if !covered {
			behind = true
			break
		}
	}
	if behind && !s.fellBehindWarned {
		s.logger.Printf("animstream: stream %q fell behind its requested phase", s.def.Name)
	}
	s.fellBehindWarned = behind
}
