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

// Priority is the scheduling priority passed to async file-system
// ops. AnimStream work is always issued at PriorityAnimStream; the
// type exists so a Filesystem implementation shared across subsystems
// can arbitrate fairly between them.
type Priority int

// PriorityAnimStream is the priority at which every op issued by this
// package is scheduled.
const PriorityAnimStream Priority = 10

// Handle is an opaque open-file handle returned by Filesystem.OpenAsync.
type Handle interface{}

// Op is an opaque handle to an in-flight asynchronous file-system
// operation (open, read, or close).
type Op interface{}

// Filesystem is the asynchronous, positioned-I/O collaborator
// consumed from outside this package. Every call here either
// returns immediately having only queued work (the *Async methods)
// or is a cheap, non-blocking poll (IsDone). A real implementation is
// backed by worker threads or an OS async-I/O facility; loaders never
// block on it except via ForcefulShutdown's explicit poll loop.
type Filesystem interface {
	// OpenAsync begins opening path at the given priority. It
	// returns a Handle usable with PreadAsync/CloseAsync once the
	// returned Op reports done via IsDone, and an error only if the
	// op could not even be queued.
	OpenAsync(path string, pri Priority) (Handle, Op, error)

	// PreadAsync issues one positioned async read of len(dst) bytes
	// from h at offset, at the given priority. The destination slice
	// must remain valid and unmodified until the returned Op is done.
	PreadAsync(h Handle, dst []byte, offset int64, pri Priority) (Op, error)

	// IsDone polls op. If the op has completed, ok is true, n is the
	// number of bytes actually transferred (meaningful for reads;
	// zero for opens and closes), and err carries a non-nil
	// completion status on failure.
	IsDone(op Op) (ok bool, n int, err error)

	// ReleaseOp releases any resources held by a completed op. It is
	// an error to call ReleaseOp before IsDone has reported true.
	ReleaseOp(op Op)

	// CloseAsync begins closing h.
	CloseAsync(h Handle) (Op, error)

	// Hint issues a fire-and-forget read-ahead of [offset,
	// offset+length) on h, solely to warm the OS/device cache.
	// Implementations are free to ignore it entirely; its completion,
	// if any, is never observed by the caller. This replaces the
	// legacy dummy-destination prefetch-probe table (see design
	// notes) with an explicit collaborator API.
	Hint(h Handle, offset int64, length int)

	// GetPath resolves a stream name to its on-disk path, e.g.
	// "<dataDir>/animstream<N>/<streamName>.stm".
	GetPath(streamName string) string
}

// ResourceType identifies the kind of engine resource embedded in a
// per-slot package payload.
type ResourceType uint8

const (
	ResourceUnknown ResourceType = iota
	// ResourceAnim is the resource type the streaming core looks for
	// in each loaded per-slot payload (exactly one ANIM
	// resource exists per per-slot payload").
	ResourceAnim
)

// Resource is one resource parsed out of a per-slot package payload.
type Resource struct {
	Type    ResourceType
	Payload []byte
}

// PackageHeaderSize is the fixed header every per-slot payload carries
// ahead of its resources.
const PackageHeaderSize = 16

// PackageParser is the collaborator that resolves an in-memory
// package's resources. buf is
// exactly one per-slot payload, header included.
type PackageParser interface {
	Parse(buf []byte) ([]Resource, error)
}

// ArtItemAnim is the resolvable animation handle gameplay and the
// renderer consume. A header-only ArtItemAnim (installed by Attach)
// carries only NumFrames; a chunk-bound ArtItemAnim additionally
// points at the resource bytes resolved from a loaded chunk buffer.
type ArtItemAnim struct {
	ClipName string
	// NumFrames is the clip's total frame count, used to convert a
	// phase in [0,1] to a chunk index.
	NumFrames int
	// Generation identifies the anim master table load that produced
	// this handle; NotifyAnimTableUpdated bumps the table's
	// generation, and a stream whose header generation has fallen
	// behind is reset.
	Generation uint32
	// Data is the resource payload resolved from a chunk buffer, or
	// nil for a header-only handle.
	Data []byte
}

// AnimTable is the process-global anim master table collaborator
// it resolves (skeletonId, resource name) to an ArtItemAnim,
// most importantly the permanent "<clipName>-chunk-0" resource every
// Attach call requires to succeed.
type AnimTable interface {
	Resolve(skel SkeletonID, name string) (*ArtItemAnim, bool)
	// Generation returns the table's current load generation; it is
	// bumped every time the table is reloaded (NotifyAnimTableUpdated).
	Generation() uint32
}
