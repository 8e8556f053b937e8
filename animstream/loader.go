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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// loaderState is the Loader's lifecycle state:
//
//	Idle -> Opening -> Open -> Reading -> Open -> ... -> Closing -> Idle
//
// Any state may transition to Closing via a shutdown call.
type loaderState int

const (
	loaderIdle loaderState = iota
	loaderOpening
	loaderOpen
	loaderReading
	loaderClosing
)

// readAheadAlign is the granularity speculative hints are aligned up
// to; it matches the legacy prefetch scaffolding's 512KiB stride.
const readAheadAlign = 512 * 1024

// readAheadProbes is P, the number of speculative hints issued on the
// very first chunk-1 read of a stream file.
const readAheadProbes = 7

// readAheadLookahead is the number of readAheadAlign strides a
// non-zero-offset read looks ahead for its single follow-on hint.
const readAheadLookahead = 8

// Loader owns one file handle and at most one outstanding async op at
// a time. It is the unit the loader pool hands out to streams; a
// stream borrows exactly one while it has an open file or a read in
// flight.
type Loader struct {
	ID uuid.UUID

	fs    Filesystem
	state loaderState

	handle     Handle
	op         Op
	streamName string
	path       string

	lastReadSize int
	issuedAt     time.Time
}

// NewLoader constructs a Loader bound to fs. Loaders are created once
// by the pool and reused across streams for the engine's lifetime.
func NewLoader(fs Filesystem) *Loader {
	return &Loader{ID: uuid.New(), fs: fs, state: loaderIdle}
}

// IsOpen reports whether the loader's file handle is open and usable
// for reads.
func (l *Loader) IsOpen() bool {
	return l.state == loaderOpen || l.state == loaderReading
}

// IsReading reports whether a read is currently in flight.
func (l *Loader) IsReading() bool { return l.state == loaderReading }

// IsActive reports whether the loader owns any resource that must be
// torn down before it can be returned to the pool's free state: an
// open handle, or any outstanding op (open, read, or close).
func (l *Loader) IsActive() bool {
	return l.state != loaderIdle
}

// RequestOpen asynchronously opens streamName. It is idempotent: a
// call while an open is already pending or already satisfied is a
// no-op that reports the current state. Returns true once IsOpen()
// would also return true.
func (l *Loader) RequestOpen(streamName string) (bool, error) {
	switch l.state {
	case loaderOpen, loaderReading:
		return true, nil
	case loaderOpening:
		done, n, err := l.fs.IsDone(l.op)
		_ = n
		if !done {
			return false, nil
		}
		l.fs.ReleaseOp(l.op)
		l.op = nil
		if err != nil {
			l.state = loaderIdle
			l.handle = nil
			return false, fmt.Errorf("animstream: open %q: %w", streamName, joinErr(ErrOpenFailure, err))
		}
		l.state = loaderOpen
		return true, nil
	case loaderClosing:
		return false, fmt.Errorf("animstream: RequestOpen(%q) called while closing", streamName)
	}

	// loaderIdle: issue the open.
	l.streamName = streamName
	l.path = l.fs.GetPath(streamName)
	h, op, err := l.fs.OpenAsync(l.path, PriorityAnimStream)
	if err != nil {
		return false, fmt.Errorf("animstream: open %q: %w", streamName, joinErr(ErrOpenFailure, err))
	}
	l.handle = h
	l.op = op
	l.state = loaderOpening
	return false, nil
}

// Read issues one positioned async read of size bytes at offset into
// dst. Precondition: IsOpen() && !IsReading(). On the first chunk-1
// read (offset == 0) it additionally issues P speculative cache-warm
// hints; for a non-zero offset it issues one look-ahead hint.
func (l *Loader) Read(dst []byte, offset int64, size int, streamName string) error {
	if !l.IsOpen() {
		fatalf("Loader.Read(%q) called while not open", streamName)
	}
	if l.IsReading() {
		fatalf("Loader.Read(%q) called with a read already in flight", streamName)
	}
	op, err := l.fs.PreadAsync(l.handle, dst[:size], offset, PriorityAnimStream)
	if err != nil {
		return fmt.Errorf("animstream: read %q @%d: %w", streamName, offset, joinErr(ErrIOFailure, err))
	}
	l.op = op
	l.lastReadSize = size
	l.issuedAt = time.Now()
	l.state = loaderReading

	if offset == 0 {
		for k := 1; k <= readAheadProbes; k++ {
			l.fs.Hint(l.handle, alignUp(int64(k*readAheadAlign), readAheadAlign), 1)
		}
	} else {
		l.fs.Hint(l.handle, alignUp(offset+int64(readAheadLookahead*readAheadAlign), readAheadAlign), 1)
	}
	return nil
}

// WaitForRead polls the outstanding read. If it has completed, done
// is true, the op is released, and err reports a non-nil failure
// (either the underlying I/O error or ErrTruncatedRead if fewer bytes
// were transferred than requested). If the read has not completed,
// WaitForRead returns (false, nil) and leaves all state unchanged.
func (l *Loader) WaitForRead() (done bool, err error) {
	if !l.IsReading() {
		fatalf("Loader.WaitForRead called with no read in flight")
	}
	ok, n, opErr := l.fs.IsDone(l.op)
	if !ok {
		return false, nil
	}
	l.fs.ReleaseOp(l.op)
	l.op = nil
	l.state = loaderOpen
	if opErr != nil {
		return true, fmt.Errorf("animstream: read %q: %w", l.streamName, joinErr(ErrIOFailure, opErr))
	}
	if n != l.lastReadSize {
		return true, fmt.Errorf("animstream: read %q: got %d bytes, wanted %d: %w",
			l.streamName, n, l.lastReadSize, ErrTruncatedRead)
	}
	return true, nil
}

// GracefulShutdown polls and releases any completed op; if none is
// outstanding and the file is still open, it issues an async close.
// Safe to call every frame, and idempotent on an already-idle loader.
func (l *Loader) GracefulShutdown() {
	switch l.state {
	case loaderIdle:
		return
	case loaderOpening, loaderReading:
		done, _, err := l.fs.IsDone(l.op)
		if !done {
			return
		}
		l.fs.ReleaseOp(l.op)
		l.op = nil
		if l.state == loaderOpening && err != nil {
			l.state = loaderIdle
			l.handle = nil
			return
		}
		l.state = loaderOpen
		// fall through to issue the close below, same as loaderOpen.
		fallthrough
	case loaderOpen:
		op, err := l.fs.CloseAsync(l.handle)
		if err != nil {
			// Nothing more we can do gracefully; leave the handle
			// marked open so a future GracefulShutdown call retries.
			return
		}
		l.op = op
		l.state = loaderClosing
	case loaderClosing:
		done, _, _ := l.fs.IsDone(l.op)
		if !done {
			return
		}
		l.fs.ReleaseOp(l.op)
		l.op = nil
		l.handle = nil
		l.state = loaderIdle
	}
}

// forcefulShutdownPoll is the busy-wait interval used by
// ForcefulShutdown. It is the only sleep in this package.
const forcefulShutdownPoll = time.Millisecond

// ForcefulShutdown busy-waits for any outstanding op to finish, then
// synchronously closes the file. This is the only loader operation
// that may block its caller; it is reserved for Stream.Reset and
// error-recovery paths.
func (l *Loader) ForcefulShutdown() {
	wasOpening := l.state == loaderOpening
	var openErr error
	for l.op != nil {
		done, _, err := l.fs.IsDone(l.op)
		if done {
			l.fs.ReleaseOp(l.op)
			l.op = nil
			openErr = err
			break
		}
		time.Sleep(forcefulShutdownPoll)
	}
	if wasOpening && openErr == nil {
		// The open that was in flight succeeded while we were waiting
		// for it; it still owns a handle that needs a synchronous close.
		l.state = loaderOpen
	}
	if l.state == loaderOpen || l.state == loaderReading {
		op, err := l.fs.CloseAsync(l.handle)
		if err == nil {
			for {
				done, _, _ := l.fs.IsDone(op)
				if done {
					l.fs.ReleaseOp(op)
					break
				}
				time.Sleep(forcefulShutdownPoll)
			}
		}
	}
	l.state = loaderIdle
	l.handle = nil
	l.streamName = ""
}

func alignUp(v int64, align int64) int64 {
	return (v + align - 1) / align * align
}

// joinErr attaches a package sentinel to a collaborator-specific
// error so call sites can match either with errors.Is.
func joinErr(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return errors.Join(sentinel, cause)
}
