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
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const traceRecordSize = 24

// TraceWriter captures NotifyUsage calls to a zstd-compressed stream
// for offline replay, entirely off the hot path: attaching one costs
// a Manager exactly one extra Write per NotifyUsage call. It exists
// for bug reports and capture-and-replay load testing, never for
// production telemetry.
type TraceWriter struct {
	mu     sync.Mutex
	enc    *zstd.Encoder
	closed bool
}

// NewTraceWriter wraps w in a fast zstd encoder suitable for a capture
// running alongside a live game loop.
func NewTraceWriter(w io.Writer) (*TraceWriter, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &TraceWriter{enc: enc}, nil
}

// Record appends one (frame, skeletonId, clipId, phase) sample.
func (t *TraceWriter) Record(frame int64, skel SkeletonID, clip ClipID, phase float64) error {
	var buf [traceRecordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(frame))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(skel))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(clip))
	binary.LittleEndian.PutUint64(buf[16:24], math.Float64bits(phase))

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("animstream: trace writer is closed")
	}
	_, err := t.enc.Write(buf[:])
	return err
}

// Close flushes and closes the underlying zstd stream. Safe to call
// more than once.
func (t *TraceWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.enc.Close()
}

// TraceRecord is one sample read back by a TraceReader.
type TraceRecord struct {
	Frame int64
	Skel  SkeletonID
	Clip  ClipID
	Phase float64
}

// TraceReader replays a capture written by TraceWriter.
type TraceReader struct {
	dec *zstd.Decoder
	buf [traceRecordSize]byte
}

// NewTraceReader wraps r, a capture previously produced by
// NewTraceWriter.
func NewTraceReader(r io.Reader) (*TraceReader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &TraceReader{dec: dec}, nil
}

// Next returns the next recorded sample, or io.EOF once the capture is
// exhausted.
func (t *TraceReader) Next() (TraceRecord, error) {
	if _, err := io.ReadFull(t.dec, t.buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return TraceRecord{}, err
	}
	return TraceRecord{
		Frame: int64(binary.LittleEndian.Uint64(t.buf[0:8])),
		Skel:  SkeletonID(binary.LittleEndian.Uint32(t.buf[8:12])),
		Clip:  ClipID(binary.LittleEndian.Uint32(t.buf[12:16])),
		Phase: math.Float64frombits(binary.LittleEndian.Uint64(t.buf[16:24])),
	}, nil
}

// Close releases the decoder. It does not close the underlying reader.
func (t *TraceReader) Close() error {
	t.dec.Close()
	return nil
}
