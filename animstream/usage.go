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

// InactiveWindow is W, the number of recent retired frames over which
// a stream's usage is remembered, including the idle timeout window.
const InactiveWindow = 5

// usageEntry is one Active Usage Record, minus the stream
// back-reference (the ring it lives in already belongs to exactly
// one stream).
type usageEntry struct {
	skel       SkeletonID
	clip       ClipID
	phase      float64
	headerAnim *ArtItemAnim
	frame      int64
	key        uint64
}

// usageRow holds the (clipId, phase) pairs reported for one retired
// frame. Reused across ring cycles, so frame identifies which
// logical frame the row currently represents.
type usageRow struct {
	frame    int64
	entries  []usageEntry
	diverged bool // divergence warning already logged for this frame
}

func (r *usageRow) reset(frame int64) {
	r.frame = frame
	r.entries = r.entries[:0]
	r.diverged = false
}

// usageRing is a stream's private W-slot sliding window of Active
// Usage Records, indexed by frame mod W.
type usageRing struct {
	rows [InactiveWindow]usageRow
}

func (u *usageRing) rowFor(frame int64) *usageRow {
	r := &u.rows[frame%InactiveWindow]
	if r.frame != frame {
		r.reset(frame)
	}
	return r
}

// record inserts (skel, clip, phase) for frame if it is not already
// present (deduped by (clipId, phase) within tolerance). It returns
// whether the entry was newly inserted, and whether this insertion
// revealed a same-frame phase divergence against some other entry
// already recorded for this stream this frame (a different phase for
// the same stream) that has not yet been warned about.
func (u *usageRing) record(skel SkeletonID, clip ClipID, phase float64, headerAnim *ArtItemAnim, frame int64) (inserted, diverged bool) {
	row := u.rowFor(frame)
	key := usageKey(clip, phase)
	for _, e := range row.entries {
		if e.key == key {
			return false, false
		}
	}
	if !row.diverged {
		for _, e := range row.entries {
			if abs(e.phase-phase) > phaseTolerance {
				diverged = true
				row.diverged = true
				break
			}
		}
	}
	row.entries = append(row.entries, usageEntry{
		skel: skel, clip: clip, phase: phase, headerAnim: headerAnim, frame: frame, key: key,
	})
	return true, diverged
}

// distinctPhases returns the set of distinct phase values reported
// for this stream across the last InactiveWindow retired frames,
// used to drive Stream.Update.
func (u *usageRing) distinctPhases() []float64 {
	var out []float64
	for i := range u.rows {
		for _, e := range u.rows[i].entries {
			found := false
			for _, p := range out {
				if abs(p-e.phase) <= phaseTolerance {
					found = true
					break
				}
			}
			if !found {
				out = append(out, e.phase)
			}
		}
	}
	return out
}

// phaseFor implements GetAnimStreamPhase's lookup: walk the
// window newest-to-oldest looking for an exact clip match; if none is
// found, fall back to any record in the window at all, to preserve
// continuity when a facial overlay switches clips within a bundle
// (chosen to preserve continuity across a clip switch).
func (u *usageRing) phaseFor(clip ClipID, nowFrame int64) (float64, bool) {
	var fallback *float64
	for i := int64(0); i < InactiveWindow; i++ {
		frame := nowFrame - i
		if frame < 0 {
			break
		}
		row := &u.rows[frame%InactiveWindow]
		if row.frame != frame {
			continue
		}
		for j := len(row.entries) - 1; j >= 0; j-- {
			e := &row.entries[j]
			if e.clip == clip {
				return e.phase, true
			}
			if fallback == nil {
				p := e.phase
				fallback = &p
			}
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return 0, false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
