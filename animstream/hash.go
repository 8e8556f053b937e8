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

	"github.com/dchest/siphash"
)

// slotK0 and slotK1 are process-lifetime-stable siphash keys used to derive a
// single uint64 lookup key from a (skeletonId, clipId) pair. Using a
// keyed hash rather than string concatenation keeps slot lookups and
// the usage dedup set off the allocator on the hot NotifyUsage path.
var slotK0, slotK1 uint64 = 0x9ae16a3b2f90404f, 0xc949d7c7509e6557

// SkeletonID identifies a skeleton/rig within the anim master table.
type SkeletonID uint32

// ClipID identifies a clip name within a skeleton's namespace.
type ClipID uint32

// slotKey hashes a (skeletonId, clipId) pair into the 64-bit key used
// by Manager's slot-owner registry and its lazy-attach singleflight group.
func slotKey(skel SkeletonID, clip ClipID) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(skel))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(clip))
	return siphash.Hash(slotK0, slotK1, buf[:])
}

// usageKey hashes a (clipId, phase) pair for the per-frame usage
// dedup set: an Active Usage Record's (clipId, phase) is deduped per
// frame"). Phase is quantized to match the manager's divergence
// tolerance before hashing so that two reports of "the same" phase
// collide.
func usageKey(clip ClipID, phase float64) uint64 {
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(clip))
	binary.LittleEndian.PutUint64(buf[4:12], quantizePhase(phase))
	return siphash.Hash(slotK0, slotK1, buf[:])
}

// phaseTolerance is the divergence-detection tolerance: two
// phases reported for the same stream in the same frame are treated
// as "the same" if they fall within this tolerance of one another.
const phaseTolerance = 0.001

func quantizePhase(phase float64) uint64 {
	return uint64(phase / phaseTolerance)
}
