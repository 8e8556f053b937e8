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
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"sigs.k8s.io/yaml"
)

// Definition is the immutable, authored stream definition described
// it identifies a stream by name and declares the slot
// table, the on-disk block geometry, and the per-(block,slot) byte
// sizes used to compute file offsets.
//
// Definition is produced by the asset pipeline and is not mutated at
// runtime. Multiple *Stream instances may share one *Definition.
type Definition struct {
	// Name identifies the stream and is used to derive the on-disk
	// path <dataDir>/animstream<N>/<Name>.stm.
	Name string `json:"name"`

	// FramesPerBlock is the fixed number of animation frames encoded
	// in each on-disk block, for every slot.
	FramesPerBlock int `json:"framesPerBlock"`

	// MaxBlockSize is the largest Σ_s blockSizes[b·A+s] across any
	// block b; chunk buffers are allocated at this size plus
	// PackageHeaderSize.
	MaxBlockSize int `json:"maxBlockSize"`

	// Slots are the A clips sharing this stream, in slot order.
	Slots []SlotDef `json:"slots"`

	// BlockSizes is the B×A table of per-slot byte sizes within each
	// interleaved block, laid out slot-major within each block:
	// BlockSizes[b*len(Slots)+s] is slot s's size in block b.
	BlockSizes []uint32 `json:"blockSizes"`
}

// SlotDef identifies one clip sharing a stream.
type SlotDef struct {
	SkeletonID SkeletonID `json:"skeletonId"`
	ClipID     ClipID     `json:"clipId"`
	// ClipName is the authored name used to resolve the permanent
	// first chunk via ClipName + "-chunk-0" in the anim master table.
	ClipName string `json:"clipName"`
}

// NumSlots returns A, the number of slots sharing this stream.
func (d *Definition) NumSlots() int { return len(d.Slots) }

// NumBlocks returns B, the number of on-disk interleaved blocks. The
// first on-disk block (block 0 for BlockSize and BlockOffset) holds
// chunk index 1; chunk 0 is embedded in the clip's own package.
func (d *Definition) NumBlocks() int {
	a := d.NumSlots()
	if a == 0 {
		return 0
	}
	return len(d.BlockSizes) / a
}

// LastChunkIndex returns the highest valid streamed chunk index.
func (d *Definition) LastChunkIndex() int {
	return d.NumBlocks()
}

// BlockSize returns Σ_s blockSizes[b·A+s], the total on-disk byte size
// of interleaved block b (0-indexed against the .stm file, i.e. block
// 0 here is chunk index 1).
func (d *Definition) BlockSize(b int) int {
	a := d.NumSlots()
	sz := 0
	for s := 0; s < a; s++ {
		sz += int(d.BlockSizes[b*a+s])
	}
	return sz
}

// SlotSize returns the byte size of slot s within block b.
func (d *Definition) SlotSize(b, s int) int {
	return int(d.BlockSizes[b*d.NumSlots()+s])
}

// BlockOffset returns the file offset of interleaved block b: the sum
// of the sizes of all preceding interleaved blocks.
func (d *Definition) BlockOffset(b int) int64 {
	var off int64
	for i := 0; i < b; i++ {
		off += int64(d.BlockSize(i))
	}
	return off
}

// SlotIndex returns the slot index for a (skeletonId, clipId) pair, or
// (-1, ErrUnknownSlot) if the pair is not present.
func (d *Definition) SlotIndex(skel SkeletonID, clip ClipID) (int, error) {
	for i, s := range d.Slots {
		if s.SkeletonID == skel && s.ClipID == clip {
			return i, nil
		}
	}
	return -1, ErrUnknownSlot
}

// Validate checks the internal consistency of a Definition: that it
// has at least one slot, that the block-size table's length is a
// multiple of the slot count, and that framesPerBlock is positive. It
// does not inspect the individual block sizes.
func (d *Definition) Validate() error {
	a := d.NumSlots()
	if a == 0 {
		return fmt.Errorf("animstream: definition %q has no slots", d.Name)
	}
	if len(d.BlockSizes)%a != 0 {
		return fmt.Errorf("animstream: definition %q: blockSizes length %d is not a multiple of slot count %d",
			d.Name, len(d.BlockSizes), a)
	}
	if d.FramesPerBlock <= 0 {
		return fmt.Errorf("animstream: definition %q: framesPerBlock must be positive", d.Name)
	}
	return nil
}

// Checksum returns a content hash of the definition's block geometry,
// used by callers to detect a stale .stm file whose offsets no longer
// match the authored table before trusting any offset computed from
// it (the package format itself carries no such check).
func (d *Definition) Checksum() [32]byte {
	h, _ := blake2b.New256(nil)
	var scratch [4]byte
	write32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:], v)
		h.Write(scratch[:])
	}
	h.Write([]byte(d.Name))
	write32(uint32(d.FramesPerBlock))
	write32(uint32(d.MaxBlockSize))
	write32(uint32(len(d.Slots)))
	for _, s := range d.Slots {
		write32(uint32(s.SkeletonID))
		write32(uint32(s.ClipID))
		h.Write([]byte(s.ClipName))
	}
	for _, sz := range d.BlockSizes {
		write32(sz)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// DecodeDefinitionJSON parses the build-tooling JSON representation of
// a Definition.
func DecodeDefinitionJSON(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("animstream: decode definition: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// DecodeDefinitionYAML parses the operator-facing authored YAML
// representation of a Definition. YAML is converted through the same
// json tags as DecodeDefinitionJSON via sigs.k8s.io/yaml, so the two
// formats never drift.
func DecodeDefinitionYAML(data []byte) (*Definition, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("animstream: decode definition yaml: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
