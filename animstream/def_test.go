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

func sampleDef() *Definition {
	return &Definition{
		Name:           "hero-locomotion",
		FramesPerBlock: 10,
		MaxBlockSize:   64,
		Slots: []SlotDef{
			{SkeletonID: 1, ClipID: 1, ClipName: "walk"},
			{SkeletonID: 1, ClipID: 2, ClipName: "walk-face"},
		},
		BlockSizes: []uint32{20, 12, 24, 14},
	}
}

func TestDefinitionGeometry(t *testing.T) {
	d := sampleDef()
	if d.NumSlots() != 2 {
		t.Fatalf("NumSlots = %d, want 2", d.NumSlots())
	}
	if d.NumBlocks() != 2 {
		t.Fatalf("NumBlocks = %d, want 2", d.NumBlocks())
	}
	if d.LastChunkIndex() != 2 {
		t.Fatalf("LastChunkIndex = %d, want 2", d.LastChunkIndex())
	}
	if got := d.BlockSize(0); got != 32 {
		t.Fatalf("BlockSize(0) = %d, want 32", got)
	}
	if got := d.BlockSize(1); got != 38 {
		t.Fatalf("BlockSize(1) = %d, want 38", got)
	}
	if got := d.BlockOffset(0); got != 0 {
		t.Fatalf("BlockOffset(0) = %d, want 0", got)
	}
	if got := d.BlockOffset(1); got != 32 {
		t.Fatalf("BlockOffset(1) = %d, want 32", got)
	}
	if got := d.SlotSize(1, 1); got != 14 {
		t.Fatalf("SlotSize(1,1) = %d, want 14", got)
	}
}

func TestDefinitionSlotIndex(t *testing.T) {
	d := sampleDef()
	idx, err := d.SlotIndex(1, 2)
	if err != nil || idx != 1 {
		t.Fatalf("SlotIndex(1,2) = (%d, %v), want (1, nil)", idx, err)
	}
	if _, err := d.SlotIndex(1, 99); err != ErrUnknownSlot {
		t.Fatalf("SlotIndex(1,99) error = %v, want ErrUnknownSlot", err)
	}
}

func TestDefinitionValidate(t *testing.T) {
	d := sampleDef()
	if err := d.Validate(); err != nil {
		t.Fatalf("unexpected Validate error: %v", err)
	}
	bad := sampleDef()
	bad.BlockSizes = bad.BlockSizes[:3]
	if err := bad.Validate(); err == nil {
		t.Fatal("expected Validate to reject a blockSizes length that isn't a multiple of slot count")
	}
	empty := sampleDef()
	empty.Slots = nil
	if err := empty.Validate(); err == nil {
		t.Fatal("expected Validate to reject a definition with no slots")
	}
}

func TestDefinitionChecksumStable(t *testing.T) {
	a := sampleDef()
	b := sampleDef()
	if a.Checksum() != b.Checksum() {
		t.Fatal("two identically-constructed definitions should checksum the same")
	}
	b.MaxBlockSize++
	if a.Checksum() == b.Checksum() {
		t.Fatal("changing geometry should change the checksum")
	}
}

func TestDecodeDefinitionJSONRoundTrip(t *testing.T) {
	data := []byte(`{
		"name": "hero-locomotion",
		"framesPerBlock": 10,
		"maxBlockSize": 64,
		"slots": [
			{"skeletonId": 1, "clipId": 1, "clipName": "walk"},
			{"skeletonId": 1, "clipId": 2, "clipName": "walk-face"}
		],
		"blockSizes": [20, 12, 24, 14]
	}`)
	d, err := DecodeDefinitionJSON(data)
	if err != nil {
		t.Fatalf("DecodeDefinitionJSON: %v", err)
	}
	if d.Checksum() != sampleDef().Checksum() {
		t.Fatal("JSON-decoded definition should checksum the same as the equivalent literal")
	}
}

func TestDecodeDefinitionYAMLMatchesJSON(t *testing.T) {
	yamlData := []byte(`
name: hero-locomotion
framesPerBlock: 10
maxBlockSize: 64
slots:
  - skeletonId: 1
    clipId: 1
    clipName: walk
  - skeletonId: 1
    clipId: 2
    clipName: walk-face
blockSizes: [20, 12, 24, 14]
`)
	d, err := DecodeDefinitionYAML(yamlData)
	if err != nil {
		t.Fatalf("DecodeDefinitionYAML: %v", err)
	}
	if d.Checksum() != sampleDef().Checksum() {
		t.Fatal("YAML and JSON representations of the same definition should checksum identically")
	}
}

func TestDecodeDefinitionRejectsInvalid(t *testing.T) {
	_, err := DecodeDefinitionJSON([]byte(`{"name":"bad","slots":[],"framesPerBlock":10}`))
	if err == nil {
		t.Fatal("expected decode of a slot-less definition to fail Validate")
	}
}
