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

// Command animstream-inspect is an operator tool for reading stream
// definitions and trace captures produced by package animstream.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/forgelight/animstream/animstream"
)

var dashv bool

func init() {
	flag.BoolVar(&dashv, "v", false, "verbose")
}

func exitf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func loadDef(path string) *animstream.Definition {
	data, err := os.ReadFile(path)
	if err != nil {
		exitf("reading %s: %s", path, err)
	}
	var def *animstream.Definition
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		def, err = animstream.DecodeDefinitionYAML(data)
	} else {
		def, err = animstream.DecodeDefinitionJSON(data)
	}
	if err != nil {
		exitf("decoding %s: %s", path, err)
	}
	return def
}

// describe prints a stream definition's block layout: one line per
// interleaved block with its file offset and total size, plus, with
// -v, a per-slot breakdown.
func describe(path string) {
	def := loadDef(path)
	sum := def.Checksum()
	fmt.Printf("stream %q: %d slots, %d frames/block, %d blocks, checksum %x\n",
		def.Name, def.NumSlots(), def.FramesPerBlock, def.NumBlocks(), sum[:8])
	for _, s := range def.Slots {
		fmt.Printf("  slot: skeleton=%d clip=%d name=%q\n", s.SkeletonID, s.ClipID, s.ClipName)
	}
	for b := 0; b < def.NumBlocks(); b++ {
		fmt.Printf("  block %d (chunk %d): offset=%d size=%d\n", b, b+1, def.BlockOffset(b), def.BlockSize(b))
		if dashv {
			for s := range def.Slots {
				fmt.Printf("      slot %d: %d bytes\n", s, def.SlotSize(b, s))
			}
		}
	}
}

// checksum prints only the content checksum, for scripting against a
// build pipeline that wants to detect a stale .stm file.
func checksum(path string) {
	def := loadDef(path)
	sum := def.Checksum()
	fmt.Printf("%x  %s\n", sum, filepath.Base(path))
}

// replay dumps every sample in a trace capture as JSON lines.
func replay(path string) {
	f, err := os.Open(path)
	if err != nil {
		exitf("opening %s: %s", path, err)
	}
	defer f.Close()

	r, err := animstream.NewTraceReader(f)
	if err != nil {
		exitf("opening trace %s: %s", path, err)
	}
	defer r.Close()

	enc := json.NewEncoder(os.Stdout)
	n := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			exitf("reading trace %s: %s", path, err)
		}
		if err := enc.Encode(rec); err != nil {
			exitf("encoding record: %s", err)
		}
		n++
	}
	if dashv {
		fmt.Fprintf(os.Stderr, "%d records\n", n)
	}
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "usage:\n")
		fmt.Fprintf(os.Stderr, "    %s describe <def.json|def.yaml>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        print a stream definition's block layout\n")
		fmt.Fprintf(os.Stderr, "    %s checksum <def.json|def.yaml>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        print a stream definition's content checksum\n")
		fmt.Fprintf(os.Stderr, "    %s replay <trace-file>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        dump a usage-trace capture as JSON lines\n")
		flag.Usage()
		os.Exit(1)
	}
	switch args[0] {
	case "describe":
		describe(args[1])
	case "checksum":
		checksum(args[1])
	case "replay":
		replay(args[1])
	default:
		exitf("unknown command %q: commands are describe, checksum, replay", args[0])
	}
}
