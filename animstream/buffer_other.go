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

//go:build !linux && !windows

package animstream

// mapArena falls back to a plain heap allocation on platforms without
// a wired anonymous-mmap path. Slots are still 16-byte aligned
// because the Go allocator aligns any slice backing array at least
// that well for the sizes this package deals in.
func mapArena(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func adviseFree(mem []byte) {}
