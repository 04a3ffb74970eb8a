// Package diff computes how the dialogue entries of a node moved between two
// versions of a script.
//
// Entries are compared by content hash. The result is exposed as three index
// maps: Remap sends a new index to the old index it came from, LeftMap and
// RightMap send an old index to the nearest surviving new index at or before
// (resp. at or after) it.
package diff

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// fallbackThreshold is the length above which two sequences with nothing in
// common are matched by position instead of treated as a full rewrite.
const fallbackThreshold = 10

// HashEntry returns the content hash used to compare dialogue entries.
func HashEntry(text string) uint64 {
	return xxhash.Sum64String(text)
}

// HashEntries hashes every entry of a node.
func HashEntries(texts []string) []uint64 {
	out := make([]uint64, len(texts))
	for i, s := range texts {
		out[i] = HashEntry(s)
	}
	return out
}

// Differ holds the alignment of an old and a new hash sequence.
type Differ struct {
	oldLen, newLen int

	remap    []int
	forward  []int
	leftMap  []int
	rightMap []int

	insertions int
	deletions  int
	fellBack   bool
}

// New aligns old and new using Myers' O(ND) algorithm. When both sides are
// longer than ten entries and share nothing, entries are matched by
// position instead.
func New(old, new []uint64) *Differ {
	d := &Differ{
		oldLen: len(old),
		newLen: len(new),
		remap:  make([]int, len(new)),
	}
	for j := range d.remap {
		d.remap[j] = -1
	}

	d.align(old, new)
	if d.matches() == 0 && len(old) > fallbackThreshold && len(new) > fallbackThreshold {
		d.fellBack = true
		for j := range d.remap {
			if j < len(old) {
				d.remap[j] = j
			}
		}
	}
	d.buildMaps()
	return d
}

func (d *Differ) matches() int {
	n := 0
	for _, i := range d.remap {
		if i >= 0 {
			n++
		}
	}
	return n
}

// align runs the greedy forward pass keeping one V array per edit distance,
// then backtracks from the end to record the matched diagonals.
func (d *Differ) align(old, new []uint64) {
	n, m := len(old), len(new)
	max := n + m
	if max == 0 {
		return
	}

	offset := max + 1
	v := make([]int, 2*max+3)
	var trace [][]int

	found := false
	for e := 0; e <= max && !found; e++ {
		snapshot := make([]int, len(v))
		copy(snapshot, v)
		trace = append(trace, snapshot)

		for k := -e; k <= e; k += 2 {
			var x int
			if k == -e || (k != e && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && old[x] == new[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				found = true
				break
			}
		}
	}

	x, y := n, m
	for e := len(trace) - 1; e >= 0; e-- {
		vs := trace[e]
		k := x - y
		var prevK int
		if k == -e || (k != e && vs[offset+k-1] < vs[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := vs[offset+prevK]
		prevY := prevX - prevK
		if e == 0 {
			prevX, prevY = 0, 0
		}

		for x > prevX && y > prevY {
			if old[x-1] != new[y-1] {
				panic(fmt.Sprintf("diff: backtrack reached unmatched pair (%d,%d)", x-1, y-1))
			}
			d.remap[y-1] = x - 1
			x--
			y--
		}
		if e > 0 {
			x, y = prevX, prevY
		}
	}
	if x != 0 || y != 0 {
		panic(fmt.Sprintf("diff: backtrack ended at (%d,%d)", x, y))
	}
}

// buildMaps derives leftMap and rightMap from remap and counts edits.
func (d *Differ) buildMaps() {
	matched := make([]int, d.oldLen)
	for i := range matched {
		matched[i] = -1
	}
	for j, i := range d.remap {
		if i >= 0 {
			matched[i] = j
		}
	}
	d.forward = matched

	d.leftMap = make([]int, d.oldLen)
	last := -1
	for i := 0; i < d.oldLen; i++ {
		if matched[i] >= 0 {
			last = matched[i]
		}
		d.leftMap[i] = last
	}

	d.rightMap = make([]int, d.oldLen)
	next := d.newLen
	for i := d.oldLen - 1; i >= 0; i-- {
		if matched[i] >= 0 {
			next = matched[i]
		}
		d.rightMap[i] = next
	}

	kept := d.matches()
	d.insertions = d.newLen - kept
	d.deletions = d.oldLen - kept
}

// Remap returns the old index new entry j came from, or -1 if it is new.
func (d *Differ) Remap(j int) int {
	if j < 0 || j >= d.newLen {
		return -1
	}
	return d.remap[j]
}

// Forward returns the new index old entry i was matched to, or -1 if the
// entry was deleted.
func (d *Differ) Forward(i int) int {
	if i < 0 || i >= d.oldLen {
		return -1
	}
	return d.forward[i]
}

// LeftMap returns the largest new index matched to an old index at or
// before i, or -1 if there is none.
func (d *Differ) LeftMap(i int) int {
	if i < 0 || d.oldLen == 0 {
		return -1
	}
	if i >= d.oldLen {
		i = d.oldLen - 1
	}
	return d.leftMap[i]
}

// RightMap returns the smallest new index matched to an old index at or
// after i, or NewLen() if there is none.
func (d *Differ) RightMap(i int) int {
	if i >= d.oldLen {
		return d.newLen
	}
	if i < 0 {
		i = 0
	}
	return d.rightMap[i]
}

// Insertions returns the number of new entries with no old counterpart.
func (d *Differ) Insertions() int { return d.insertions }

// Deletions returns the number of old entries with no new counterpart.
func (d *Differ) Deletions() int { return d.deletions }

// OldLen returns the length of the old sequence.
func (d *Differ) OldLen() int { return d.oldLen }

// NewLen returns the length of the new sequence.
func (d *Differ) NewLen() int { return d.newLen }

// FellBack reports whether entries were matched by position.
func (d *Differ) FellBack() bool { return d.fellBack }

// Identical reports whether every entry kept its index.
func (d *Differ) Identical() bool {
	if d.fellBack || d.oldLen != d.newLen {
		return false
	}
	for j, i := range d.remap {
		if i != j {
			return false
		}
	}
	return true
}
