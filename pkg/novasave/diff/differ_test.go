package diff_test

import (
	"testing"

	"github.com/randalmurphal/novasave/pkg/novasave/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func hashes(texts ...string) []uint64 {
	return diff.HashEntries(texts)
}

func TestDiffer_Insertion(t *testing.T) {
	d := diff.New(hashes("a", "b", "c"), hashes("a", "x", "b", "c"))

	assert.Equal(t, []int{0, -1, 1, 2}, []int{d.Remap(0), d.Remap(1), d.Remap(2), d.Remap(3)})
	assert.Equal(t, []int{0, 2, 3}, []int{d.RightMap(0), d.RightMap(1), d.RightMap(2)})
	assert.Equal(t, []int{0, 2, 3}, []int{d.LeftMap(0), d.LeftMap(1), d.LeftMap(2)})
	assert.Equal(t, 1, d.Insertions())
	assert.Equal(t, 0, d.Deletions())
	assert.False(t, d.Identical())
	assert.False(t, d.FellBack())
}

func TestDiffer_Deletion(t *testing.T) {
	d := diff.New(hashes("a", "b", "c", "d"), hashes("a", "d"))

	assert.Equal(t, []int{0, 0, 0, 1}, []int{d.LeftMap(0), d.LeftMap(1), d.LeftMap(2), d.LeftMap(3)})
	assert.Equal(t, []int{0, 1, 1, 1}, []int{d.RightMap(0), d.RightMap(1), d.RightMap(2), d.RightMap(3)})
	assert.Equal(t, 0, d.Insertions())
	assert.Equal(t, 2, d.Deletions())
	assert.Equal(t, []int{0, -1, -1, 1}, []int{d.Forward(0), d.Forward(1), d.Forward(2), d.Forward(3)})
	assert.Equal(t, -1, d.Forward(-1))
	assert.Equal(t, -1, d.Forward(4))
}

func TestDiffer_Bounds(t *testing.T) {
	d := diff.New(hashes("a", "b"), hashes("b", "c", "d"))

	assert.Equal(t, -1, d.LeftMap(-1))
	assert.Equal(t, d.NewLen(), d.RightMap(d.OldLen()))
	assert.Equal(t, -1, d.Remap(-1))
	assert.Equal(t, -1, d.Remap(3))
	assert.Equal(t, -1, d.LeftMap(0))
	assert.Equal(t, 0, d.LeftMap(1))
	assert.Equal(t, 0, d.RightMap(0))
}

func TestDiffer_PrefersDeletion(t *testing.T) {
	d := diff.New(hashes("a", "b"), hashes("b", "a"))

	assert.Equal(t, 1, d.Remap(0))
	assert.Equal(t, -1, d.Remap(1))
}

func TestDiffer_Empty(t *testing.T) {
	d := diff.New(nil, nil)
	assert.True(t, d.Identical())
	assert.Equal(t, -1, d.LeftMap(0))
	assert.Equal(t, 0, d.RightMap(0))

	d = diff.New(nil, hashes("a", "b"))
	assert.Equal(t, 2, d.Insertions())
	assert.Equal(t, 2, d.RightMap(0))

	d = diff.New(hashes("a", "b"), nil)
	assert.Equal(t, 2, d.Deletions())
	assert.Equal(t, -1, d.LeftMap(1))
	assert.Equal(t, 0, d.RightMap(0))
}

func TestDiffer_PositionalFallback(t *testing.T) {
	var old, updated []string
	for i := 0; i < 12; i++ {
		old = append(old, string(rune('a'+i)))
		updated = append(updated, string(rune('A'+i)))
	}
	updated = append(updated, "extra")

	d := diff.New(hashes(old...), hashes(updated...))
	require.True(t, d.FellBack())
	assert.False(t, d.Identical())
	for j := 0; j < 12; j++ {
		assert.Equal(t, j, d.Remap(j))
	}
	assert.Equal(t, -1, d.Remap(12))
	assert.Equal(t, 11, d.LeftMap(11))
}

func TestDiffer_NoFallbackWhenShort(t *testing.T) {
	d := diff.New(hashes("a", "b"), hashes("c", "d"))
	assert.False(t, d.FellBack())
	assert.Equal(t, -1, d.Remap(0))
	assert.Equal(t, -1, d.LeftMap(1))
	assert.Equal(t, 2, d.RightMap(0))
}

func TestDiffer_Identity_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		seq := rapid.SliceOf(rapid.Uint64Range(0, 5)).Draw(rt, "seq")
		d := diff.New(seq, seq)
		if !d.Identical() {
			rt.Fatalf("sequence not identical to itself")
		}
		for i := range seq {
			if d.Remap(i) != i || d.LeftMap(i) != i || d.RightMap(i) != i {
				rt.Fatalf("index %d moved", i)
			}
		}
	})
}

func lcs(a, b []uint64) int {
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				dp[i][j] = dp[i+1][j+1] + 1
			case dp[i+1][j] > dp[i][j+1]:
				dp[i][j] = dp[i+1][j]
			default:
				dp[i][j] = dp[i][j+1]
			}
		}
	}
	return dp[0][0]
}

func TestDiffer_Correctness_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		old := rapid.SliceOfN(rapid.Uint64Range(0, 4), 0, 30).Draw(rt, "old")
		updated := rapid.SliceOfN(rapid.Uint64Range(0, 4), 0, 30).Draw(rt, "new")
		d := diff.New(old, updated)
		if d.FellBack() {
			return
		}

		matched := 0
		prev := -1
		for j := range updated {
			i := d.Remap(j)
			if i < 0 {
				continue
			}
			if old[i] != updated[j] {
				rt.Fatalf("remap(%d)=%d pairs different entries", j, i)
			}
			if i <= prev {
				rt.Fatalf("remap not increasing at %d", j)
			}
			prev = i
			matched++
		}
		if want := lcs(old, updated); matched != want {
			rt.Fatalf("matched %d entries, longest common subsequence is %d", matched, want)
		}
		if d.Insertions() != len(updated)-matched || d.Deletions() != len(old)-matched {
			rt.Fatalf("edit counts do not add up")
		}

		for i := range old {
			l, r := d.LeftMap(i), d.RightMap(i)
			if l > r {
				rt.Fatalf("left map %d beyond right map %d at %d", l, r, i)
			}
			if l >= 0 && d.Remap(l) > i {
				rt.Fatalf("left map of %d comes from a later old index", i)
			}
			if r < len(updated) && d.Remap(r) < i {
				rt.Fatalf("right map of %d comes from an earlier old index", i)
			}
		}
	})
}
