package benchmarks

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/novasave/pkg/novasave"
	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	"github.com/randalmurphal/novasave/pkg/novasave/nodetree"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
)

// BenchmarkAllocator_Append measures appending a checkpoint-sized record.
func BenchmarkAllocator_Append(b *testing.B) {
	alloc, cleanup := createAllocator(b)
	defer cleanup()

	off, err := alloc.Begin(blockstore.TypeCheckpoint)
	if err != nil {
		b.Fatal(err)
	}
	data := make([]byte, 512)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if off, err = alloc.Append(off, data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkAllocator_Get measures reading a record that spans blocks.
func BenchmarkAllocator_Get(b *testing.B) {
	alloc, cleanup := createAllocator(b)
	defer cleanup()

	off, _ := alloc.Begin(blockstore.TypeCheckpoint)
	_, _ = alloc.Append(off, make([]byte, 3*blockstore.BlockSize))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = alloc.Get(off)
	}
}

// BenchmarkCheckpoint_Marshal measures checkpoint serialization overhead.
func BenchmarkCheckpoint_Marshal(b *testing.B) {
	cp := createCheckpoint()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = savedata.Marshal(cp)
	}
}

// BenchmarkEncode_None measures bookmark encoding without compression.
func BenchmarkEncode_None(b *testing.B) {
	benchmarkEncode(b, bookmark.CompressionNone)
}

// BenchmarkEncode_LZ4 measures bookmark encoding with lz4.
func BenchmarkEncode_LZ4(b *testing.B) {
	benchmarkEncode(b, bookmark.CompressionLZ4)
}

// BenchmarkEncode_Zstd measures bookmark encoding with zstd.
func BenchmarkEncode_Zstd(b *testing.B) {
	benchmarkEncode(b, bookmark.CompressionZstd)
}

// BenchmarkDecode_Zstd measures decoding a zstd bookmark.
func BenchmarkDecode_Zstd(b *testing.B) {
	data, err := bookmark.Encode(createBookmark(), bookmark.CompressionZstd)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = bookmark.Decode(data)
	}
}

// BenchmarkSQLiteStore_Save measures SQLite bookmark save.
func BenchmarkSQLiteStore_Save(b *testing.B) {
	store, err := bookmark.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()

	data, _ := bookmark.Encode(createBookmark(), bookmark.CompressionZstd)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Save(301+i%100, data)
	}
}

// BenchmarkFileStore_Save measures file-per-slot bookmark save.
func BenchmarkFileStore_Save(b *testing.B) {
	store, err := bookmark.NewFileStore(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	data, _ := bookmark.Encode(createBookmark(), bookmark.CompressionZstd)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Save(301+i%100, data)
	}
}

// BenchmarkManager_SetReached measures recording reached lines.
func BenchmarkManager_SetReached(b *testing.B) {
	m, err := novasave.Open(b.TempDir(), novasave.WithLogger(quietLogger()))
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()

	history := nodetree.NewNodeHistory("intro", "ch1", "ch2")
	entry := savedata.TextRestore("line")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.SetReached(history, i, &entry)
	}
}

// BenchmarkManager_IsReachedWithAnyHistory measures the any-history lookup.
func BenchmarkManager_IsReachedWithAnyHistory(b *testing.B) {
	m, err := novasave.Open(b.TempDir(), novasave.WithLogger(quietLogger()))
	if err != nil {
		b.Fatal(err)
	}
	defer m.Close()

	for _, name := range []string{"a", "b", "c", "d"} {
		h := nodetree.NewNodeHistory("intro", name)
		for i := 0; i < 100; i++ {
			_ = m.SetReached(h, i, nil)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.IsReachedWithAnyHistory("c", i%200)
	}
}

// Helper functions

func createAllocator(b *testing.B) (*record.Allocator, func()) {
	b.Helper()
	store, err := blockstore.Open(filepath.Join(b.TempDir(), "bench.nsav"))
	if err != nil {
		b.Fatal(err)
	}
	return record.New(store), func() { _ = store.Close() }
}

func createCheckpoint() *savedata.Checkpoint {
	vars := make(map[string]savedata.Variable, 16)
	for i := 0; i < 16; i++ {
		vars[nodeID(i)] = savedata.NumberVar(float64(i))
	}
	return &savedata.Checkpoint{DialogueIndex: 3, Variables: vars}
}

func createBookmark() *bookmark.Bookmark {
	return &bookmark.Bookmark{
		NodeOffset:           4096,
		CheckpointOffset:     4200,
		DialogueIndex:        7,
		Description:          "The hall is lit by a single candle. Someone is waiting by the stairs.",
		Screenshot:           make([]byte, 16<<10),
		GlobalSaveIdentifier: 42,
		CreationTime:         time.Unix(1700000000, 0),
	}
}

func benchmarkEncode(b *testing.B, c bookmark.Compression) {
	bm := createBookmark()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = bookmark.Encode(bm, c)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func nodeID(i int) string {
	return "node-" + string(rune('a'+i%26))
}
