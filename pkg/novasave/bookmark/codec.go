package bookmark

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
)

// Compression selects how a bookmark body is stored.
type Compression uint8

const (
	// CompressionNone stores the JSON body as is.
	CompressionNone Compression = 0
	// CompressionLZ4 stores an LZ4 block prefixed by the raw body length.
	CompressionLZ4 Compression = 1
	// CompressionZstd stores a zstd frame.
	CompressionZstd Compression = 2
)

// String returns the name used in configuration.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a configuration name onto a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return CompressionNone, fmt.Errorf("unknown bookmark compression %q", name)
	}
}

// File header: [8 magic][4 version][1 compression][4 crc32][4 body length].
const (
	headerSize = 8 + 4 + 1 + 4 + 4

	// maxBodySize bounds the decoded body of a single bookmark.
	maxBodySize = 64 << 20
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBodySize))
	return dec
}

// Encode serializes b into the bookmark file format. Bodies that do not
// shrink under compression are stored uncompressed.
func Encode(b *Bookmark, c Compression) ([]byte, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal bookmark: %w", err)
	}

	packed, used, err := compress(body, c)
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize+len(packed))
	copy(out[0:8], blockstore.Magic[:])
	binary.LittleEndian.PutUint32(out[8:12], blockstore.Version)
	out[12] = byte(used)
	binary.LittleEndian.PutUint32(out[13:17], crc32.ChecksumIEEE(packed))
	binary.LittleEndian.PutUint32(out[17:21], uint32(len(packed)))
	copy(out[headerSize:], packed)
	return out, nil
}

// Decode parses a bookmark file. Framing, checksum and body errors wrap
// ErrCorruptedBookmark; a foreign format version wraps
// blockstore.ErrVersionMismatch.
func Decode(data []byte) (*Bookmark, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorruptedBookmark, len(data))
	}
	if [8]byte(data[0:8]) != blockstore.Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptedBookmark)
	}
	if v := binary.LittleEndian.Uint32(data[8:12]); v != blockstore.Version {
		return nil, fmt.Errorf("%w: bookmark version %d, want %d", blockstore.ErrVersionMismatch, v, blockstore.Version)
	}

	c := Compression(data[12])
	sum := binary.LittleEndian.Uint32(data[13:17])
	n := binary.LittleEndian.Uint32(data[17:21])
	if uint64(n) != uint64(len(data)-headerSize) {
		return nil, fmt.Errorf("%w: body length %d, have %d bytes", ErrCorruptedBookmark, n, len(data)-headerSize)
	}
	packed := data[headerSize:]
	if crc32.ChecksumIEEE(packed) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptedBookmark)
	}

	body, err := decompress(packed, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedBookmark, err)
	}

	var b Bookmark
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedBookmark, err)
	}
	return &b, nil
}

func compress(body []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case CompressionNone:
		return body, CompressionNone, nil
	case CompressionZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		packed := enc.EncodeAll(body, nil)
		if len(packed) >= len(body) {
			return body, CompressionNone, nil
		}
		return packed, CompressionZstd, nil
	case CompressionLZ4:
		packed := make([]byte, 4+lz4.CompressBlockBound(len(body)))
		n, err := lz4.CompressBlock(body, packed[4:], nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		// n == 0 means incompressible.
		if n == 0 || 4+n >= len(body) {
			return body, CompressionNone, nil
		}
		binary.LittleEndian.PutUint32(packed[0:4], uint32(len(body)))
		return packed[:4+n], CompressionLZ4, nil
	default:
		return nil, 0, fmt.Errorf("unknown bookmark compression %d", uint8(c))
	}
}

func decompress(packed []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return packed, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		body, err := dec.DecodeAll(packed, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return body, nil
	case CompressionLZ4:
		if len(packed) < 4 {
			return nil, fmt.Errorf("lz4 body too short")
		}
		size := binary.LittleEndian.Uint32(packed[0:4])
		if size > maxBodySize {
			return nil, fmt.Errorf("lz4 body of %d bytes exceeds limit", size)
		}
		body := make([]byte, size)
		n, err := lz4.UncompressBlock(packed[4:], body)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != int(size) {
			return nil, fmt.Errorf("lz4 body is %d bytes, header says %d", n, size)
		}
		return body, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}
