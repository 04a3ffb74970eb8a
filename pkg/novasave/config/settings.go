package config

import (
	"fmt"
	"time"
)

// Bookmark store kinds accepted for the bookmark_store key.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Bookmark body codecs accepted for the bookmark_compression key.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// DefaultCacheBlocks is the block cache size used when none is configured.
const DefaultCacheBlocks = 256

// Settings is the save engine configuration.
type Settings struct {
	// CacheBlocks bounds the block cache (cache_blocks).
	CacheBlocks int
	// BookmarkStore selects where bookmarks live (bookmark_store).
	BookmarkStore string
	// BookmarkCompression names the bookmark body codec (bookmark_compression).
	BookmarkCompression string
	// Debug turns caller invariant violations into panics (debug).
	Debug bool
	// UpgradeTimeout bounds a script upgrade, 0 for none (upgrade_timeout).
	UpgradeTimeout time.Duration
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		CacheBlocks:         DefaultCacheBlocks,
		BookmarkStore:       StoreFile,
		BookmarkCompression: CompressionZstd,
	}
}

// Settings extracts the save engine settings, falling back to defaults for
// missing keys.
func (c Config) Settings() (Settings, error) {
	def := DefaultSettings()
	s := Settings{
		CacheBlocks:         c.Int("cache_blocks", def.CacheBlocks),
		BookmarkStore:       c.String("bookmark_store", def.BookmarkStore),
		BookmarkCompression: c.String("bookmark_compression", def.BookmarkCompression),
		Debug:               c.Bool("debug", def.Debug),
		UpgradeTimeout:      c.Duration("upgrade_timeout", def.UpgradeTimeout),
	}
	return s, s.Validate()
}

// Validate reports settings the engine cannot run with.
func (s Settings) Validate() error {
	if s.CacheBlocks < 1 {
		return fmt.Errorf("cache_blocks must be positive, got %d", s.CacheBlocks)
	}
	switch s.BookmarkStore {
	case StoreFile, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown bookmark_store %q", s.BookmarkStore)
	}
	switch s.BookmarkCompression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return fmt.Errorf("unknown bookmark_compression %q", s.BookmarkCompression)
	}
	if s.UpgradeTimeout < 0 {
		return fmt.Errorf("upgrade_timeout must not be negative, got %s", s.UpgradeTimeout)
	}
	return nil
}
