package novasave

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	"github.com/randalmurphal/novasave/pkg/novasave/config"
	nserrors "github.com/randalmurphal/novasave/pkg/novasave/errors"
	"github.com/randalmurphal/novasave/pkg/novasave/observability"
)

// SQLiteFileName is the database created in the save directory when
// bookmarks are kept in SQLite.
const SQLiteFileName = "bookmarks.db"

// managerConfig holds configuration for a Manager.
type managerConfig struct {
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	cacheBlocks    int
	bookmarks      bookmark.Store
	bookmarkKind   string
	compression    bookmark.Compression
	upgradeTimeout time.Duration
	debug          bool
	retry          nserrors.RetryConfig
}

func defaultManagerConfig() managerConfig {
	return managerConfig{
		logger:       slog.Default(),
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		cacheBlocks:  config.DefaultCacheBlocks,
		bookmarkKind: config.StoreFile,
		compression:  bookmark.CompressionZstd,
		retry:        nserrors.DefaultRetry,
	}
}

// Option configures a Manager.
type Option func(*managerConfig)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *managerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *managerConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the tracer used for upgrades.
// Default: observability.NoopSpanManager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *managerConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithCacheSize sets how many blocks the block cache holds.
// Default: 256
func WithCacheSize(n int) Option {
	return func(c *managerConfig) {
		if n > 0 {
			c.cacheBlocks = n
		}
	}
}

// WithBookmarkStore keeps bookmarks in s instead of sav###.nsav files in the
// save directory. The Manager does not close a store passed this way.
func WithBookmarkStore(s bookmark.Store) Option {
	return func(c *managerConfig) {
		c.bookmarks = s
	}
}

// WithBookmarkCompression sets the codec for bookmark bodies.
// Default: zstd.
func WithBookmarkCompression(comp bookmark.Compression) Option {
	return func(c *managerConfig) {
		c.compression = comp
	}
}

// WithDebug turns caller invariant violations in the node tree into panics.
// It applies to this Manager only.
func WithDebug(debug bool) Option {
	return func(c *managerConfig) {
		c.debug = debug
	}
}

// WithUpgradeTimeout bounds how long Upgrade may run before writing.
// Zero means no bound.
func WithUpgradeTimeout(d time.Duration) Option {
	return func(c *managerConfig) {
		if d >= 0 {
			c.upgradeTimeout = d
		}
	}
}

// WithRetry sets the retry policy for flushes and bookmark writes.
// Default: nserrors.DefaultRetry.
func WithRetry(cfg nserrors.RetryConfig) Option {
	return func(c *managerConfig) {
		c.retry = cfg
	}
}

// withBookmarkKind selects a built-in bookmark store.
func withBookmarkKind(kind string) Option {
	return func(c *managerConfig) {
		c.bookmarkKind = kind
	}
}

// OptionsFromConfig translates configuration into Manager options.
//
// Example config.yaml:
//
//	cache_blocks: 512
//	bookmark_store: sqlite
//	bookmark_compression: lz4
//	upgrade_timeout: 30s
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	s, err := cfg.Settings()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return OptionsFromSettings(s)
}

// OptionsFromSettings translates validated settings, such as those
// returned by config.LoadSettings, into Manager options.
func OptionsFromSettings(s config.Settings) ([]Option, error) {
	comp, err := bookmark.ParseCompression(s.BookmarkCompression)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return []Option{
		WithCacheSize(s.CacheBlocks),
		withBookmarkKind(s.BookmarkStore),
		WithBookmarkCompression(comp),
		WithDebug(s.Debug),
		WithUpgradeTimeout(s.UpgradeTimeout),
	}, nil
}

// openBookmarkStore builds the configured store for dir. owned reports
// whether the Manager must close it.
func (c *managerConfig) openBookmarkStore(dir string) (s bookmark.Store, owned bool, err error) {
	if c.bookmarks != nil {
		return c.bookmarks, false, nil
	}
	switch c.bookmarkKind {
	case config.StoreMemory:
		return bookmark.NewMemoryStore(), true, nil
	case config.StoreSQLite:
		s, err = bookmark.NewSQLiteStore(filepath.Join(dir, SQLiteFileName))
	default:
		s, err = bookmark.NewFileStore(dir)
	}
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}
