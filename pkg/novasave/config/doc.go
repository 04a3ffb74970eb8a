/*
Package config loads save engine settings from YAML or JSON.

# Basic Usage

	settings, err := config.LoadSettings("novasave.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	opts, err := novasave.OptionsFromSettings(settings)

A settings file looks like:

	cache_blocks: 512
	bookmark_store: sqlite
	bookmark_compression: zstd
	upgrade_timeout: 30s

The format follows the file extension (.yaml, .yml or .json, in any case);
anything else fails with ErrUnsupportedFormat. Missing keys, and an empty
file, fall back to DefaultSettings. Unknown keys are ignored. FromFile
returns the raw Config when the caller reads its own keys too.

# Accessors

Config wraps a map[string]any. Its accessors return the given default when
a key is missing or holds a value of the wrong type:

	cfg.Int("cache_blocks", 256)
	cfg.Duration("upgrade_timeout", 0) // "30s" or a number of seconds
	cfg.Section("logging").String("level", "info")

Config is safe for concurrent read access.
*/
package config
