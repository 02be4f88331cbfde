package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// PoolSettings is the reloadable part of the [pool] table. The rest of the
// table is read once at startup through LoadConfig.
type PoolSettings struct {
	MaxProcs int
	// MaxProcsSet reports whether max_procs is present in the file. When it
	// is not, MaxProcs is zero and must not be applied: zero means unbounded.
	MaxProcsSet bool
}

type rawPoolSettings struct {
	Pool struct {
		MaxProcs *int `toml:"max_procs"`
	} `toml:"pool"`
}

// ErrInvalidPoolSettings reports a [pool] table that parsed but holds bad values.
var ErrInvalidPoolSettings = errors.New("invalid pool settings")

// LoadPoolSettings reads the [pool] table from path. It is the loader used
// by the config watcher, so it is read fresh on every call.
func LoadPoolSettings(path string) (PoolSettings, error) {
	var settings PoolSettings

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, err
	}

	var raw rawPoolSettings
	if err := toml.Unmarshal(data, &raw); err != nil {
		return settings, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if raw.Pool.MaxProcs != nil {
		if *raw.Pool.MaxProcs < 0 {
			return settings, fmt.Errorf("%w: max_procs must be >= 0, got %d", ErrInvalidPoolSettings, *raw.Pool.MaxProcs)
		}
		settings.MaxProcs = *raw.Pool.MaxProcs
		settings.MaxProcsSet = true
	}
	return settings, nil
}
