// Package config loads the fixed tunables spec.md §6 lists as
// "configuration knobs (fixed defaults; expose as tunables if
// reimplemented)" from the environment, falling back to spec.md's defaults.
package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds every tunable spec.md §6 names.
type Config struct {
	SweepInterPacketGap time.Duration `env:"ARPENGINE_SWEEP_GAP" envDefault:"3ms"`
	SweepGracePeriod    time.Duration `env:"ARPENGINE_SWEEP_GRACE" envDefault:"1s"`
	SpoofTickPeriod     time.Duration `env:"ARPENGINE_SPOOF_TICK" envDefault:"1500ms"`
	RestoreRounds       int           `env:"ARPENGINE_RESTORE_ROUNDS" envDefault:"5"`
	RestoreGap          time.Duration `env:"ARPENGINE_RESTORE_GAP" envDefault:"100ms"`
	MaxLogLines         int           `env:"ARPENGINE_MAX_LOG_LINES" envDefault:"100"`
}

// Load reads Config from the environment, applying spec.md's fixed
// defaults for anything unset.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
