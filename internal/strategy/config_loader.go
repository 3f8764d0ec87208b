package strategy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"autotrade-core/pkg/market"
)

// Preset holds the per-kind constants that are not user settings.
type Preset struct {
	Cooldown      time.Duration     `yaml:"cooldown"`
	BuyThreshold  float64           `yaml:"buy_threshold"`
	SellThreshold float64           `yaml:"sell_threshold"`
	Resolution    market.Resolution `yaml:"resolution"`
	CandleCount   int               `yaml:"candle_count"`

	// rsi / bollinger
	Period int     `yaml:"period"`
	StdDev float64 `yaml:"std_dev"`

	// ma
	ShortPeriod int `yaml:"short_period"`
	LongPeriod  int `yaml:"long_period"`

	// dca
	AveragePeriod     int     `yaml:"average_period"`
	MaxPremiumPercent float64 `yaml:"max_premium_percent"`
}

// Presets maps each kind to its preset.
type Presets map[Kind]Preset

// configFile is the top-level YAML structure.
type configFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// DefaultPresets returns the built-in presets.
func DefaultPresets() Presets {
	return Presets{
		KindPercent: {Cooldown: 30 * time.Second, BuyThreshold: 0.5, SellThreshold: 0.5},
		KindGrid:    {Cooldown: 30 * time.Second, BuyThreshold: 1, SellThreshold: 1},
		KindDCA: {
			Cooldown: time.Hour, BuyThreshold: 0.5, SellThreshold: 0.5,
			Resolution: market.Minute60, CandleCount: 10,
			AveragePeriod: 10, MaxPremiumPercent: 0.45,
		},
		KindRSI: {
			Cooldown: time.Minute, BuyThreshold: 30, SellThreshold: 70,
			Resolution: market.Minute1, CandleCount: 60, Period: 14,
		},
		KindMA: {
			Cooldown: 3 * time.Minute, BuyThreshold: 0.5, SellThreshold: 0.5,
			Resolution: market.Minute1, CandleCount: 60, ShortPeriod: 5, LongPeriod: 20,
		},
		KindBollinger: {
			Cooldown: 2 * time.Minute, BuyThreshold: 0.5, SellThreshold: 0.5,
			Resolution: market.Minute1, CandleCount: 60, Period: 20, StdDev: 2,
		},
	}
}

// LoadPresets reads preset overrides from a YAML file on top of DefaultPresets.
// A missing file is not an error.
func LoadPresets(path string) (Presets, error) {
	presets := DefaultPresets()
	if path == "" {
		return presets, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return presets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets merges YAML overrides into DefaultPresets. Zero fields keep the default.
func ParsePresets(data []byte) (Presets, error) {
	presets := DefaultPresets()
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	for name, override := range file.Presets {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("presets: %w", err)
		}
		if override.Resolution != "" && override.Resolution.Duration() == 0 {
			return nil, fmt.Errorf("presets: %s: unknown resolution %q", name, override.Resolution)
		}
		merged := merge(presets[kind], override)
		if kind == KindMA && merged.ShortPeriod >= merged.LongPeriod {
			return nil, fmt.Errorf("presets: ma short_period %d must be below long_period %d", merged.ShortPeriod, merged.LongPeriod)
		}
		presets[kind] = merged
	}
	return presets, nil
}

// For returns the preset for kind, falling back to the built-in one.
func (p Presets) For(kind Kind) Preset {
	if preset, ok := p[kind]; ok {
		return preset
	}
	return DefaultPresets()[kind]
}

func merge(base, o Preset) Preset {
	if o.Cooldown > 0 {
		base.Cooldown = o.Cooldown
	}
	if o.BuyThreshold > 0 {
		base.BuyThreshold = o.BuyThreshold
	}
	if o.SellThreshold > 0 {
		base.SellThreshold = o.SellThreshold
	}
	if o.Resolution != "" {
		base.Resolution = o.Resolution
	}
	if o.CandleCount > 0 {
		base.CandleCount = o.CandleCount
	}
	if o.Period > 0 {
		base.Period = o.Period
	}
	if o.StdDev > 0 {
		base.StdDev = o.StdDev
	}
	if o.ShortPeriod > 0 {
		base.ShortPeriod = o.ShortPeriod
	}
	if o.LongPeriod > 0 {
		base.LongPeriod = o.LongPeriod
	}
	if o.AveragePeriod > 0 {
		base.AveragePeriod = o.AveragePeriod
	}
	if o.MaxPremiumPercent > 0 {
		base.MaxPremiumPercent = o.MaxPremiumPercent
	}
	return base
}
