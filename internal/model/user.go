package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NotificationPrefs per user toggles of notification kinds
type NotificationPrefs struct {
	PositionOpen  bool `toml:"position_open" json:"position_open"`
	PositionClose bool `toml:"position_close" json:"position_close"`
	StopLoss      bool `toml:"stop_loss" json:"stop_loss"`
	TakeProfit    bool `toml:"take_profit" json:"take_profit"`
	Breakeven     bool `toml:"breakeven" json:"breakeven"`
	DailySummary  bool `toml:"daily_summary" json:"daily_summary"`
	Errors        bool `toml:"errors" json:"errors"`
}

// UserSettings defaults used when user opens new position
type UserSettings struct {
	PositionSize     float64           `toml:"position_size" json:"position_size"`
	StopLoss         float64           `toml:"sl" json:"sl"`
	TakeProfitLevels []TakeProfitRung  `toml:"tp_levels" json:"tp_levels"`
	BreakevenPercent float64           `toml:"breakeven_percent" json:"breakeven_percent"`
	SlippagePercent  float64           `toml:"slippage_percent" json:"slippage_percent"`
	Notifications    NotificationPrefs `toml:"notifications" json:"notifications"`
}

// DefaultSettings settings of new user
func DefaultSettings() UserSettings {
	return UserSettings{
		PositionSize:     10,
		StopLoss:         15,
		TakeProfitLevels: LegacyLevels([]float64{1.5, 2, 5, 8}),
		BreakevenPercent: 15,
		SlippagePercent:  5.0,
		Notifications: NotificationPrefs{
			PositionOpen:  true,
			PositionClose: true,
			StopLoss:      true,
			TakeProfit:    true,
			Breakeven:     true,
			DailySummary:  false,
			Errors:        true,
		},
	}
}

// LegacyLevels convert bare multipliers to rungs with 25% volume each
func LegacyLevels(levels []float64) []TakeProfitRung {
	rungs := make([]TakeProfitRung, 0, len(levels))
	for _, l := range levels {
		rungs = append(rungs, TakeProfitRung{Level: l, VolumePercent: 25})
	}
	return rungs
}

// ParseTakeProfitLadder input format "1.5:25,2:30". Spaces around separators are allowed
func ParseTakeProfitLadder(text string) ([]TakeProfitRung, error) {
	var rungs []TakeProfitRung
	total := 0.0
	for _, pair := range strings.Split(strings.TrimSpace(text), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, errors.Wrapf(ErrInvalidRung, "%q: missing ':' between level and volume", pair)
		}
		levelStr, volumeStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if levelStr == "" || volumeStr == "" {
			return nil, errors.Wrapf(ErrInvalidRung, "%q: empty level or volume", pair)
		}
		level, err := strconv.ParseFloat(levelStr, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidRung, "%q: level: %v", pair, err)
		}
		volume, err := strconv.ParseFloat(volumeStr, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidRung, "%q: volume: %v", pair, err)
		}
		if level <= 1 {
			return nil, errors.Wrapf(ErrInvalidRung, "%q: level must be greater than 1", pair)
		}
		if volume <= 0 || volume > 100 {
			return nil, errors.Wrapf(ErrInvalidRung, "%q: volume must be in (0, 100]", pair)
		}
		total += volume
		rungs = append(rungs, TakeProfitRung{Level: level, VolumePercent: volume})
	}
	if len(rungs) == 0 {
		return nil, errors.Wrap(ErrInvalidRung, "no take-profit levels")
	}
	if total > 100 {
		return nil, errors.Wrapf(ErrInvalidRung, "total volume %.2f%% exceeds 100%%", total)
	}
	return rungs, nil
}

// FormatLadder output format "1.5x (25%), 2x (30%)"
func FormatLadder(rungs []TakeProfitRung) string {
	if len(rungs) == 0 {
		return "not set"
	}
	out := make([]string, 0, len(rungs))
	for _, r := range rungs {
		out = append(out, fmt.Sprintf("%gx (%g%%)", r.Level, r.VolumePercent))
	}
	return strings.Join(out, ", ")
}
