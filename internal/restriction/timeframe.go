package restriction

import (
	"encoding/json"
	"time"
)

// KindTimeframe limits reservations to a sale window.  Both bounds are
// optional; a missing bound leaves that side open.
const KindTimeframe = "timeframe"

func init() {
	Register(KindTimeframe, newTimeframe)
}

type timeframeConfig struct {
	AvailableFrom  *time.Time `json:"available_from"`
	AvailableUntil *time.Time `json:"available_until"`
}

type timeframe struct {
	cfg timeframeConfig
}

func newTimeframe(config []byte) (Evaluator, error) {
	var cfg timeframeConfig
	if len(config) > 0 {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return nil, err
		}
	}
	return &timeframe{cfg: cfg}, nil
}

// Reservable reports whether the target time falls inside the window.
// The start bound is inclusive and the end bound exclusive.
func (t *timeframe) Reservable(target Target) (bool, error) {
	if t.cfg.AvailableFrom != nil && target.Now.Before(*t.cfg.AvailableFrom) {
		return false, nil
	}
	if t.cfg.AvailableUntil != nil && !target.Now.Before(*t.cfg.AvailableUntil) {
		return false, nil
	}
	return true, nil
}
