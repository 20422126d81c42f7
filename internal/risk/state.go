package risk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wolfinch/wolfinch/internal/order"
)

// persistedState is the on-disk form of the gate. One JSON object at a
// fixed path, rewritten atomically after every mutation.
type persistedState struct {
	Date          string                    `json:"date"`
	DailyPnL      decimal.Decimal           `json:"daily_pnl"`
	OpenPositions map[string]order.Position `json:"open_positions"`
	DailyTrades   []TradeRecord             `json:"daily_trades"`
	Blocked       bool                      `json:"blocked"`
	BlockReason   string                    `json:"block_reason"`
	SavedAt       time.Time                 `json:"timestamp"`
}

type stateStore struct {
	path string
}

func newStateStore(path string) *stateStore {
	return &stateStore{path: path}
}

// load returns nil with no error when no state file exists yet.
func (s *stateStore) load() (*persistedState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var state persistedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("corrupt state file %s: %w", s.path, err)
	}
	return &state, nil
}

// save writes the state with write-temp, fsync, rename so a crash never
// leaves a torn file.
func (s *stateStore) save(state *persistedState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".risk_state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}
