package state

import (
	"bufio"
	"encoding/json"
	"os"
	"time"
)

// EquityPoint is one row of the equity snapshot series
type EquityPoint struct {
	Timestamp     time.Time `json:"ts"`
	Class         string    `json:"class"`
	Equity        float64   `json:"equity"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	PeakEquity    float64   `json:"peak_equity"`
	DrawdownPct   float64   `json:"drawdown_pct"`
	OpenPositions int       `json:"open_positions"`
}

func (s *Store) appendEquityLocked(cp *Checkpoint) {
	point := EquityPoint{
		Timestamp:     cp.UpdatedAt,
		Class:         s.opts.Class,
		Equity:        cp.Equity,
		RealizedPnL:   cp.RealizedPnL,
		UnrealizedPnL: cp.UnrealizedPnL,
		PeakEquity:    cp.PeakEquity,
		DrawdownPct:   cp.DrawdownPct(),
		OpenPositions: len(cp.Positions()),
	}
	line, err := json.Marshal(point)
	if err != nil {
		s.logger.LogWarning("Equity", "failed to marshal equity point: %v", err)
		return
	}

	f, err := os.OpenFile(s.equityPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.logger.LogWarning("Equity", "failed to open equity series: %v", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.LogWarning("Equity", "failed to append equity point: %v", err)
	}
}

// EquitySeries reads the equity snapshot series
func (s *Store) EquitySeries() ([]EquityPoint, error) {
	return ReadEquitySeries(s.equityPath())
}

// ReadEquitySeries reads an equity series file, skipping unreadable rows
func ReadEquitySeries(path string) ([]EquityPoint, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points []EquityPoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var p EquityPoint
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			continue
		}
		points = append(points, p)
	}
	return points, scanner.Err()
}
