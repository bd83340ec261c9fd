package bot

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// Signal is one tick handed to the engine: an intent plus the market context
// it was generated from
type Signal struct {
	Intent    types.OrderIntent `json:"intent"`
	LastPrice float64           `json:"last_price,omitempty"`
	QuoteTime time.Time         `json:"quote_time,omitempty"`
	ATR       *float64          `json:"atr,omitempty"`
	Quality   *float64          `json:"quality,omitempty"`
	BarIndex  int64             `json:"bar_index"`
}

// QualityMultiplier defaults to full size when the signal carries no quality
func (s Signal) QualityMultiplier() float64 {
	if s.Quality == nil {
		return 1
	}
	return *s.Quality
}

// SignalSource yields signals until io.EOF
type SignalSource interface {
	Next(ctx context.Context) (Signal, error)
}

type signalLine struct {
	signal Signal
	err    error
}

// JSONLSource reads one JSON signal per line. Blank lines and lines starting
// with # are skipped; malformed lines are logged and skipped.
type JSONLSource struct {
	lines  chan signalLine
	logger Logger
}

func NewJSONLSource(r io.Reader, logger Logger) *JSONLSource {
	s := &JSONLSource{lines: make(chan signalLine), logger: logger}
	go s.read(r)
	return s
}

func (s *JSONLSource) read(r io.Reader) {
	defer close(s.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var sig Signal
		if err := json.Unmarshal([]byte(line), &sig); err != nil {
			s.logger.LogWarning("Signals", "skipping line %d: %v", lineNo, err)
			continue
		}
		s.lines <- signalLine{signal: sig}
	}
	if err := scanner.Err(); err != nil {
		s.lines <- signalLine{err: err}
	}
}

// Next blocks until a signal arrives, the input ends (io.EOF) or ctx is done
func (s *JSONLSource) Next(ctx context.Context) (Signal, error) {
	select {
	case <-ctx.Done():
		return Signal{}, ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			return Signal{}, io.EOF
		}
		return line.signal, line.err
	}
}

// SliceSource replays a fixed list of signals
type SliceSource struct {
	signals []Signal
	pos     int
}

func NewSliceSource(signals ...Signal) *SliceSource {
	return &SliceSource{signals: signals}
}

func (s *SliceSource) Next(ctx context.Context) (Signal, error) {
	if err := ctx.Err(); err != nil {
		return Signal{}, err
	}
	if s.pos >= len(s.signals) {
		return Signal{}, io.EOF
	}
	sig := s.signals[s.pos]
	s.pos++
	return sig, nil
}
