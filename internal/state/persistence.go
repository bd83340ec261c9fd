package state

import (
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ducminhle1904/order-pipeline/internal/errors"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

// Logger interface for the state store
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(context, message string, args ...interface{})
	Error(format string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

const (
	checkpointFileName = "checkpoint.json"
	positionsFileName  = "positions.json"
	equityFileName     = "equity.jsonl"
)

// Options locate the store on disk and name the partition it owns
type Options struct {
	Root        string
	Mode        string
	Class       string
	CapitalBase float64
	Location    *time.Location
	Now         func() time.Time
}

// Store is the durable record of orders, positions and equity for one instrument
// class. Every mutation reloads the shared checkpoint, replaces this class's
// partition and atomically rewrites the file.
type Store struct {
	opts    Options
	dir     string
	journal *Journal
	logger  Logger

	mu         sync.Mutex
	book       *LotBook
	marks      map[string]float64
	openOrders map[string]OpenOrder
	strategies map[string]*StrategyMetrics
	risk       *types.RiskState
	fillCount  int64
	closed     bool
}

// Open prepares the store directory, restores this class's partition and replays
// the journal when the checkpoint is missing, unreadable or behind it.
func Open(opts Options, logger Logger) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.NewConfigurationError("store", "open", "store root is required")
	}
	if opts.Mode == "" {
		opts.Mode = "paper"
	}
	if opts.Class == "" {
		opts.Class = "default"
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir := filepath.Join(opts.Root, opts.Mode)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewPersistenceError("store", "open", err)
	}

	journal, err := OpenJournal(filepath.Join(dir, "journal"), opts.Location, logger)
	if err != nil {
		return nil, errors.NewPersistenceError("store", "open journal", err)
	}

	s := &Store{
		opts:       opts,
		dir:        dir,
		journal:    journal,
		logger:     logger,
		book:       NewLotBook(),
		marks:      make(map[string]float64),
		openOrders: make(map[string]OpenOrder),
		strategies: make(map[string]*StrategyMetrics),
	}

	cp, err := LoadCheckpoint(s.checkpointPath())
	switch {
	case err == nil:
		if p := cp.Partitions[opts.Class]; p != nil {
			s.restore(p)
			logger.Info("Checkpoint restored for %s/%s: %d positions, %d fills",
				opts.Mode, opts.Class, len(p.Positions), p.FillCount)
		}
	case stderrors.Is(err, ErrNoCheckpoint):
		logger.Info("No checkpoint found for %s/%s, starting clean", opts.Mode, opts.Class)
	default:
		logger.LogWarning("Checkpoint", "ignoring unreadable checkpoint: %v", err)
	}

	fills, err := s.journalFills()
	if err != nil {
		return nil, errors.NewPersistenceError("store", "read journal", err)
	}
	if int64(len(fills)) != s.fillCount {
		logger.LogWarning("Checkpoint", "checkpoint has %d fills, journal has %d; replaying journal",
			s.fillCount, len(fills))
		s.mu.Lock()
		s.replay(fills)
		_, err := s.writeCheckpointLocked()
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) restore(p *Partition) {
	s.book = RestoreLotBook(p.Lots, p.Realized)
	for sym, px := range p.Marks {
		s.marks[sym] = px
	}
	for id, o := range p.OpenOrders {
		s.openOrders[id] = o
	}
	for name, m := range p.Strategies {
		if m == nil {
			continue
		}
		cp := *m
		s.strategies[name] = &cp
	}
	if p.Risk != nil {
		rs := p.Risk.Clone()
		s.risk = &rs
	}
	s.fillCount = p.FillCount
}

func (s *Store) checkpointPath() string { return filepath.Join(s.dir, checkpointFileName) }
func (s *Store) positionsPath() string  { return filepath.Join(s.dir, positionsFileName) }
func (s *Store) equityPath() string     { return filepath.Join(s.dir, equityFileName) }

// Dir is the mode directory the store writes to
func (s *Store) Dir() string { return s.dir }

// Class is the instrument class partition this store owns
func (s *Store) Class() string { return s.opts.Class }

// Journal exposes the order journal for read-side tools
func (s *Store) Journal() *Journal { return s.journal }

// AppendJournal writes a row for this mode and class without touching positions.
// Imported rows reach the book through RebuildFromJournal.
func (s *Store) AppendJournal(entry JournalEntry) (bool, error) {
	entry.Mode = s.opts.Mode
	entry.InstrumentClass = s.opts.Class
	ok, err := s.journal.Append(entry)
	if err != nil {
		return false, errors.NewPersistenceError("store", "journal", err)
	}
	return ok, nil
}

// ReadJournal returns this class's rows for one trading day
func (s *Store) ReadJournal(day string) ([]JournalEntry, error) {
	entries, err := s.journal.ReadDay(day)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.InstrumentClass == s.opts.Class {
			out = append(out, e)
		}
	}
	return out, nil
}

// Days lists the journaled trading days, oldest first
func (s *Store) Days() ([]string, error) { return s.journal.Days() }

func (s *Store) day(t time.Time) string {
	return t.In(s.opts.Location).Format(dayLayout)
}

// RecordExecution journals a terminal result once and folds any fill into the
// positions. It returns the realized P&L of the fill and whether the result was new.
func (s *Store) RecordExecution(result types.ExecutionResult) (float64, bool, error) {
	if !result.IsTerminal() {
		return 0, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false, errors.NewPersistenceError("store", "record", fmt.Errorf("store is closed"))
	}

	result.Mode = s.opts.Mode
	result.InstrumentClass = s.opts.Class
	if result.Timestamp.IsZero() {
		result.Timestamp = s.opts.Now().UTC()
	}

	appended, err := s.journal.Append(JournalEntry{ExecutionResult: result})
	if err != nil {
		return 0, false, errors.NewPersistenceError("store", "journal", err)
	}
	if !appended {
		s.logger.LogDebugOnly("order %s already journaled, ignoring", result.OrderID)
		return 0, false, nil
	}

	realized := 0.0
	if result.HasFill() {
		s.fillCount++
		realized = s.applyFill(types.FillFromResult(result, s.fillCount))
		delete(s.openOrders, result.OrderID)
		if result.Status == types.StatusPartial {
			s.openOrders[result.OrderID] = OpenOrder{
				OrderID:     result.OrderID,
				Symbol:      result.Symbol,
				Strategy:    result.Strategy,
				Side:        result.Side,
				Quantity:    result.Quantity,
				PlacedAt:    result.Timestamp,
				Filled:      result.FilledQuantity,
				FilledValue: result.FilledQuantity * result.AvgPrice,
			}
		}
	} else if result.Status == types.StatusPlaced {
		s.openOrders[result.OrderID] = OpenOrder{
			OrderID:  result.OrderID,
			Symbol:   result.Symbol,
			Strategy: result.Strategy,
			Side:     result.Side,
			Quantity: result.Quantity,
			PlacedAt: result.Timestamp,
		}
	}

	cp, err := s.writeCheckpointLocked()
	if err != nil {
		return realized, true, err
	}
	s.appendEquityLocked(cp)
	return realized, true, nil
}

func (s *Store) applyFill(f types.Fill) float64 {
	realized := s.book.Apply(f)
	s.marks[f.Symbol] = f.Price

	if f.Strategy != "" {
		m := s.strategies[f.Strategy]
		if m == nil {
			m = &StrategyMetrics{}
			s.strategies[f.Strategy] = m
		}
		m.Trades++
		m.Volume += math.Abs(f.Quantity) * f.Price
		m.RealizedPnL += realized
		m.LastTradeAt = f.Timestamp
		switch {
		case realized > 0:
			m.Wins++
		case realized < 0:
			m.Losses++
		}
	}
	return realized
}

// LatestCheckpoint reads the shared checkpoint from disk
func (s *Store) LatestCheckpoint() (*Checkpoint, error) {
	return LoadCheckpoint(s.checkpointPath())
}

// Equity returns capital plus realized and unrealized P&L, or the capital base
// when no readable checkpoint exists
func (s *Store) Equity() float64 {
	cp, err := s.LatestCheckpoint()
	if err != nil {
		return s.opts.CapitalBase
	}
	return cp.Equity
}

// Positions returns this class's open positions valued at the last marks
func (s *Store) Positions() map[string]types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions, _ := s.book.MarkPositions(s.marks)
	return positions
}

// UpdateMarks records last prices and rewrites the checkpoint when an open
// position was revalued
func (s *Store) UpdateMarks(marks map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	revalued := false
	for sym, px := range marks {
		if px <= 0 || math.IsNaN(px) || math.IsInf(px, 0) {
			continue
		}
		if s.marks[sym] == px {
			continue
		}
		s.marks[sym] = px
		if _, open := s.book.lots[sym]; open {
			revalued = true
		}
	}
	if !revalued {
		return nil
	}
	_, err := s.writeCheckpointLocked()
	return err
}

// SaveRiskState persists the risk gate counters into this class's partition
func (s *Store) SaveRiskState(rs types.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := rs.Clone()
	s.risk = &c
	_, err := s.writeCheckpointLocked()
	return err
}

// RiskState returns the last persisted risk counters
func (s *Store) RiskState() (types.RiskState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.risk == nil {
		return types.RiskState{}, false
	}
	return s.risk.Clone(), true
}

// OpenOrders returns orders placed with the broker and not yet seen filled
func (s *Store) OpenOrders() []OpenOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OpenOrder, 0, len(s.openOrders))
	for _, o := range s.openOrders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out
}

// OrderSync is what one broker update did to a resting order
type OrderSync struct {
	Fill        types.ExecutionResult
	RealizedPnL float64
	Booked      bool
	Closed      bool
}

// fillEpsilon ignores float noise between cumulative fill quantities
const fillEpsilon = 1e-9

func fillRowID(orderID string, cumulative float64) string {
	return orderID + "#fill-" + strconv.FormatFloat(cumulative, 'f', -1, 64)
}

// SyncOrder books what the broker filled on a resting order since the last sync.
// Each increment is journaled under <order>#fill-<cumulative qty>, so the PLACED
// row stays as written and a replayed update is a no-op. Filled, cancelled and
// rejected orders leave the open set. Unknown ids are ignored.
func (s *Store) SyncOrder(update types.ExecutionResult) (OrderSync, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return OrderSync{}, errors.NewPersistenceError("store", "sync", fmt.Errorf("store is closed"))
	}
	o, ok := s.openOrders[update.OrderID]
	if !ok {
		return OrderSync{}, nil
	}

	var out OrderSync
	changed := false
	delta := update.FilledQuantity - o.Filled
	if delta > fillEpsilon && update.AvgPrice > 0 {
		value := update.FilledQuantity*update.AvgPrice - o.FilledValue
		price := value / delta
		if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
			price = update.AvgPrice
		}
		status := update.Status
		if status != types.StatusFilled {
			status = types.StatusPartial
		}
		ts := update.Timestamp
		if ts.IsZero() {
			ts = s.opts.Now().UTC()
		}
		fill := types.ExecutionResult{
			OrderID:         fillRowID(o.OrderID, update.FilledQuantity),
			Status:          status,
			Symbol:          o.Symbol,
			Strategy:        o.Strategy,
			Side:            o.Side,
			Quantity:        delta,
			FilledQuantity:  delta,
			AvgPrice:        price,
			Message:         "fill of " + o.OrderID,
			Raw:             update.Raw,
			Timestamp:       ts,
			Mode:            s.opts.Mode,
			InstrumentClass: s.opts.Class,
		}

		appended, err := s.journal.Append(JournalEntry{ParentOrderID: o.OrderID, ExecutionResult: fill})
		if err != nil {
			return OrderSync{}, errors.NewPersistenceError("store", "journal", err)
		}
		if appended {
			s.fillCount++
			out.RealizedPnL = s.applyFill(types.FillFromResult(fill, s.fillCount))
			out.Fill = fill
			out.Booked = true
		}
		o.Filled = update.FilledQuantity
		o.FilledValue = update.FilledQuantity * update.AvgPrice
		changed = true
	}

	switch update.Status {
	case types.StatusFilled, types.StatusCancelled, types.StatusRejected:
		delete(s.openOrders, o.OrderID)
		out.Closed = true
		changed = true
	default:
		s.openOrders[o.OrderID] = o
	}

	if !changed {
		return out, nil
	}
	cp, err := s.writeCheckpointLocked()
	if err != nil {
		return out, err
	}
	if out.Booked {
		s.appendEquityLocked(cp)
	}
	return out, nil
}

// CloseOrder forgets a resting order after a cancel. Unknown ids are ignored.
func (s *Store) CloseOrder(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.openOrders[orderID]; !ok {
		return nil
	}
	delete(s.openOrders, orderID)
	_, err := s.writeCheckpointLocked()
	return err
}

// Flush writes a final checkpoint and equity point
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, err := s.writeCheckpointLocked()
	if err != nil {
		return err
	}
	s.appendEquityLocked(cp)
	return nil
}

// Close stops further mutations. It does not flush.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// RebuildFromJournal discards the in-memory book, replays every journaled fill of
// this class and rewrites the checkpoint
func (s *Store) RebuildFromJournal() (*Checkpoint, error) {
	fills, err := s.journalFills()
	if err != nil {
		return nil, errors.NewPersistenceError("store", "rebuild", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replay(fills)
	return s.writeCheckpointLocked()
}

func (s *Store) replay(fills []types.Fill) {
	s.book = NewLotBook()
	s.strategies = make(map[string]*StrategyMetrics)
	s.fillCount = int64(len(fills))
	for _, f := range sortFills(fills) {
		s.applyFill(f)
	}
}

// journalFills returns the fills of this class in journal order
func (s *Store) journalFills() ([]types.Fill, error) {
	entries, err := s.journal.ReadAll()
	if err != nil {
		return nil, err
	}
	var fills []types.Fill
	for _, e := range entries {
		if e.InstrumentClass != s.opts.Class || !e.HasFill() {
			continue
		}
		fills = append(fills, types.FillFromResult(e.ExecutionResult, int64(len(fills)+1)))
	}
	return fills, nil
}

func sortFills(fills []types.Fill) []types.Fill {
	ordered := append([]types.Fill(nil), fills...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Seq < ordered[j].Seq
	})
	return ordered
}

func (s *Store) partitionLocked(now time.Time) *Partition {
	lots, realized := s.book.Snapshot()
	positions, unrealized := s.book.MarkPositions(s.marks)

	marks := make(map[string]float64, len(s.marks))
	for sym, px := range s.marks {
		marks[sym] = px
	}
	orders := make(map[string]OpenOrder, len(s.openOrders))
	for id, o := range s.openOrders {
		orders[id] = o
	}
	strategies := make(map[string]*StrategyMetrics, len(s.strategies))
	for name, m := range s.strategies {
		cp := *m
		strategies[name] = &cp
	}
	var risk *types.RiskState
	if s.risk != nil {
		rs := s.risk.Clone()
		risk = &rs
	}

	return &Partition{
		Class:         s.opts.Class,
		UpdatedAt:     now,
		RealizedPnL:   s.book.RealizedPnL(),
		UnrealizedPnL: unrealized,
		Positions:     positions,
		Lots:          lots,
		Realized:      realized,
		Marks:         marks,
		OpenOrders:    orders,
		Strategies:    strategies,
		Risk:          risk,
		FillCount:     s.fillCount,
	}
}

func (s *Store) writeCheckpointLocked() (*Checkpoint, error) {
	cp, err := LoadCheckpoint(s.checkpointPath())
	if err != nil {
		if !stderrors.Is(err, ErrNoCheckpoint) {
			s.logger.LogWarning("Checkpoint", "rewriting unreadable checkpoint: %v", err)
		}
		cp = newCheckpoint(s.opts.Mode, s.opts.CapitalBase)
	}

	now := s.opts.Now().UTC()
	cp.Mode = s.opts.Mode
	cp.CapitalBase = s.opts.CapitalBase
	cp.UpdatedAt = now
	cp.Partitions[s.opts.Class] = s.partitionLocked(now)
	cp.rollDay(s.day(now))
	cp.recompute()

	if err := saveCheckpoint(s.checkpointPath(), cp); err != nil {
		return nil, errors.NewPersistenceError("store", "checkpoint", err)
	}
	if err := savePositions(s.positionsPath(), cp); err != nil {
		s.logger.LogWarning("Checkpoint", "failed to write positions snapshot: %v", err)
	}
	return cp, nil
}
