package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/order-pipeline/internal/logger"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

func entry(id string, at time.Time) JournalEntry {
	return JournalEntry{ExecutionResult: types.ExecutionResult{
		OrderID:   id,
		Status:    types.StatusFilled,
		Symbol:    "BTCUSDT",
		Side:      types.SideBuy,
		Quantity:  1,
		Timestamp: at,
	}}
}

// TestJournal_DedupAcrossReopen checks an order id is written once even after a restart
func TestJournal_DedupAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

	j, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)

	ok, err := j.Append(entry("A1", at))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = j.Append(entry("A1", at))
	require.NoError(t, err)
	assert.False(t, ok)

	reopened, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)
	ok, err = reopened.Append(entry("A1", at.Add(24*time.Hour)))
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := reopened.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, JournalVersion, rows[0].Version)
}

func TestJournal_DayPartitions(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)

	d1 := time.Date(2024, 5, 6, 23, 0, 0, 0, time.UTC)
	_, err = j.Append(entry("A", d1))
	require.NoError(t, err)
	_, err = j.Append(entry("B", d1.Add(2*time.Hour)))
	require.NoError(t, err)

	days, err := j.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-06", "2024-05-07"}, days)

	rows, err := j.ReadDay("2024-05-07")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "B", rows[0].OrderID)
}

// TestOpenJournal_HealsIndex simulates a crash after the row append but before the index append
func TestOpenJournal_HealsIndex(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)
	_, err = j.Append(entry("A", time.Now()))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, indexFileName)))

	reopened, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)
	assert.True(t, reopened.Seen("A"))
	_, err = os.Stat(filepath.Join(dir, indexFileName))
	assert.NoError(t, err)
}

func TestJournal_SkipsMalformedRows(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	j, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)
	_, err = j.Append(entry("A", at))
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dir, "2024-05-06.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, err := j.ReadDay("2024-05-06")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestJournal_RejectsEmptyID(t *testing.T) {
	j, err := OpenJournal(t.TempDir(), time.UTC, logger.Nop())
	require.NoError(t, err)
	_, err = j.Append(entry("", time.Now()))
	assert.Error(t, err)
}

func TestJournal_IndexGrowsOneLinePerID(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	j, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)

	for _, id := range []string{"A", "B", "A", "C"} {
		_, err := j.Append(entry(id, at))
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	require.NoError(t, err)
	assert.Equal(t, "A\nB\nC\n", string(data))
}

// TestJournal_SeesIdsFromAnotherWriter checks two journals on one directory
// pick up each other's ids before appending
func TestJournal_SeesIdsFromAnotherWriter(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	first, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)
	second, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)

	ok, err := first.Append(entry("X", at))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = second.Append(entry("X", at))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = second.Append(entry("Y", at))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = first.Append(entry("Y", at))
	require.NoError(t, err)
	assert.False(t, ok)

	rows, err := first.ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

// TestOpenJournal_DropsTornIndexLine simulates a crash halfway through an index append
func TestOpenJournal_DropsTornIndexLine(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	j, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)
	_, err = j.Append(entry("B-123", at))
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(dir, indexFileName), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("B-45")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)
	assert.True(t, reopened.Seen("B-123"))
	assert.False(t, reopened.Seen("B-45"))

	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	require.NoError(t, err)
	assert.Equal(t, "B-123\n", string(data))

	ok, err := reopened.Append(entry("B-456", at))
	require.NoError(t, err)
	assert.True(t, ok)
	again, err := OpenJournal(dir, time.UTC, logger.Nop())
	require.NoError(t, err)
	assert.True(t, again.Seen("B-456"))
	assert.False(t, again.Seen("B-45"))
}

func TestJournal_RejectsLineBreakInID(t *testing.T) {
	j, err := OpenJournal(t.TempDir(), time.UTC, logger.Nop())
	require.NoError(t, err)
	_, err = j.Append(entry("A\nB", time.Now()))
	assert.Error(t, err)
}
