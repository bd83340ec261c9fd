package bot

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/order-pipeline/internal/logger"
	"github.com/ducminhle1904/order-pipeline/pkg/types"
)

const signalFile = `
# replayed from the breakout scanner
{"intent":{"symbol":"BTCUSDT","strategy":"breakout","side":"BUY","quantity":0.1,"order_type":"MARKET","timeframe":"1m"},"last_price":44000,"bar_index":10,"atr":120.5}
not json at all
{"intent":{"symbol":"ETHUSDT","strategy":"mean-revert","side":"SELL","order_type":"MARKET"},"last_price":3000,"bar_index":11,"quality":0.5}
`

func TestJSONLSource_SkipsCommentsAndBadLines(t *testing.T) {
	src := NewJSONLSource(strings.NewReader(signalFile), logger.Nop())
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", first.Intent.Symbol)
	assert.Equal(t, types.SideBuy, first.Intent.Side)
	assert.Equal(t, 44000.0, first.LastPrice)
	require.NotNil(t, first.ATR)
	assert.Equal(t, 120.5, *first.ATR)
	assert.Equal(t, 1.0, first.QualityMultiplier())

	second, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", second.Intent.Symbol)
	assert.Equal(t, int64(11), second.BarIndex)
	assert.Equal(t, 0.5, second.QualityMultiplier())

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestJSONLSource_NextHonoursContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewJSONLSource(r, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSliceSource_ReplaysInOrder(t *testing.T) {
	src := NewSliceSource(signal(types.SideBuy, 1, 100, 1), signal(types.SideSell, 1, 101, 2))
	ctx := context.Background()

	a, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.BarIndex)
	b, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SideSell, b.Intent.Side)
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
