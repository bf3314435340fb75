package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestDateTimeToolUsesDefaultFormat(t *testing.T) {
	tool := &DateTimeTool{now: fixedClock(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))}
	res := tool.Execute(context.Background(), nil)
	require.True(t, res.Success)
	assert.Equal(t, "2026-07-30T12:00:00Z", res.Data)
}

func TestDateTimeToolHonorsFormatParam(t *testing.T) {
	tool := &DateTimeTool{now: fixedClock(time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))}
	res := tool.Execute(context.Background(), map[string]any{"format": "2006-01-02"})
	require.True(t, res.Success)
	assert.Equal(t, "2026-07-30", res.Data)
}

func TestDateTimeToolRejectsBlankFormat(t *testing.T) {
	tool := NewDateTimeTool()
	res := tool.Execute(context.Background(), map[string]any{"format": "   "})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestDateTimeToolRejectsOversizedFormat(t *testing.T) {
	tool := NewDateTimeTool()
	huge := make([]byte, maxFormatLen+1)
	for i := range huge {
		huge[i] = 'x'
	}
	res := tool.Execute(context.Background(), map[string]any{"format": string(huge)})
	assert.False(t, res.Success)
}

func TestDateTimeToolNeverFailsOnMissingParams(t *testing.T) {
	tool := NewDateTimeTool()
	res := tool.Execute(context.Background(), nil)
	assert.True(t, res.Success)
}
