package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 15, 9, 26, 535_000_000, time.UTC)

func TestClock_UTCDefault(t *testing.T) {
	c := NewClock(func() time.Time { return fixedNow })

	for _, params := range []map[string]any{{}, {"timezone": "utc"}, {"timezone": ""}} {
		res := c.Execute(context.Background(), params)
		require.True(t, res.Success)
		assert.Equal(t, "2026-03-14T15:09:26.535Z", res.Field("timestamp"))
		assert.Equal(t, "Sat, 14 Mar 2026 15:09:26 GMT", res.Field("time"))
		assert.Equal(t, "2026-03-14", res.Field("date"))
	}
}

func TestClock_IANAZone(t *testing.T) {
	c := NewClock(func() time.Time { return fixedNow })

	res := c.Execute(context.Background(), map[string]any{"timezone": "Asia/Kolkata"})
	require.True(t, res.Success)
	assert.Equal(t, "8:39:26 PM", res.Field("time"))
	assert.Equal(t, "3/14/2026", res.Field("date"))
	assert.Equal(t, "Asia/Kolkata", res.Field("timezone"))
	assert.Equal(t, "Current time (Asia/Kolkata): 3/14/2026 8:39:26 PM", res.Response)
}

func TestClock_Local(t *testing.T) {
	c := NewClock(func() time.Time { return fixedNow })

	res := c.Execute(context.Background(), map[string]any{"timezone": "LOCAL"})
	require.True(t, res.Success)
	assert.Equal(t, fixedNow.Local().Format("3:04:05 PM"), res.Field("time"))
}

func TestClock_InvalidZone(t *testing.T) {
	c := NewClock(nil)

	for _, tz := range []string{"Mars/Olympus_Mons", "../../etc/passwd", "/etc/localtime"} {
		res := c.Execute(context.Background(), map[string]any{"timezone": tz})
		assert.False(t, res.Success, tz)
		assert.Equal(t, "Invalid timezone", res.Error)
		assert.Contains(t, res.Response, "Please use 'UTC', 'local', or a valid IANA timezone name.")
	}
}
