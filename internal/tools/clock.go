package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // IANA names resolve even without a system zoneinfo
)

// Clock reports the current time in UTC, the server's local zone, or a
// named IANA zone.
type Clock struct {
	now func() time.Time
}

// NewClock returns a Clock backed by now, or time.Now when nil.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

type clockParams struct {
	Timezone string `json:"timezone"`
}

func (c *Clock) Descriptor() Descriptor {
	return Descriptor{
		Name:        "get_current_time",
		Description: "Get the current date and time in various formats.",
		Parameters: map[string]string{
			"timezone": "string - Optional timezone (default: 'UTC', can be 'local', 'UTC', or specific timezone)",
		},
	}
}

func (c *Clock) Execute(_ context.Context, params map[string]any) *Result {
	var p clockParams
	if err := decodeParams(params, &p); err != nil {
		return invalidParams(err)
	}
	tz := strings.TrimSpace(p.Timezone)
	if tz == "" {
		tz = "UTC"
	}

	now := c.now()
	var timeStr, dateStr string
	switch {
	case strings.EqualFold(tz, "local"):
		t := now.Local()
		timeStr = t.Format("3:04:05 PM")
		dateStr = t.Format("1/2/2006")
	case strings.EqualFold(tz, "UTC"):
		t := now.UTC()
		timeStr = t.Format("Mon, 02 Jan 2006 15:04:05 GMT")
		dateStr = t.Format(time.DateOnly)
	default:
		loc, err := loadLocation(tz)
		if err != nil {
			return Failure("Invalid timezone", fmt.Sprintf(
				"Could not get time for timezone '%s'. Please use 'UTC', 'local', or a valid IANA timezone name.", tz))
		}
		t := now.In(loc)
		timeStr = t.Format("3:04:05 PM")
		dateStr = t.Format("1/2/2006")
	}

	return Success(fmt.Sprintf("Current time (%s): %s %s", tz, dateStr, timeStr), map[string]any{
		"timestamp": now.UTC().Format("2006-01-02T15:04:05.000Z"),
		"time":      timeStr,
		"date":      dateStr,
		"timezone":  tz,
	})
}

// loadLocation accepts only IANA names. time.LoadLocation also takes
// "Local" and relative paths, which are not zone names.
func loadLocation(name string) (*time.Location, error) {
	if strings.EqualFold(name, "local") || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return nil, fmt.Errorf("invalid zone %q", name)
	}
	return time.LoadLocation(name)
}
