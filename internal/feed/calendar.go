package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is one weekly slot on the calendar. Time is "HH:MM" in UTC.
type Entry struct {
	Title    string `json:"title"`
	Time     string `json:"time"`
	Page     string `json:"page"`
	ImageURL string `json:"image_url"`
}

// Calendar maps an English weekday name to its entries in calendar order.
type Calendar struct {
	TZ       string             `json:"tz"`
	Schedule map[string][]Entry `json:"schedule"`
}

func (c Calendar) Day(wd time.Weekday) []Entry { return c.Schedule[wd.String()] }

func (c Calendar) Len() int {
	n := 0
	for _, es := range c.Schedule {
		n += len(es)
	}
	return n
}

// Calendar fetches the weekly schedule. The server may label JSON as text/html,
// so the content type is ignored.
func (c *Client) Calendar(ctx context.Context) (Calendar, error) {
	b, err := c.get(ctx, "calendar", c.cfg.CalendarURL)
	if err != nil {
		return Calendar{}, err
	}
	return ParseCalendar(b)
}

func ParseCalendar(b []byte) (Calendar, error) {
	var cal Calendar
	if err := json.Unmarshal(b, &cal); err != nil {
		return Calendar{}, fmt.Errorf("feed: decode calendar: %w", err)
	}
	if cal.Schedule == nil {
		return Calendar{}, fmt.Errorf("feed: calendar has no schedule")
	}
	return cal, nil
}
