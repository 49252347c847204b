package us

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// settleCutoff is when a session's daily bar is considered final (ET).
const settleCutoffHour, settleCutoffMinute = 20, 5

// CalendarEndDate returns an Options.EndDate backed by the Alpaca trading
// calendar, so market holidays are honoured.
func CalendarEndDate(apiKey, apiSecret, baseURL string) func(context.Context) (time.Time, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return func(ctx context.Context) (time.Time, error) {
		et, err := time.LoadLocation("America/New_York")
		if err != nil {
			return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
		}
		now := time.Now().In(et)
		calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
			Start: now.AddDate(0, 0, -7),
			End:   now,
		})
		if err != nil {
			return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
		}
		days := make([]string, 0, len(calendar))
		for _, d := range calendar {
			days = append(days, d.Date)
		}
		return latestFinished(days, now)
	}
}

// latestFinished picks the newest session in days (YYYY-MM-DD, ascending)
// whose bar has settled at now. Today only counts after the cutoff.
func latestFinished(days []string, now time.Time) (time.Time, error) {
	if len(days) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}
	today := now.Format("2006-01-02")
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), settleCutoffHour, settleCutoffMinute, 0, 0, now.Location())

	for i := len(days) - 1; i >= 0; i-- {
		day, err := time.Parse("2006-01-02", days[i])
		if err != nil {
			continue
		}
		if days[i] == today {
			if now.After(cutoff) {
				return day, nil
			}
			continue
		}
		if days[i] < today {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}
