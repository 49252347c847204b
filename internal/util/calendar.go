package util

import (
	"time"

	"dipsniper/internal/domain"
)

// session is the regular trading session of a market in local time.
type session struct {
	tz                  string
	openHour, openMin   int
	closeHour, closeMin int
}

var sessions = map[domain.Market]session{
	domain.MarketUS: {tz: "America/New_York", openHour: 9, openMin: 30, closeHour: 16},
	domain.MarketKR: {tz: "Asia/Seoul", openHour: 9, closeHour: 15, closeMin: 30},
}

// TradingCalendar answers weekday session questions for one market.
// Exchange holidays are not modelled.
type TradingCalendar struct {
	market domain.Market
	loc    *time.Location
	sess   session
}

// NewTradingCalendar creates a TradingCalendar for the given market. Unknown
// markets use the US session.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	sess, ok := sessions[market]
	if !ok {
		sess = sessions[domain.MarketUS]
	}
	loc, err := time.LoadLocation(sess.tz)
	if err != nil {
		loc = time.UTC
	}
	return &TradingCalendar{market: market, loc: loc, sess: sess}
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func (tc *TradingCalendar) bounds(t time.Time) (open, end time.Time) {
	t = t.In(tc.loc)
	y, m, d := t.Date()
	open = time.Date(y, m, d, tc.sess.openHour, tc.sess.openMin, 0, 0, tc.loc)
	end = time.Date(y, m, d, tc.sess.closeHour, tc.sess.closeMin, 0, 0, tc.loc)
	return open, end
}

// IsMarketOpen returns whether t falls inside a weekday regular session.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	if !isWeekday(t.In(tc.loc)) {
		return false
	}
	open, end := tc.bounds(t)
	return !t.Before(open) && t.Before(end)
}

// LastCompletedSession returns the date (midnight UTC) of the most recent
// session that had closed by t. Daily bars up to this date are final.
func (tc *TradingCalendar) LastCompletedSession(t time.Time) time.Time {
	local := t.In(tc.loc)
	_, end := tc.bounds(local)
	if local.Before(end) {
		local = local.AddDate(0, 0, -1)
	}
	for !isWeekday(local) {
		local = local.AddDate(0, 0, -1)
	}
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextClose returns the next session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if !isWeekday(day) {
			continue
		}
		_, end := tc.bounds(day)
		if !end.Before(t) {
			return end
		}
	}
	return time.Time{}
}
