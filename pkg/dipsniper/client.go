// Package dipsniper is a Go client for the dipsniper-server HTTP API.
package dipsniper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to a dipsniper-server.
type Client struct {
	rc *resty.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Accept", "application/json")
	return &Client{rc: rc}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dipsniper: %d %s", e.Status, e.Message)
}

// TradeEvent is one ledger entry.
type TradeEvent struct {
	Date           time.Time `json:"date"`
	Kind           string    `json:"kind"`
	Price          float64   `json:"price"`
	Shares         int64     `json:"shares"`
	RealizedReturn float64   `json:"realized_return,omitempty"`
	Cash           float64   `json:"cash"`
}

// Metrics summarises a run.
type Metrics struct {
	TotalReturn  float64 `json:"total_return"`
	NumTrades    int     `json:"num_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"`
	AvgReturn    float64 `json:"avg_return"`
	BestReturn   float64 `json:"best_return"`
	WorstReturn  float64 `json:"worst_return"`
	ProfitFactor float64 `json:"profit_factor"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Exposure     float64 `json:"exposure"`
}

// Result is the outcome of one backtest.
type Result struct {
	RunID       string       `json:"run_id"`
	Symbol      string       `json:"symbol"`
	Market      string       `json:"market"`
	Preset      string       `json:"preset"`
	Variant     string       `json:"variant"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	InitialCash float64      `json:"initial_cash"`
	NAV         float64      `json:"nav"`
	Ledger      []TradeEvent `json:"ledger"`
	Metrics     Metrics      `json:"metrics"`
	Bars        int          `json:"bars"`
}

// Run is a stored backtest as listed by the server.
type Run struct {
	ID          string       `json:"id"`
	Symbol      string       `json:"symbol"`
	Market      string       `json:"market"`
	Preset      string       `json:"preset"`
	Variant     string       `json:"variant"`
	Start       time.Time    `json:"start"`
	End         time.Time    `json:"end"`
	InitialCash float64      `json:"initial_cash"`
	NAV         float64      `json:"nav"`
	Metrics     Metrics      `json:"metrics"`
	Config      string       `json:"config"`
	CreatedAt   time.Time    `json:"created_at"`
	Ledger      []TradeEvent `json:"ledger,omitempty"`
}

// BacktestParams selects what to backtest. Zero fields use server defaults.
type BacktestParams struct {
	Symbol      string
	Preset      string
	Start, End  time.Time
	InitialCash float64
}

func (p BacktestParams) query() url.Values {
	q := url.Values{"symbol": {p.Symbol}}
	if p.Preset != "" {
		q.Set("preset", p.Preset)
	}
	if !p.Start.IsZero() {
		q.Set("start", p.Start.Format("2006-01-02"))
	}
	if !p.End.IsZero() {
		q.Set("end", p.End.Format("2006-01-02"))
	}
	if p.InitialCash > 0 {
		q.Set("cash", strconv.FormatFloat(p.InitialCash, 'f', -1, 64))
	}
	return q
}

// Backtest runs a backtest on the server.
func (c *Client) Backtest(ctx context.Context, p BacktestParams) (*Result, error) {
	var out Result
	if err := c.get(ctx, "/api/backtest", p.query(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Presets lists the preset names the server knows.
func (c *Client) Presets(ctx context.Context) ([]string, error) {
	var out struct {
		Presets []string `json:"presets"`
	}
	if err := c.get(ctx, "/api/presets", nil, &out); err != nil {
		return nil, err
	}
	return out.Presets, nil
}

// Runs lists recent runs, optionally narrowed to a symbol.
func (c *Client) Runs(ctx context.Context, symbol string, limit int) ([]Run, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Run
	if err := c.get(ctx, "/api/runs", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun fetches one run with its ledger.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var out Run
	if err := c.get(ctx, "/api/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Params returns every parameter override keyed by symbol.
func (c *Client) Params(ctx context.Context) (map[string]map[string]float64, error) {
	var out map[string]map[string]float64
	if err := c.get(ctx, "/api/params", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetParam stores an override; symbol "*" applies to every symbol.
func (c *Client) SetParam(ctx context.Context, symbol, key string, value float64) error {
	var apiErr apiErrorBody
	resp, err := c.rc.R().
		SetContext(ctx).
		SetBody(map[string]float64{"value": value}).
		SetError(&apiErr).
		Put("/api/params/" + url.PathEscape(symbol) + "/" + url.PathEscape(key))
	return checkResponse(resp, err, &apiErr)
}

// DeleteParam removes an override.
func (c *Client) DeleteParam(ctx context.Context, symbol, key string) error {
	var apiErr apiErrorBody
	resp, err := c.rc.R().
		SetContext(ctx).
		SetError(&apiErr).
		Delete("/api/params/" + url.PathEscape(symbol) + "/" + url.PathEscape(key))
	return checkResponse(resp, err, &apiErr)
}

type apiErrorBody struct {
	Error string `json:"error"`
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	var apiErr apiErrorBody
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParamsFromValues(q).
		SetResult(out).
		SetError(&apiErr).
		Get(path)
	return checkResponse(resp, err, &apiErr)
}

func checkResponse(resp *resty.Response, err error, apiErr *apiErrorBody) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status()
		}
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}
