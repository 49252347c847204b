package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"dipsniper/internal/backtest"
	"dipsniper/internal/domain"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy"
	"dipsniper/internal/strategy/builtins"
	"dipsniper/internal/tradeparams"
)

// risingWithDips climbs by 1 per bar with a low-volume down day every fifth
// bar.
func risingWithDips(symbol string, n int) []domain.Bar {
	day0 := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		v := int64(1000)
		if i%5 == 4 {
			c -= 1.5
			v = 500
		}
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: v}
	}
	return bars
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	if err := ps.WriteBars(context.Background(), risingWithDips("AAPL", 250)); err != nil {
		t.Fatal(err)
	}
	runs, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { runs.Close() })

	params := tradeparams.NewStore("")
	bt := backtest.NewBacktester(ps, builtins.NewRegistry(strategy.DefaultConfig()),
		backtest.WithRunStore(runs), backtest.WithOverrides(params))
	return NewServer(bt, runs, params, Options{InitialCash: 10000})
}

func getJSON(t *testing.T, h http.Handler, url string, wantStatus int, out any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	if rec.Code != wantStatus {
		t.Fatalf("GET %s status = %d, want %d (body %s)", url, rec.Code, wantStatus, rec.Body)
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("GET %s: decoding: %v", url, err)
		}
	}
}

func TestHealthAndPresets(t *testing.T) {
	h := newTestServer(t).Handler()
	var health map[string]string
	getJSON(t, h, "/healthz", http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	var presets map[string][]string
	getJSON(t, h, "/api/presets", http.StatusOK, &presets)
	if len(presets["presets"]) != len(builtins.Presets(strategy.DefaultConfig())) {
		t.Errorf("presets = %v", presets)
	}
}

func TestBacktestEndpoint(t *testing.T) {
	h := newTestServer(t).Handler()

	var res backtest.BacktestResult
	getJSON(t, h, "/api/backtest?symbol=aapl&preset=basic", http.StatusOK, &res)
	if res.Symbol != "AAPL" || res.InitialCash != 10000 || res.Metrics.NumTrades == 0 {
		t.Errorf("result = %s %v trades %d", res.Symbol, res.InitialCash, res.Metrics.NumTrades)
	}
	if res.Equity != nil {
		t.Error("equity curve returned without equity=true")
	}

	var runs []store.Run
	getJSON(t, h, "/api/runs?symbol=AAPL", http.StatusOK, &runs)
	if len(runs) != 1 || runs[0].ID != res.RunID {
		t.Fatalf("runs = %+v, want the one just executed", runs)
	}
	var run store.Run
	getJSON(t, h, "/api/runs/"+res.RunID, http.StatusOK, &run)
	if len(run.Ledger) != len(res.Ledger) {
		t.Errorf("stored ledger has %d events, want %d", len(run.Ledger), len(res.Ledger))
	}
}

func TestBacktestEndpointErrors(t *testing.T) {
	h := newTestServer(t).Handler()
	tests := []struct {
		url  string
		want int
	}{
		{"/api/backtest", http.StatusBadRequest},
		{"/api/backtest?symbol=AAPL&preset=nope", http.StatusBadRequest},
		{"/api/backtest?symbol=AAPL&start=2022-13-01", http.StatusBadRequest},
		{"/api/backtest?symbol=AAPL&cash=-5", http.StatusBadRequest},
		{"/api/backtest?symbol=ZZZZ", http.StatusNotFound},
		{"/api/runs/missing", http.StatusNotFound},
		{"/api/runs?limit=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		var body map[string]string
		getJSON(t, h, tt.url, tt.want, &body)
		if body["error"] == "" {
			t.Errorf("GET %s: no error message", tt.url)
		}
	}
}

func TestParamsEndpoints(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	put := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, path, strings.NewReader(body)))
		return rec
	}
	if rec := put("/api/params/aapl/take_profit", `{"value": 5}`); rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d body %s", rec.Code, rec.Body)
	}
	if rec := put("/api/params/AAPL/nope", `{"value": 1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("PUT unknown key status = %d", rec.Code)
	}
	if rec := put("/api/params/AAPL/stop_loss", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("PUT without value status = %d", rec.Code)
	}

	var snap map[string]map[string]float64
	getJSON(t, h, "/api/params", http.StatusOK, &snap)
	if snap["AAPL"][tradeparams.KeyTakeProfit] != 5 {
		t.Errorf("snapshot = %v", snap)
	}

	// The override reaches the backtester: a 500% target never fills.
	var res backtest.BacktestResult
	getJSON(t, h, "/api/backtest?symbol=AAPL", http.StatusOK, &res)
	if res.Metrics.NumTrades != 0 || res.Open == nil {
		t.Errorf("trades = %d open = %v, want override applied", res.Metrics.NumTrades, res.Open)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/params/AAPL/take_profit", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", rec.Code)
	}
	if got := s.params.Get("AAPL"); len(got) != 0 {
		t.Errorf("after delete = %v", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/params/AAPL/take_profit", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestParamStream(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/params/stream", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var ev tradeparams.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "snapshot" {
		t.Fatalf("first event = %+v, want snapshot", ev)
	}

	if err := s.params.Set("*", tradeparams.KeyStopLoss, 0.05); err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != "set" || ev.Symbol != "*" || ev.Key != tradeparams.KeyStopLoss || ev.Value != 0.05 {
		t.Errorf("event = %+v", ev)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func dialBufconn(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go s.grpcSrv.Serve(lis)
	t.Cleanup(s.grpcSrv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCBacktest(t *testing.T) {
	s := newTestServer(t)
	client := NewBacktestClient(dialBufconn(t, s))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := client.Run(ctx, map[string]any{"symbol": "aapl", "preset": "advanced", "cash": 20000})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Symbol != "AAPL" || res.Preset != "advanced" || res.InitialCash != 20000 || res.RunID == "" {
		t.Errorf("result = %+v", res)
	}
	if _, err := s.runs.GetRun(ctx, res.RunID); err != nil {
		t.Errorf("remote run not persisted: %v", err)
	}

	names, err := client.Presets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != len(s.bt.Presets()) {
		t.Errorf("Presets = %v", names)
	}

	_, err = client.Run(ctx, map[string]any{"symbol": "ZZZZ"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("missing symbol code = %v, want NotFound", status.Code(err))
	}
	_, err = client.Run(ctx, map[string]any{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty request code = %v, want InvalidArgument", status.Code(err))
	}
}
