package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistryTwiceDoesNotPanic(t *testing.T) {
	_ = New()
	_ = New()
}

func TestRecordAndScrape(t *testing.T) {
	r := New()
	r.RecordReconnect("H", "success")
	r.RecordOrderbookUpdate("H", "BTC", "snapshot")
	r.RecordCandleFold("H", "BTC", "1m")
	r.RecordThrottleDrop("BTC")
	r.RecordPipelineError("orderbook", "protocol")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"marketdata_ws_reconnects_total",
		"marketdata_orderbook_updates_total",
		"marketdata_candle_folds_total",
		"marketdata_agg_throttle_drops_total",
		"marketdata_pipeline_errors_total",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected scrape output to contain %s", want)
		}
	}
}
