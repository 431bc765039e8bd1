package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
		code   int
	}{
		{
			"all up",
			map[string]Check{"index": PingCheck(func(context.Context) error { return nil }, StatusDown)},
			StatusUp, http.StatusOK,
		},
		{
			"optional dependency degraded",
			map[string]Check{
				"index": PingCheck(func(context.Context) error { return nil }, StatusDown),
				"redis": PingCheck(func(context.Context) error { return errors.New("refused") }, StatusDegraded),
			},
			StatusDegraded, http.StatusServiceUnavailable,
		},
		{
			"index down",
			map[string]Check{
				"index": PingCheck(func(context.Context) error { return errors.New("not loaded") }, StatusDown),
				"redis": PingCheck(func(context.Context) error { return errors.New("refused") }, StatusDegraded),
			},
			StatusDown, http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}
			report := c.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("components = %d", len(report.Components))
			}

			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.code {
				t.Errorf("ready code = %d, want %d", rec.Code, tt.code)
			}
			var body Report
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.want {
				t.Errorf("ready body status = %s", body.Status)
			}
		})
	}
}

func TestPingCheckMessage(t *testing.T) {
	got := PingCheck(func(context.Context) error { return errors.New("no index") }, StatusDown)(context.Background())
	if got.Status != StatusDown || got.Message != "no index" {
		t.Errorf("got %+v", got)
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("code = %d", rec.Code)
	}
}
