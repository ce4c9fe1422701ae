package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/nzbgetd/nzbgetd/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q := queue.New()
	n := &queue.NzbInfo{ID: "nzb1", Filename: "release.nzb", Size: 100, Files: []*queue.FileInfo{
		{ID: "f1", NZBID: "nzb1", Filename: "release.rar", Size: 100, RemainingSize: 100},
	}}
	q.AddNzb(n, false)
	return q
}

func TestGetQueueReturnsSnapshot(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e, newTestQueue(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []QueueItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(items) != 1 || items[0].ID != "nzb1" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestGetHistoryReturnsEmptySliceWhenNothingCompleted(t *testing.T) {
	e := echo.New()
	RegisterRoutes(e, newTestQueue(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var items []HistoryItem
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty history, got %+v", items)
	}
}
