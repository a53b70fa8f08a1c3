package suitecrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeCRM serves module/Alerts plus the Calls/Meetings lookups behind them.
type fakeCRM struct {
	alerts      []map[string]any
	alertStatus int
	records     map[string]string // record id -> date_start
}

func (f *fakeCRM) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Api/index.php/V8/module/Alerts":
			if f.alertStatus != 0 {
				w.WriteHeader(f.alertStatus)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"data": f.alerts})
		case "/Api/index.php/V8/module/Calls", "/Api/index.php/V8/module/Meetings":
			recordID := r.URL.Query().Get("filter[id][eq]")
			dateStart, ok := f.records[recordID]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"id": recordID, "attributes": map[string]any{"date_start": dateStart}},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func alertItem(id, urlRedirect, updatedAt string) map[string]any {
	return map[string]any{
		"id": id,
		"attributes": map[string]any{
			"url_redirect":     urlRedirect,
			"assigned_user_id": "crm-42",
			"is_read":          false,
			"updated_at":       updatedAt,
			"owner_id":         "crm-42",
			"state_id":         1,
		},
	}
}

// testNow is the fixed evaluation time used by the reconciler tests.
var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newAlertsClient(t *testing.T, crm *fakeCRM) *Client {
	t.Helper()
	server := httptest.NewServer(crm.handler(t))
	t.Cleanup(server.Close)

	store := storeWithUser(server.URL)
	store.SetUserValue("alice", "user_id", "crm-42")
	client := newTestClient(store)
	client.now = func() time.Time { return testNow }
	return client
}

func crmTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func TestGetAlertsClassifiesCallsAndMeetings(t *testing.T) {
	future := crmTime(testNow.Add(2 * time.Hour))
	crm := &fakeCRM{
		alerts: []map[string]any{
			alertItem("a1", "index.php?module=Calls&record=abc-123", crmTime(testNow)),
			alertItem("a2", "index.php?module=Meetings&record=def-456", crmTime(testNow)),
			alertItem("a3", "index.php?module=Projects&record=ggg-789", crmTime(testNow)),
			alertItem("a4", "index.php?module=Calls", crmTime(testNow)), // no record id
		},
		records: map[string]string{"abc-123": future, "def-456": future, "ggg-789": future},
	}

	alerts, err := newAlertsClient(t, crm).GetAlerts(context.Background(), "alice", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	kinds := map[string]string{alerts[0].ID: string(alerts[0].Kind), alerts[1].ID: string(alerts[1].Kind)}
	if kinds["a1"] != "call" || kinds["a2"] != "meeting" {
		t.Fatalf("unexpected classification: %v", kinds)
	}
}

func TestGetAlertsDropsPastDates(t *testing.T) {
	crm := &fakeCRM{
		alerts: []map[string]any{
			alertItem("past", "index.php?module=Calls&record=rec-past", crmTime(testNow)),
			alertItem("future", "index.php?module=Calls&record=rec-future", crmTime(testNow)),
		},
		records: map[string]string{
			"rec-past":   crmTime(testNow.Add(-time.Hour)),
			"rec-future": crmTime(testNow.Add(time.Hour)),
		},
	}

	alerts, err := newAlertsClient(t, crm).GetAlerts(context.Background(), "alice", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "future" {
		t.Fatalf("expected only the future alert, got %v", alerts)
	}
}

func TestGetAlertsSinceFilter(t *testing.T) {
	crm := &fakeCRM{
		alerts: []map[string]any{
			alertItem("early", "index.php?module=Calls&record=rec-a", crmTime(testNow)),
			alertItem("late", "index.php?module=Calls&record=rec-b", crmTime(testNow)),
		},
		records: map[string]string{
			"rec-a": crmTime(testNow.Add(1 * time.Hour)),
			"rec-b": crmTime(testNow.Add(3 * time.Hour)),
		},
	}

	since := testNow.Add(2 * time.Hour)
	alerts, err := newAlertsClient(t, crm).GetAlerts(context.Background(), "alice", &since, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != "late" {
		t.Fatalf("expected only the alert after since, got %v", alerts)
	}
}

func TestGetAlertsSortsAscendingAndLimits(t *testing.T) {
	crm := &fakeCRM{alerts: nil, records: map[string]string{}}
	for i := 3; i >= 1; i-- {
		recordID := fmt.Sprintf("rec-%d", i)
		crm.alerts = append(crm.alerts, alertItem(fmt.Sprintf("a%d", i), "index.php?module=Meetings&record="+recordID, crmTime(testNow)))
		crm.records[recordID] = crmTime(testNow.Add(time.Duration(i) * time.Hour))
	}

	alerts, err := newAlertsClient(t, crm).GetAlerts(context.Background(), "alice", nil, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(alerts))
	}
	if alerts[0].ID != "a1" || alerts[1].ID != "a2" {
		t.Fatalf("expected ascending date order, got %s then %s", alerts[0].ID, alerts[1].ID)
	}
}

func TestGetAlertsDropsAlertOnFailedRecordLookup(t *testing.T) {
	crm := &fakeCRM{
		alerts: []map[string]any{
			alertItem("broken", "index.php?module=Calls&record=rec-missing", crmTime(testNow)),
		},
		records: map[string]string{},
	}

	alerts, err := newAlertsClient(t, crm).GetAlerts(context.Background(), "alice", nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %v", alerts)
	}
}

func TestGetAlertsErrorShortCircuits(t *testing.T) {
	crm := &fakeCRM{alertStatus: http.StatusInternalServerError}

	_, err := newAlertsClient(t, crm).GetAlerts(context.Background(), "alice", nil, 0)
	if !IsKind(err, KindBadCredentials) {
		t.Fatalf("expected the alerts fetch error to propagate, got %v", err)
	}
}

func TestParseTimeLayouts(t *testing.T) {
	for _, input := range []string{"2024-03-01 12:00:00", "2024-03-01T12:00:00Z", "2024-03-01"} {
		if _, err := ParseTime(input); err != nil {
			t.Fatalf("expected %q to parse, got %v", input, err)
		}
	}
	if _, err := ParseTime("not a date"); err == nil {
		t.Fatal("expected parse failure")
	}
}
