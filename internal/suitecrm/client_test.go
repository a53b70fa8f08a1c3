package suitecrm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicetel/suitecrm-notifier/internal/database"
	"github.com/voicetel/suitecrm-notifier/internal/logging"
)

// memStore is an in-memory TokenStore for tests.
type memStore struct {
	mu   sync.Mutex
	app  map[string]string
	user map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		app:  make(map[string]string),
		user: make(map[string]map[string]string),
	}
}

func (m *memStore) GetUserValue(userID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user[userID][key], nil
}

func (m *memStore) SetUserValue(userID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user[userID] == nil {
		m.user[userID] = make(map[string]string)
	}
	m.user[userID][key] = value
	return nil
}

func (m *memStore) GetAppValue(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.app[key], nil
}

func (m *memStore) SetAppValue(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.app[key] = value
	return nil
}

func (m *memStore) ForEachLinkedUser(fn func(userID string) error) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.user))
	for id, values := range m.user {
		if values[database.KeyToken] != "" {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func newTestClient(store database.TokenStore) *Client {
	return NewClient(store, 5*time.Second, logging.NewLogger("text", false, io.Discard))
}

func storeWithUser(baseURL string) *memStore {
	store := newMemStore()
	store.SetAppValue(database.AppKeyClientID, "client-id")
	store.SetAppValue(database.AppKeyClientSecret, "client-secret")
	store.SetAppValue(database.AppKeyInstanceURL, baseURL)
	store.SetUserValue("alice", database.KeyToken, "stale-token")
	store.SetUserValue("alice", database.KeyRefreshToken, "refresh-1")
	return store
}

func TestRequestRefreshesOnceAndRetries(t *testing.T) {
	var apiCalls, tokenCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Api/access_token" {
			atomic.AddInt32(&tokenCalls, 1)
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), "grant_type=refresh_token") {
				t.Errorf("expected refresh_token grant, got body %q", body)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"fresh-token","refresh_token":"refresh-2","token_type":"bearer","expires_in":3600}`))
			return
		}
		if r.URL.Path != "/Api/index.php/V8/users/me" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		atomic.AddInt32(&apiCalls, 1)
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"crm-42"}`))
	}))
	defer server.Close()

	store := storeWithUser(server.URL)
	client := newTestClient(store)

	id, err := client.Me(context.Background(), "alice")
	if err != nil {
		t.Fatalf("expected refresh to recover from 401, got error: %v", err)
	}
	if id != "crm-42" {
		t.Fatalf("expected crm-42, got %s", id)
	}
	if atomic.LoadInt32(&apiCalls) != 2 {
		t.Fatalf("expected exactly 2 api calls (1 retry), got %d", apiCalls)
	}
	if atomic.LoadInt32(&tokenCalls) != 1 {
		t.Fatalf("expected exactly 1 token call, got %d", tokenCalls)
	}

	// Both tokens must be persisted
	if tok, _ := store.GetUserValue("alice", database.KeyToken); tok != "fresh-token" {
		t.Fatalf("expected persisted access token, got %q", tok)
	}
	if ref, _ := store.GetUserValue("alice", database.KeyRefreshToken); ref != "refresh-2" {
		t.Fatalf("expected persisted refresh token, got %q", ref)
	}
}

func TestRequestDoesNotRetryTwice(t *testing.T) {
	var apiCalls, tokenCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Api/access_token" {
			atomic.AddInt32(&tokenCalls, 1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"fresh-token","refresh_token":"refresh-2","token_type":"bearer","expires_in":3600}`))
			return
		}
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(storeWithUser(server.URL))

	_, err := client.Request(context.Background(), "alice", "users/me", nil, http.MethodGet)
	if !IsKind(err, KindBadCredentials) {
		t.Fatalf("expected bad credentials after second 401, got %v", err)
	}
	if atomic.LoadInt32(&apiCalls) != 2 {
		t.Fatalf("expected exactly 2 api calls, got %d", apiCalls)
	}
	if atomic.LoadInt32(&tokenCalls) != 1 {
		t.Fatalf("expected exactly 1 token call, got %d", tokenCalls)
	}
}

func TestRequestBadCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(storeWithUser(server.URL))

	_, err := client.Request(context.Background(), "alice", "module/Alerts", nil, http.MethodGet)
	if !IsKind(err, KindBadCredentials) {
		t.Fatalf("expected bad credentials for 403, got %v", err)
	}
}

func TestRequestRefreshFailureIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/Api/access_token" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(storeWithUser(server.URL))

	_, err := client.Request(context.Background(), "alice", "users/me", nil, http.MethodGet)
	if !IsKind(err, KindTransport) {
		t.Fatalf("expected transport error when refresh fails, got %v", err)
	}
}

func TestRequestWithoutRefreshTokenIsAuthExpired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	store := storeWithUser(server.URL)
	store.SetUserValue("alice", database.KeyRefreshToken, "")
	client := newTestClient(store)

	_, err := client.Request(context.Background(), "alice", "users/me", nil, http.MethodGet)
	if !IsKind(err, KindAuthExpired) {
		t.Fatalf("expected auth expired without refresh token, got %v", err)
	}
}

func TestMeWithoutIDIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"no id here"}`))
	}))
	defer server.Close()

	client := newTestClient(storeWithUser(server.URL))

	_, err := client.Me(context.Background(), "alice")
	if !IsKind(err, KindMalformed) {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestEncodeQueryExpandsArrayParams(t *testing.T) {
	got := encodeQuery(map[string]any{
		"fields": []string{"name", "date start"},
		"limit":  20,
	})
	want := "fields[]=name&fields[]=date+start&limit=20"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestEncodeQueryArrayFragmentsComeFirst(t *testing.T) {
	got := encodeQuery(map[string]any{
		"a":    "scalar",
		"zeta": []string{"v"},
	})
	if !strings.HasPrefix(got, "zeta[]=v&") {
		t.Fatalf("expected array fragments ahead of scalars, got %q", got)
	}
}
