package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"giftwatch/internal/store"
	logx "giftwatch/pkg/logx"
)

type fakeRecords struct {
	gifts    []store.GiftRecord
	queue    []store.QueuedMessage
	lastSent time.Time
	lastQ    store.GiftQuery

	giftsErr error
}

func (f *fakeRecords) Gifts(ctx context.Context, roomID int64, q store.GiftQuery) ([]store.GiftRecord, error) {
	f.lastQ = q
	if f.giftsErr != nil {
		return nil, f.giftsErr
	}
	return f.gifts, nil
}

func (f *fakeRecords) GiftByID(ctx context.Context, id int64) (store.GiftRecord, bool, error) {
	for _, g := range f.gifts {
		if g.ID == id {
			return g, true, nil
		}
	}
	return store.GiftRecord{}, false, nil
}

func (f *fakeRecords) DeleteGift(ctx context.Context, id int64) (bool, error) {
	for i, g := range f.gifts {
		if g.ID == id {
			f.gifts = append(f.gifts[:i], f.gifts[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRecords) QueueMessages(ctx context.Context, roomID int64, limit int) ([]store.QueuedMessage, error) {
	return f.queue, nil
}

func (f *fakeRecords) LastSentAt(ctx context.Context, roomID int64) (time.Time, error) {
	return f.lastSent, nil
}

type fakeSink struct {
	events []map[string]any
	err    error
}

func (f *fakeSink) HandleEvent(ctx context.Context, raw map[string]any) error {
	f.events = append(f.events, raw)
	return f.err
}

func newTestServer(rec *fakeRecords, sink Sink) *Server {
	return New(Config{Enabled: true, RoomID: 42}, rec, sink, logx.Nop())
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	return w
}

func TestListGifts(t *testing.T) {
	t.Parallel()

	rec := &fakeRecords{gifts: []store.GiftRecord{
		{ID: 2, ActorName: "alice", ItemName: "flower", Quantity: 3},
		{ID: 1, ActorName: "bob", ItemName: "rocket", Quantity: 1},
	}}
	s := newTestServer(rec, nil)

	w := do(t, s, http.MethodGet, "/api/gifts?uname=alice&from=100&to=200&limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Gifts []store.GiftRecord `json:"gifts"`
		Count int                `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	want := store.GiftQuery{ActorName: "alice", StartTS: 100, EndTS: 200, Limit: 5}
	if rec.lastQ != want {
		t.Fatalf("query = %+v, want %+v", rec.lastQ, want)
	}
}

func TestListGiftsBadRange(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRecords{}, nil)
	w := do(t, s, http.MethodGet, "/api/gifts?from=yesterday", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListGiftsStoreError(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRecords{giftsErr: errors.New("boom")}, nil)
	w := do(t, s, http.MethodGet, "/api/gifts", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "boom") {
		t.Fatal("internal error leaked to client")
	}
}

func TestGetAndDeleteGift(t *testing.T) {
	t.Parallel()

	rec := &fakeRecords{gifts: []store.GiftRecord{{ID: 7, ActorName: "alice"}}}
	s := newTestServer(rec, nil)

	if w := do(t, s, http.MethodGet, "/api/gifts/7", ""); w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/gifts/8", ""); w.Code != http.StatusNotFound {
		t.Fatalf("get missing status = %d, want 404", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/gifts/abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("get bad id status = %d, want 400", w.Code)
	}

	if w := do(t, s, http.MethodDelete, "/api/gifts/7", ""); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	// second delete finds nothing
	if w := do(t, s, http.MethodDelete, "/api/gifts/7", ""); w.Code != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want 404", w.Code)
	}
}

func TestQueueState(t *testing.T) {
	t.Parallel()

	sent := time.UnixMilli(1_700_000_000_000)
	rec := &fakeRecords{
		queue:    []store.QueuedMessage{{ID: 1, Body: "hi", Status: "pending"}},
		lastSent: sent,
	}
	s := newTestServer(rec, nil)

	w := do(t, s, http.MethodGet, "/api/queue", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count      int   `json:"count"`
		LastSentAt int64 `json:"last_sent_at"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.LastSentAt != sent.UnixMilli() {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestIngestEvent(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	s := newTestServer(&fakeRecords{}, sink)

	w := do(t, s, http.MethodPost, "/api/events", `{"cmd":"SEND_GIFT","data":{"uid":1}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if len(sink.events) != 1 || sink.events[0]["cmd"] != "SEND_GIFT" {
		t.Fatalf("sink got %v", sink.events)
	}

	if w := do(t, s, http.MethodPost, "/api/events", `{`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want 400", w.Code)
	}
}

func TestIngestEventWithoutSink(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeRecords{}, nil)
	w := do(t, s, http.MethodPost, "/api/events", `{"cmd":"SEND_GIFT"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestApplyLifecycle(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0", RoomID: 1}, &fakeRecords{}, nil, logx.Nop())
	s.Start()
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not start")
	}
	// disable tears the listener down
	s.Apply(context.Background(), Config{Enabled: false, Addr: "127.0.0.1:0", RoomID: 1})
	if s.Addr() != "" {
		t.Fatal("server still listening after disable")
	}
	// re-enable brings it back
	s.Apply(context.Background(), Config{Enabled: true, Addr: "127.0.0.1:0", RoomID: 1})
	if s.Addr() == "" {
		t.Fatal("server did not restart")
	}
	s.Stop(context.Background())
}
