package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peakfit/callkit/internal/domain"
)

func TestCreateCall(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing request id header")
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"id":        "call-1",
			"recipient": "bob",
			"mediaKind": "video",
			"status":    "initiated",
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret-token")
	rec, err := c.CreateCall(context.Background(), "bob", domain.MediaVideo)
	if err != nil {
		t.Fatalf("create call: %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotPath != "/api/calls" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["recipient"] != "bob" || gotBody["mediaKind"] != "video" {
		t.Errorf("request body = %v", gotBody)
	}
	if rec.ID != "call-1" || rec.Kind != domain.MediaVideo {
		t.Errorf("record = %+v", rec)
	}
}

func TestCreateCallRejectsMissingID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "t").CreateCall(context.Background(), "bob", domain.MediaAudio)
	if err == nil || !strings.Contains(err.Error(), "missing call id") {
		t.Fatalf("err = %v, want missing call id", err)
	}
}

func TestCallVerbs(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "t")
	ctx := context.Background()
	if err := c.AcceptCall(ctx, "call-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := c.RejectCall(ctx, "call-2"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := c.EndCall(ctx, "call-3"); err != nil {
		t.Fatalf("end: %v", err)
	}

	want := []string{
		"POST /api/calls/call-1/accept",
		"POST /api/calls/call-2/reject",
		"POST /api/calls/call-3/end",
	}
	for i, w := range want {
		if paths[i] != w {
			t.Errorf("request %d = %q, want %q", i, paths[i], w)
		}
	}
}

func TestUnreadNotifications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/notifications" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("unread") != "true" || q.Get("limit") != "20" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{"data":[{"id":"n1","type":"incoming_call","callId":"call-1","from":"bob","mediaKind":"audio"}]}`))
	}))
	defer srv.Close()

	notifs, err := NewClient(srv.URL, "t").UnreadNotifications(context.Background())
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if len(notifs) != 1 {
		t.Fatalf("got %d notifications", len(notifs))
	}
	n := notifs[0]
	if n.Type != domain.NotificationIncomingCall || n.CallID != "call-1" || n.Kind != domain.MediaAudio {
		t.Fatalf("notification = %+v", n)
	}
}

func TestErrorStatusSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "call not found", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "t").EndCall(context.Background(), "nope")
	if err == nil || !strings.Contains(err.Error(), "http 404") {
		t.Fatalf("err = %v, want http 404", err)
	}
}
