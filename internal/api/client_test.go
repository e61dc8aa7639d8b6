package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoginStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"status": true, "data": {"token": "tok-1", "user_id": 7}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	sess, err := client.Login(context.Background(), Credentials{Username: "ops", Password: "pw"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if sess.UserID != 7 {
		t.Errorf("Expected user id 7, got %d", sess.UserID)
	}
	if client.Token() != "tok-1" {
		t.Errorf("Expected token stored on client, got %q", client.Token())
	}
}

func TestBearerTokenSent(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"status": true, "data": []}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	client.SetToken("tok-2")
	if _, err := client.Servers(context.Background()); err != nil {
		t.Fatalf("Servers failed: %v", err)
	}
	if gotAuth != "Bearer tok-2" {
		t.Errorf("Expected bearer header, got %q", gotAuth)
	}
}

func TestSubscriptionsUsesServersField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_id"); got != "7" {
			t.Errorf("Expected user_id=7, got %q", got)
		}
		w.Write([]byte(`{"status": true, "servers": [{"id": 1, "user_id": 7, "server_id": 3}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	subs, err := client.Subscriptions(context.Background(), 7)
	if err != nil {
		t.Fatalf("Subscriptions failed: %v", err)
	}
	if len(subs) != 1 || subs[0].ServerID != 3 {
		t.Errorf("Unexpected subscriptions %+v", subs)
	}
}

func TestPerformanceDataQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("server_id") != "3" {
			t.Errorf("Expected server_id=3, got %q", q.Get("server_id"))
		}
		if q.Get("start_time") != "2024-03-01 00:00:00" || q.Get("end_time") != "2024-03-01 23:59:59" {
			t.Errorf("Unexpected window %q..%q", q.Get("start_time"), q.Get("end_time"))
		}
		w.Write([]byte(`{"status": true, "data": [{"server_id": 3, "timestamp": "2024-03-01 12:00:00"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)

	samples, err := client.PerformanceData(context.Background(), 3, start, end)
	if err != nil {
		t.Fatalf("PerformanceData failed: %v", err)
	}
	if len(samples) != 1 || samples[0].ServerID != 3 {
		t.Errorf("Unexpected samples %+v", samples)
	}
}

func TestStatusFalseIsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": false, "message": "unauthorized"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Servers(context.Background())
	if err == nil {
		t.Fatal("Expected error for status=false response")
	}

	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("Expected FetchError, got %T", err)
	}
}

func TestNon2xxIsFetchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Alerts(context.Background(), 1, time.Unix(0, 0), time.Now())
	if err == nil {
		t.Fatal("Expected error for 500 response")
	}

	var ferr *FetchError
	if !errors.As(err, &ferr) {
		t.Fatalf("Expected FetchError, got %T", err)
	}
	if ferr.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", ferr.StatusCode)
	}
}
