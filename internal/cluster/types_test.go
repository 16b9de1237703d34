package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/dtable/internal/api"
)

// TestPostJSON covers request encoding, reply decoding and error replies
func TestPostJSON(t *testing.T) {
	open := api.OpenRequest{Partitions: 4}

	cases := []struct {
		name    string
		status  int
		reply   string
		body    any
		decode  bool
		wantErr bool
		wantMsg string
		slow    bool
	}{
		{
			name:   "count reply decoded",
			status: http.StatusOK,
			reply:  `{"status":"success","count":3}`,
			body:   open,
			decode: true,
		},
		{
			name:   "no content",
			status: http.StatusNoContent,
			body:   open,
		},
		{
			name:    "conflict carries server text",
			status:  http.StatusConflict,
			reply:   `{"status":"error","error":"open app/users: table already exists"}`,
			body:    open,
			wantErr: true,
			wantMsg: "open app/users: table already exists",
		},
		{
			name:    "error status with empty body",
			status:  http.StatusBadGateway,
			body:    open,
			wantErr: true,
		},
		{
			name:    "deadline exceeded",
			status:  http.StatusOK,
			reply:   `{"status":"OK"}`,
			body:    open,
			wantErr: true,
			slow:    true,
		},
		{
			name:    "body cannot be encoded",
			status:  http.StatusOK,
			body:    func() {},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected application/json, got %q", ct)
				}
				var got api.OpenRequest
				if err := json.NewDecoder(r.Body).Decode(&got); err != nil || got != open {
					t.Errorf("Request body decoded to %+v (err %v)", got, err)
				}
				if tc.slow {
					time.Sleep(100 * time.Millisecond)
				}
				w.WriteHeader(tc.status)
				if tc.reply != "" {
					_, _ = w.Write([]byte(tc.reply))
				}
			}))
			defer srv.Close()

			ctx := context.Background()
			if tc.slow {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Millisecond)
				defer cancel()
			}

			var resp api.Response
			var out any
			if tc.decode {
				out = &resp
			}
			err := PostJSON(ctx, srv.URL+"/tables/app/users", tc.body, out)

			switch {
			case tc.wantErr && err == nil:
				t.Fatal("Expected an error")
			case !tc.wantErr && err != nil:
				t.Fatalf("Unexpected error: %v", err)
			}
			if tc.wantMsg != "" {
				var se *StatusError
				if !errors.As(err, &se) {
					t.Fatalf("Expected *StatusError, got %T", err)
				}
				if se.Code != tc.status || se.Message != tc.wantMsg {
					t.Errorf("Got code %d message %q", se.Code, se.Message)
				}
			}
			if tc.decode && (resp.Status != api.StatusSuccess || resp.Count != 3) {
				t.Errorf("Unexpected decoded reply %+v", resp)
			}
		})
	}
}

func TestPostJSONInvalidURL(t *testing.T) {
	if err := PostJSON(context.Background(), "://no-scheme", api.CleanupRequest{Pattern: "*"}, nil); err == nil {
		t.Error("Expected error for invalid URL")
	}
}

// TestGetJSON decodes table listings and rejects error replies
func TestGetJSON(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		reply   string
		wantErr bool
		wantLen int
	}{
		{name: "listing", status: http.StatusOK, reply: `{"status":"success","tables":[{"namespace":"app","name":"a","partitions":2}]}`, wantLen: 1},
		{name: "missing key", status: http.StatusNotFound, reply: `{"status":"error","error":"Key not found"}`, wantErr: true},
		{name: "garbled reply", status: http.StatusOK, reply: `{"tables":`, wantErr: true},
		{name: "multiple choices", status: http.StatusMultipleChoices, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("Expected GET, got %s", r.Method)
				}
				w.WriteHeader(tc.status)
				if tc.reply != "" {
					_, _ = w.Write([]byte(tc.reply))
				}
			}))
			defer srv.Close()

			var resp api.Response
			err := GetJSON(context.Background(), srv.URL+"/tables/?namespace=app", &resp)
			if tc.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(resp.Tables) != tc.wantLen {
				t.Errorf("Expected %d tables, got %+v", tc.wantLen, resp.Tables)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	plain := &StatusError{URL: "http://n1/tables/app/t", Code: 500}
	if got := plain.Error(); got != "http http://n1/tables/app/t: 500" {
		t.Errorf("Unexpected error text %q", got)
	}
	withMsg := &StatusError{URL: "http://n1/tables/app/t/keys/k", Code: 404, Message: "Key not found"}
	if got := withMsg.Error(); got != "http http://n1/tables/app/t/keys/k: 404: Key not found" {
		t.Errorf("Unexpected error text %q", got)
	}
}

func TestHTTPClient(t *testing.T) {
	if httpClient.Timeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", httpClient.Timeout)
	}
}
