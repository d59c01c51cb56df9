package minimax

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediaforge/internal/domain"
	"mediaforge/internal/providers"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, srv
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestSubmitReturnsTaskID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/video_generation" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["model"] != "video-01" || body["prompt"] != "a red bicycle" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"task_id": "234811234"})
	}))

	taskID, err := client.Submit(context.Background(), "a red bicycle")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if taskID != "234811234" {
		t.Fatalf("task id = %q, want 234811234", taskID)
	}
}

func TestSubmitRejectedByProvider(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"base_resp": map[string]any{"status_code": 1008, "status_msg": "insufficient balance"},
		})
	}))

	_, err := client.Submit(context.Background(), "p")
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("err = %v, want ErrProviderRejected", err)
	}
	if !strings.Contains(err.Error(), "insufficient balance") {
		t.Fatalf("err = %v, want provider status_msg in message", err)
	}
}

func TestSubmitMissingTaskID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))

	if _, err := client.Submit(context.Background(), "p"); !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("err = %v, want ErrProviderRejected", err)
	}
}

func TestPollStatusNormalization(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantState  providers.TaskState
		wantHandle string
		wantReason string
		wantErr    error
	}{
		{
			name:      "queueing is pending",
			body:      `{"status":"Queueing"}`,
			wantState: providers.StatePending,
		},
		{
			name:      "processing is pending",
			body:      `{"status":"processing"}`,
			wantState: providers.StatePending,
		},
		{
			name:       "success with file id",
			body:       `{"status":"Success","file_id":"f-77"}`,
			wantState:  providers.StateDone,
			wantHandle: "f-77",
		},
		{
			name:    "success without file id is malformed",
			body:    `{"status":"success"}`,
			wantErr: providers.ErrMalformedStatus,
		},
		{
			name:       "fail carries status_msg",
			body:       `{"status":"Fail","base_resp":{"status_msg":"prompt rejected"}}`,
			wantState:  providers.StateError,
			wantReason: "prompt rejected",
		},
		{
			name:       "fail without message uses default reason",
			body:       `{"status":"failed"}`,
			wantState:  providers.StateError,
			wantReason: "video generation failed",
		},
		{
			name:    "absent status field is malformed",
			body:    `{"file_id":"f-1"}`,
			wantErr: providers.ErrMalformedStatus,
		},
		{
			name:    "garbled payload is malformed",
			body:    `{"status":`,
			wantErr: providers.ErrMalformedStatus,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/query/video_generation" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("task_id"); got != "t-1" {
					t.Errorf("task_id = %q", got)
				}
				io.WriteString(w, tc.body)
			}))

			status, err := client.PollStatus(context.Background(), "t-1")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("PollStatus: %v", err)
			}
			if status.State != tc.wantState {
				t.Fatalf("state = %v, want %v", status.State, tc.wantState)
			}
			if status.ResultHandle != tc.wantHandle {
				t.Fatalf("handle = %q, want %q", status.ResultHandle, tc.wantHandle)
			}
			if status.Reason != tc.wantReason {
				t.Fatalf("reason = %q, want %q", status.Reason, tc.wantReason)
			}
		})
	}
}

func TestPollStatusServerErrorIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	if _, err := client.PollStatus(context.Background(), "t-1"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("err = %v, want ErrProviderUnavailable", err)
	}
}

func TestFetchResultResolvesDownloadURL(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/files/retrieve", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("file_id"); got != "f-77" {
			t.Errorf("file_id = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"file": map[string]any{"download_url": srv.URL + "/download/f-77"},
		})
	})
	mux.HandleFunc("/download/f-77", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		io.WriteString(w, "mp4-bytes")
	})
	client, server := newTestClient(t, mux)
	srv = server

	body, contentType, err := client.FetchResult(context.Background(), "f-77")
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	defer body.Close()
	if contentType != "video/mp4" {
		t.Fatalf("content type = %q, want video/mp4", contentType)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "mp4-bytes" {
		t.Fatalf("body = %q, want mp4-bytes", data)
	}
}

func TestFetchResultMissingDownloadURL(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"file": map[string]any{}})
	}))

	if _, _, err := client.FetchResult(context.Background(), "f-1"); !errors.Is(err, domain.ErrResultUnavailable) {
		t.Fatalf("err = %v, want ErrResultUnavailable", err)
	}
}
