package replicate

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

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		APIToken:   "test-token",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresAPIToken(t *testing.T) {
	if _, err := NewClient(Options{}); !errors.Is(err, ErrMissingAPIToken) {
		t.Fatalf("err = %v, want ErrMissingAPIToken", err)
	}
}

func TestSubmitCreatesPrediction(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if want := "/models/black-forest-labs/flux-schnell/predictions"; r.URL.Path != want {
			t.Errorf("path = %s, want %s", r.URL.Path, want)
		}
		var body struct {
			Input map[string]any `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Input["prompt"] != "a red bicycle" {
			t.Errorf("prompt = %v", body.Input["prompt"])
		}
		if body.Input["num_inference_steps"] != float64(50) {
			t.Errorf("num_inference_steps = %v", body.Input["num_inference_steps"])
		}
		if body.Input["scheduler"] != "DPMSolverMultistep" {
			t.Errorf("scheduler = %v", body.Input["scheduler"])
		}
		json.NewEncoder(w).Encode(map[string]any{"id": "pred-1", "status": "starting"})
	}))

	id, err := client.Submit(context.Background(), "a red bicycle")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "pred-1" {
		t.Fatalf("prediction id = %q, want pred-1", id)
	}
}

func TestSubmitRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"detail": "invalid model version"})
	}))

	_, err := client.Submit(context.Background(), "p")
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("err = %v, want ErrProviderRejected", err)
	}
	if !strings.Contains(err.Error(), "invalid model version") {
		t.Fatalf("err = %v, want detail in message", err)
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
			name:      "starting is pending",
			body:      `{"status":"starting"}`,
			wantState: providers.StatePending,
		},
		{
			name:       "succeeded with array output",
			body:       `{"status":"succeeded","output":["https://cdn/x.png","https://cdn/y.png"]}`,
			wantState:  providers.StateDone,
			wantHandle: "https://cdn/x.png",
		},
		{
			name:       "succeeded with string output",
			body:       `{"status":"succeeded","output":"https://cdn/x.png"}`,
			wantState:  providers.StateDone,
			wantHandle: "https://cdn/x.png",
		},
		{
			name:    "succeeded without output is malformed",
			body:    `{"status":"succeeded"}`,
			wantErr: providers.ErrMalformedStatus,
		},
		{
			name:       "failed carries error",
			body:       `{"status":"failed","error":"NSFW content detected"}`,
			wantState:  providers.StateError,
			wantReason: "NSFW content detected",
		},
		{
			name:       "canceled without error uses default reason",
			body:       `{"status":"canceled"}`,
			wantState:  providers.StateError,
			wantReason: "prediction canceled",
		},
		{
			name:    "absent status is malformed",
			body:    `{"id":"pred-1"}`,
			wantErr: providers.ErrMalformedStatus,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if want := "/predictions/pred-1"; r.URL.Path != want {
					t.Errorf("path = %s, want %s", r.URL.Path, want)
				}
				io.WriteString(w, tc.body)
			}))

			status, err := client.PollStatus(context.Background(), "pred-1")
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

func TestFetchResultStreamsOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		io.WriteString(w, "image-bytes")
	}))
	defer srv.Close()

	client, err := NewClient(Options{APIToken: "t", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	body, contentType, err := client.FetchResult(context.Background(), srv.URL+"/out.webp")
	if err != nil {
		t.Fatalf("FetchResult: %v", err)
	}
	defer body.Close()
	if contentType != "image/webp" {
		t.Fatalf("content type = %q, want image/webp", contentType)
	}
	data, _ := io.ReadAll(body)
	if string(data) != "image-bytes" {
		t.Fatalf("body = %q", data)
	}
}

func TestFetchResultRejectsInvalidHandle(t *testing.T) {
	client, err := NewClient(Options{APIToken: "t"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, _, err := client.FetchResult(context.Background(), "not a url"); !errors.Is(err, domain.ErrResultUnavailable) {
		t.Fatalf("err = %v, want ErrResultUnavailable", err)
	}
}
