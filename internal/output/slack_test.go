package output

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewSlackOutput(t *testing.T) {
	tests := []struct {
		name       string
		webhookURL string
		channel    string
		wantErr    string
	}{
		{"missing env", "", "#c", "SLACK_WEBHOOK_URL"},
		{"non slack url", "https://evil.example.com/hook", "#c", "must start with"},
		{"missing channel", "https://hooks.slack.com/services/x", "", "channel is required"},
		{"valid", "https://hooks.slack.com/services/x", "#c", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SLACK_WEBHOOK_URL", tt.webhookURL)

			output, err := NewSlackOutput(tt.channel)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if output.Name() != "slack" {
				t.Errorf("expected name 'slack', got %q", output.Name())
			}
		})
	}
}

func TestNewSlackOutputWithURL_RejectsOtherHosts(t *testing.T) {
	if _, err := NewSlackOutputWithURL("#c", "http://localhost:1234/hook"); err == nil {
		t.Fatal("expected error for non-slack URL")
	}
}

func TestSlackOutput_Send(t *testing.T) {
	var receivedPayload slackPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&receivedPayload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	output, err := NewSlackOutputForTesting("#test-channel", server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = output.Send(context.Background(), Message{
		Subject: "New contact message",
		Text:    "Hello from the portal!",
		Fields:  []Field{{Name: "Email", Value: "ada@example.com"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if receivedPayload.Channel != "#test-channel" {
		t.Errorf("expected channel '#test-channel', got %q", receivedPayload.Channel)
	}
	if receivedPayload.Text != "*New contact message*\nHello from the portal!" {
		t.Errorf("unexpected text %q", receivedPayload.Text)
	}
	if len(receivedPayload.Attachments) != 1 || len(receivedPayload.Attachments[0].Fields) != 1 {
		t.Fatalf("expected one attachment with one field, got %+v", receivedPayload.Attachments)
	}
	field := receivedPayload.Attachments[0].Fields[0]
	if field.Title != "Email" || field.Value != "ada@example.com" || !field.Short {
		t.Errorf("unexpected field %+v", field)
	}
}

func TestSlackOutput_Send_StatusError(t *testing.T) {
	tests := []struct {
		status    int
		temporary bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusForbidden, false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		output, err := NewSlackOutputForTesting("#test", server.URL)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		err = output.Send(context.Background(), Message{Text: "test"})
		server.Close()

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("status %d: expected *StatusError, got %v", tt.status, err)
		}
		if statusErr.StatusCode != tt.status || statusErr.Temporary() != tt.temporary {
			t.Errorf("status %d: unexpected error %+v", tt.status, statusErr)
		}
	}
}

func TestSlackOutput_Send_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	output, err := NewSlackOutputForTesting("#test", server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := output.Send(ctx, Message{Text: "test"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSlackOutput_Close(t *testing.T) {
	output, err := NewSlackOutputForTesting("#test", "https://hooks.slack.com/test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := output.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
