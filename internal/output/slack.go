package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// slackWebhookURLPrefix is the required prefix for Slack webhook URLs.
// This prevents data exfiltration to non-Slack endpoints.
const slackWebhookURLPrefix = "https://hooks.slack.com/"

func validateSlackWebhookURL(url string) error {
	if !strings.HasPrefix(url, slackWebhookURLPrefix) {
		return fmt.Errorf("invalid Slack webhook URL: must start with %s", slackWebhookURLPrefix)
	}
	return nil
}

// SlackOutput posts notifications to a Slack channel via incoming webhook.
type SlackOutput struct {
	channel    string
	webhookURL string
	client     *http.Client
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Fallback string       `json:"fallback"`
	Fields   []slackField `json:"fields"`
}

// slackPayload represents the Slack webhook request body.
type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

// NewSlackOutput creates a new Slack output.
// The webhook URL is read from the SLACK_WEBHOOK_URL environment variable.
// Channel should be in the format "#channel-name".
func NewSlackOutput(channel string) (*SlackOutput, error) {
	webhookURL := os.Getenv("SLACK_WEBHOOK_URL")
	if webhookURL == "" {
		return nil, fmt.Errorf("SLACK_WEBHOOK_URL environment variable not set")
	}
	return NewSlackOutputWithURL(channel, webhookURL)
}

// NewSlackOutputWithURL creates a Slack output with an explicit webhook URL.
// The URL must start with https://hooks.slack.com/.
func NewSlackOutputWithURL(channel, webhookURL string) (*SlackOutput, error) {
	if err := validateSlackWebhookURL(webhookURL); err != nil {
		return nil, err
	}
	return newSlackOutput(channel, webhookURL)
}

// NewSlackOutputForTesting creates a Slack output without webhook URL
// validation so tests can point it at a mock server.
// Do not use in production code.
func NewSlackOutputForTesting(channel, webhookURL string) (*SlackOutput, error) {
	return newSlackOutput(channel, webhookURL)
}

func newSlackOutput(channel, webhookURL string) (*SlackOutput, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("slack channel is required")
	}
	return &SlackOutput{
		channel:    channel,
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Name returns "slack".
func (s *SlackOutput) Name() string {
	return "slack"
}

// Send posts a message to the Slack channel. Message fields become
// attachment fields. A non-2xx/3xx answer is returned as a *StatusError.
func (s *SlackOutput) Send(ctx context.Context, msg Message) error {
	text := msg.Text
	if msg.Subject != "" {
		text = "*" + msg.Subject + "*\n" + text
	}
	payload := slackPayload{
		Channel: s.channel,
		Text:    text,
	}
	if len(msg.Fields) > 0 {
		att := slackAttachment{Fallback: msg.PlainText()}
		for _, f := range msg.Fields {
			att.Fields = append(att.Fields, slackField{
				Title: f.Name,
				Value: f.Value,
				Short: len(f.Value) < 40,
			})
		}
		payload.Attachments = []slackAttachment{att}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &StatusError{Output: "slack", StatusCode: resp.StatusCode}
	}
	return nil
}

// Close is a no-op for Slack output.
func (s *SlackOutput) Close() error {
	return nil
}

// Channel returns the configured channel name.
func (s *SlackOutput) Channel() string {
	return s.channel
}
