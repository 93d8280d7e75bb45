package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Slack posts notifications to a Slack incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates a Slack notifier. Returns nil when no webhook URL
// is configured so callers can skip wiring it.
func NewSlack(webhookURL string) *Slack {
	if webhookURL == "" {
		return nil
	}
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: sendTimeout},
	}
}

func (s *Slack) Name() string { return "slack" }

var slackEmoji = map[string]string{
	SeverityCritical: ":red_circle:",
	SeverityWarning:  ":warning:",
	SeverityInfo:     ":information_source:",
	SeveritySuccess:  ":white_check_mark:",
}

type slackPayload struct {
	Text      string `json:"text"`
	Username  string `json:"username"`
	IconEmoji string `json:"icon_emoji"`
}

func (s *Slack) Send(ctx context.Context, ev Event) error {
	emoji, ok := slackEmoji[ev.Severity]
	if !ok {
		emoji = ":bell:"
	}

	text := fmt.Sprintf("%s *%s* - %s", emoji, ev.Severity, ev.Message)
	if len(ev.Metadata) > 0 {
		if encoded, err := json.Marshal(ev.Metadata); err == nil {
			text += "\n```" + string(encoded) + "```"
		}
	}

	body, err := json.Marshal(slackPayload{
		Text:      text,
		Username:  "Auto-Remediation Bot",
		IconEmoji: ":robot_face:",
	})
	if err != nil {
		return fmt.Errorf("encoding slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
