package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Slack struct {
	enabled bool
	webhook string
	client  *http.Client
}

func NewSlack(enabled bool, webhook string) *Slack {
	return &Slack{enabled: enabled, webhook: webhook, client: &http.Client{Timeout: 10 * time.Second}}
}

// Enabled reports whether Send posts anything.
func (s *Slack) Enabled() bool { return s != nil && s.enabled && s.webhook != "" }

func (s *Slack) Send(ctx context.Context, text string) error {
	if !s.Enabled() {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack webhook: status %d", resp.StatusCode)
	}
	return nil
}

// FormatPattern renders the message sent when a novel pattern reaches the
// retrain trigger.
func FormatPattern(signature string, count int, version, example string) string {
	return fmt.Sprintf(":mag: *Padrao novo recorrente* `%s` count=%d model=%s\n```%s```", signature, count, version, example)
}

// FormatRetrain renders the message sent after a retrain trigger.
func FormatRetrain(signatures []string, version string) string {
	return fmt.Sprintf(":repeat: *Retreino* %d padroes, novo modelo %s", len(signatures), version)
}
