package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Slack posts run outcomes to an incoming-webhook URL. Disabled instances
// are no-ops so callers never branch.
type Slack struct {
	enabled bool
	webhook string
}

func NewSlack(enabled bool, webhook string) *Slack { return &Slack{enabled, webhook} }

func (s *Slack) Send(text string) error {
	if !s.enabled || s.webhook == "" {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Post(s.webhook, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// FormatRun renders a completed-run notification.
func FormatRun(runID uint64, trigger string, anomalies, clusters int, duration time.Duration) string {
	return fmt.Sprintf(":mag: *Analytics run %d* (%s): %d anomalies, %d clusters in %s",
		runID, trigger, anomalies, clusters, duration.Round(time.Millisecond))
}
