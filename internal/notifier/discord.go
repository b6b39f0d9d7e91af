package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mirrorfetch/mirrorfetch/internal/mirror"
)

type Notifier interface {
	Notify(content string) error
}

// Nop discards every notification. Used when no webhook is configured.
type Nop struct{}

func (Nop) Notify(string) error { return nil }

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Notify(content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Post(d.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// SyncFinishedMessage renders a sync report into a human-readable message.
func SyncFinishedMessage(report *mirror.SyncReport) string {
	return fmt.Sprintf(
		"✅ Mirror sync finished in %s: %d downloaded, %d skipped, %d failed (of %d files)",
		report.Duration.Round(time.Millisecond),
		report.Downloaded, report.Skipped, report.Failed, report.Total,
	)
}

// FileFailedMessage renders a per-file download failure message.
func FileFailedMessage(file *mirror.File) string {
	return fmt.Sprintf("⚠️ Failed to mirror file %s", file.Path)
}
