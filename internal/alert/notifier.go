package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"marketflow/pkg/models"
)

// Notifier is told about failed data quality checks. Implementations must be
// safe to call with a cancelled context; callers only log returned errors.
type Notifier interface {
	CheckFailed(ctx context.Context, runID string, result models.CheckResult) error
}

// Nop discards every notification
type Nop struct{}

func (Nop) CheckFailed(context.Context, string, models.CheckResult) error { return nil }

// SlackNotifier posts to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier returns Nop when webhookURL is empty
func NewSlackNotifier(webhookURL, channel string) Notifier {
	if webhookURL == "" {
		return Nop{}
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackNotifier) CheckFailed(ctx context.Context, runID string, result models.CheckResult) error {
	msg := buildMessage(runID, result)
	msg.Channel = s.channel

	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, msg); err != nil {
		return fmt.Errorf("failed to post slack alert: %w", err)
	}
	return nil
}

func buildMessage(runID string, result models.CheckResult) *slack.WebhookMessage {
	summary := fmt.Sprintf(":warning: Data quality check *%s* on `%s` %s (value %d)",
		result.CheckName, result.Table, result.Status, result.Value)

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, "*Run*\n"+runID, false, false),
		slack.NewTextBlockObject(slack.MarkdownType, "*Message*\n"+result.Message, false, false),
	}

	return &slack.WebhookMessage{
		Text: summary,
		Blocks: &slack.Blocks{BlockSet: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, summary, false, false), nil, nil),
			slack.NewSectionBlock(nil, fields, nil),
		}},
	}
}
