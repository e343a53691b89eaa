package notify

import (
	"context"
	"fmt"
	"strings"

	slackapi "github.com/slack-go/slack"
)

// postWebhookFunc matches slack.PostWebhookContext.
type postWebhookFunc func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Slack posts summaries to a Slack incoming webhook.
type Slack struct {
	url  string
	post postWebhookFunc
}

// NewSlack creates a Slack notifier for an incoming webhook URL.
func NewSlack(webhookURL string) (*Slack, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, fmt.Errorf("notify: slack webhook url is required")
	}
	return &Slack{url: webhookURL, post: slackapi.PostWebhookContext}, nil
}

// Notify posts s as one attachment.
func (n *Slack) Notify(ctx context.Context, s Summary) error {
	if err := n.post(ctx, n.url, buildWebhookMessage(s)); err != nil {
		return fmt.Errorf("notify: slack: %w", err)
	}
	return nil
}

func buildWebhookMessage(s Summary) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Color: s.Color(),
		Title: s.Title(),
		Text:  s.Body(),
	}
	for i, e := range s.Evaluated {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: fieldName(i, e),
			Value: answerLine(e),
		})
	}
	return &slackapi.WebhookMessage{
		Text:        s.Title(),
		Attachments: []slackapi.Attachment{att},
	}
}
