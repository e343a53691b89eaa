package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// webhookExecutor abstracts the discordgo.Session method we use.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts summaries to a Discord webhook.
type Discord struct {
	id    string
	token string
	sess  webhookExecutor
}

// NewDiscord creates a Discord notifier from a webhook URL of the form
// https://discord.com/api/webhooks/{id}/{token}.
func NewDiscord(webhookURL string) (*Discord, error) {
	id, token, err := parseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	// Webhook execution needs no bot token.
	dg, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("notify: discord: %w", err)
	}
	return &Discord{id: id, token: token, sess: dg}, nil
}

func parseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("notify: discord webhook url %q is invalid", raw)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("notify: discord webhook url %q has no webhook id and token", raw)
}

// Notify posts s as one embed. ctx bounds the request.
func (n *Discord) Notify(ctx context.Context, s Summary) error {
	if _, err := n.sess.WebhookExecute(n.id, n.token, false, buildWebhookParams(s), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord: %w", err)
	}
	return nil
}

func buildWebhookParams(s Summary) *discordgo.WebhookParams {
	embed := &discordgo.MessageEmbed{
		Title:       s.Title(),
		Description: s.Body(),
		Color:       parseHexColor(s.Color()),
	}
	for i, e := range s.Evaluated {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fieldName(i, e),
			Value: answerLine(e),
		})
	}
	return &discordgo.WebhookParams{
		Username: "interviewdesk",
		Embeds:   []*discordgo.MessageEmbed{embed},
	}
}

// parseHexColor converts "#36a64f" to an int.
func parseHexColor(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}
