package slack

import (
	"context"
	"testing"

	goslack "github.com/slack-go/slack"

	"github.com/haasonsaas/nexus/pkg/models"
)

type fakePoster struct {
	channelID string
	options   []goslack.MsgOption
	err       error
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, options ...goslack.MsgOption) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	f.channelID = channelID
	f.options = options
	return channelID, "1234.5678", nil
}

func TestConnector_MatchesSlackPrefix(t *testing.T) {
	c := newWithClient(&fakePoster{})
	if !c.Matches("slack:C12345") {
		t.Fatal("expected a match on the slack: prefix")
	}
	if c.Matches("discord:C12345") || c.Matches("heartbeat") {
		t.Fatal("expected no match on other channels")
	}
}

func TestConnector_SendPostsToChannel(t *testing.T) {
	poster := &fakePoster{}
	c := newWithClient(poster)

	if err := c.Send(context.Background(), "slack:C12345", "hello"); err != nil {
		t.Fatal(err)
	}
	if poster.channelID != "C12345" || len(poster.options) != 1 {
		t.Fatalf("unexpected post: channel=%q options=%d", poster.channelID, len(poster.options))
	}
}

func TestConnector_SendRejectsChannelWithoutID(t *testing.T) {
	c := newWithClient(&fakePoster{})
	if err := c.Send(context.Background(), "slack:", "hello"); err == nil {
		t.Fatal("expected an error for a channel with no id")
	}
}

func TestConnector_SendRichBuildsBlocks(t *testing.T) {
	poster := &fakePoster{}
	c := newWithClient(poster)

	err := c.SendRich(context.Background(), "slack:C12345", models.RichMessage{
		Title:     "Cron run",
		PlainText: "the job finished",
		Fields:    map[string]any{"status": "ok"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if poster.channelID != "C12345" || len(poster.options) != 1 {
		t.Fatalf("unexpected rich post: channel=%q options=%d", poster.channelID, len(poster.options))
	}
}

func TestConnector_SendRichFallsBackToTextWhenEmpty(t *testing.T) {
	poster := &fakePoster{}
	c := newWithClient(poster)

	if err := c.SendRich(context.Background(), "slack:C12345", models.RichMessage{}); err != nil {
		t.Fatal(err)
	}
	if poster.channelID != "C12345" {
		t.Fatalf("expected the empty-rich-message fallback to still post, got %#v", poster)
	}
}
