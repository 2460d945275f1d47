package discord

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeSession struct {
	sentChannel string
	sentText    string
	sentComplex *discordgo.MessageSend
	err         error
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sentChannel = channelID
	f.sentText = content
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sentChannel = channelID
	f.sentComplex = data
	return &discordgo.Message{}, nil
}

func TestConnector_MatchesDiscordPrefix(t *testing.T) {
	c := newWithSession(&fakeSession{})
	if !c.Matches("discord:123456") {
		t.Fatal("expected a match on the discord: prefix")
	}
	if c.Matches("telegram:123") || c.Matches("heartbeat") {
		t.Fatal("expected no match on other channels")
	}
}

func TestConnector_SendUsesChannelMessageSend(t *testing.T) {
	sess := &fakeSession{}
	c := newWithSession(sess)

	if err := c.Send(context.Background(), "discord:123456", "hello"); err != nil {
		t.Fatal(err)
	}
	if sess.sentChannel != "123456" || sess.sentText != "hello" {
		t.Fatalf("unexpected send: channel=%q text=%q", sess.sentChannel, sess.sentText)
	}
}

func TestConnector_SendRejectsChannelWithoutID(t *testing.T) {
	c := newWithSession(&fakeSession{})
	if err := c.Send(context.Background(), "discord:", "hello"); err == nil {
		t.Fatal("expected an error for a channel with no id")
	}
}

func TestConnector_SendRichBuildsEmbed(t *testing.T) {
	sess := &fakeSession{}
	c := newWithSession(sess)

	err := c.SendRich(context.Background(), "discord:123456", models.RichMessage{
		Title:     "Cron run",
		PlainText: "the job finished",
		Fields:    map[string]any{"status": "ok"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if sess.sentComplex == nil || len(sess.sentComplex.Embeds) != 1 {
		t.Fatal("expected one embed to be sent")
	}
	embed := sess.sentComplex.Embeds[0]
	if embed.Title != "Cron run" || embed.Description != "the job finished" {
		t.Fatalf("unexpected embed: %#v", embed)
	}
	if len(embed.Fields) != 1 || embed.Fields[0].Name != "status" {
		t.Fatalf("expected one rendered field, got %#v", embed.Fields)
	}
}
