// Package slack provides a Slack channel for the assistant using Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// SlashCommand is the command the bot answers to.
const SlashCommand = "/scanmed"

// MessageHandler is called when the bot receives a message to process.
type MessageHandler func(ctx context.Context, msg *IncomingMessage) (*OutgoingMessage, error)

// IncomingMessage represents a message received by the bot.
type IncomingMessage struct {
	// Text is the message content (with bot mention stripped)
	Text string
	// UserID is the Slack user ID of the sender
	UserID string
	// ChannelID is the channel where the message was sent
	ChannelID string
	// ThreadTS is the thread timestamp (for threading replies)
	ThreadTS string
	// IsDM indicates if this is a direct message
	IsDM bool
	// IsCommand is set for slash command invocations
	IsCommand bool
}

// OutgoingMessage represents a message to send.
type OutgoingMessage struct {
	// Text is the message content
	Text string
	// ThreadTS is the thread timestamp to reply in
	ThreadTS string
	// Blocks are optional Slack blocks for rich formatting
	Blocks []slack.Block
}

// Config holds the Slack credentials.
type Config struct {
	BotToken string
	AppToken string
	Debug    bool
}

// Bot manages the Slack connection and event handling.
type Bot struct {
	client       *slack.Client
	socketClient *socketmode.Client
	handler      MessageHandler
	botUserID    string
	logger       *slog.Logger
}

// NewBot creates a new Slack bot instance.
func NewBot(cfg Config, handler MessageHandler, logger *slog.Logger) (*Bot, error) {
	client := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(cfg.Debug),
	)

	// Get bot user ID for mention detection
	authTest, err := client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with Slack: %w", err)
	}

	return &Bot{
		client:       client,
		socketClient: socketClient,
		handler:      handler,
		botUserID:    authTest.UserID,
		logger:       logger,
	}, nil
}

// Run starts the bot and blocks until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	go b.handleEvents(ctx)

	b.logger.Info("starting Slack bot", "bot_user_id", b.botUserID)
	return b.socketClient.RunContext(ctx)
}

// handleEvents processes incoming Socket Mode events.
func (b *Bot) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.socketClient.Events:
			b.handleEvent(ctx, evt)
		}
	}
}

// handleEvent routes a single event to the appropriate handler.
func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		b.handleEventsAPI(ctx, evt)
	case socketmode.EventTypeSlashCommand:
		b.handleSlashCommand(ctx, evt)
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to Slack...")
	case socketmode.EventTypeConnected:
		b.logger.Info("connected to Slack")
	case socketmode.EventTypeConnectionError:
		b.logger.Error("connection error", "error", evt.Data)
	}
}

// handleEventsAPI processes Events API events (mentions, DMs).
func (b *Bot) handleEventsAPI(ctx context.Context, evt socketmode.Event) {
	eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	b.socketClient.Ack(*evt.Request)

	if eventsAPIEvent.Type == slackevents.CallbackEvent {
		if msg := b.toIncoming(eventsAPIEvent); msg != nil {
			go b.processMessage(ctx, msg)
		}
	}
}

// toIncoming converts mentions and direct messages; anything else is nil.
func (b *Bot) toIncoming(evt slackevents.EventsAPIEvent) *IncomingMessage {
	var msg *IncomingMessage
	switch inner := evt.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		msg = &IncomingMessage{
			Text:      b.stripBotMention(inner.Text),
			UserID:    inner.User,
			ChannelID: inner.Channel,
			ThreadTS:  inner.ThreadTimeStamp,
		}
		if msg.ThreadTS == "" {
			msg.ThreadTS = inner.TimeStamp
		}
	case *slackevents.MessageEvent:
		// Ignore bot messages, edits, and anything outside DMs
		if inner.BotID != "" || inner.SubType != "" || inner.ChannelType != "im" {
			return nil
		}
		msg = &IncomingMessage{
			Text:      inner.Text,
			UserID:    inner.User,
			ChannelID: inner.Channel,
			ThreadTS:  inner.ThreadTimeStamp,
			IsDM:      true,
		}
		if msg.ThreadTS == "" {
			msg.ThreadTS = inner.TimeStamp
		}
	}
	return msg
}

// handleSlashCommand processes /scanmed commands.
func (b *Bot) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		return
	}

	b.socketClient.Ack(*evt.Request)

	if cmd.Command != SlashCommand {
		return
	}

	go b.processMessage(ctx, &IncomingMessage{
		Text:      cmd.Text,
		UserID:    cmd.UserID,
		ChannelID: cmd.ChannelID,
		IsCommand: true,
	})
}

// processMessage sends a message to the handler and posts the response.
func (b *Bot) processMessage(ctx context.Context, msg *IncomingMessage) {
	b.logger.Debug("processing message",
		"user", msg.UserID,
		"channel", msg.ChannelID,
	)

	response, err := b.handler(ctx, msg)
	if err != nil {
		b.logger.Error("handler error", "error", err)
		response = &OutgoingMessage{
			Text:     FormatError("Something went wrong while saving this conversation. Please try again."),
			ThreadTS: msg.ThreadTS,
		}
	}

	if err := b.sendMessage(msg.ChannelID, response); err != nil {
		b.logger.Error("failed to send message", "error", err)
	}
}

// sendMessage posts a message to a channel.
func (b *Bot) sendMessage(channelID string, msg *OutgoingMessage) error {
	options := []slack.MsgOption{
		slack.MsgOptionText(msg.Text, false),
	}

	if msg.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(msg.ThreadTS))
	}

	if len(msg.Blocks) > 0 {
		options = append(options, slack.MsgOptionBlocks(msg.Blocks...))
	}

	_, _, err := b.client.PostMessage(channelID, options...)
	return err
}

// stripBotMention removes the bot mention from message text.
func (b *Bot) stripBotMention(text string) string {
	mention := fmt.Sprintf("<@%s>", b.botUserID)
	text = strings.Replace(text, mention, "", 1)
	return strings.TrimSpace(text)
}
