package slack

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
	"github.com/molarewaju77/ScanMed-sub001/internal/chat"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

type echoAdapter struct {
	err       error
	languages []string
}

func (a *echoAdapter) Name() string { return "echo" }

func (a *echoAdapter) Generate(_ context.Context, history []storage.Message, newMessage, lang string) (string, error) {
	a.languages = append(a.languages, lang)
	if a.err != nil {
		return "", a.err
	}
	return "**You said:** " + newMessage, nil
}

func newTestHandler(adapter *echoAdapter) (*Handler, *storage.MemoryStore) {
	return newTestHandlerWithRetention(adapter, 0)
}

func newTestHandlerWithRetention(adapter *echoAdapter, retention time.Duration) (*Handler, *storage.MemoryStore) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	return NewHandler(chat.New(adapter, store, logger), "en", retention, logger), store
}

func dm(text, thread string) *IncomingMessage {
	return &IncomingMessage{Text: text, UserID: "U1", ChannelID: "D1", ThreadTS: thread, IsDM: true}
}

func command(text string) *IncomingMessage {
	return &IncomingMessage{Text: text, UserID: "U1", ChannelID: "C1", IsCommand: true}
}

func TestHandleMessage_ThreadIsConversation(t *testing.T) {
	h, store := newTestHandler(&echoAdapter{})
	ctx := context.Background()

	out, err := h.HandleMessage(ctx, dm("hello", "100.1"))
	require.NoError(t, err)
	assert.Equal(t, "*You said:* hello", out.Text)
	assert.Equal(t, "100.1", out.ThreadTS)

	_, err = h.HandleMessage(ctx, dm("again", "100.1"))
	require.NoError(t, err)
	_, err = h.HandleMessage(ctx, dm("new thread", "200.1"))
	require.NoError(t, err)

	convs, err := store.ListByOwner(ctx, "U1", false)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.ElementsMatch(t, []int{4, 2}, []int{len(convs[0].Messages), len(convs[1].Messages)})
}

func TestHandleMessage_Degraded(t *testing.T) {
	h, store := newTestHandler(&echoAdapter{err: apperrors.NewProviderError("echo", 500, "down", nil)})

	out, err := h.HandleMessage(context.Background(), dm("hello", "100.1"))
	require.NoError(t, err)
	assert.Equal(t, FormatWarning(chat.FallbackReply), out.Text)
	assert.Equal(t, 0, store.Len())
}

func TestHandleMessage_DeletedThread(t *testing.T) {
	h, _ := newTestHandler(&echoAdapter{})
	ctx := context.Background()

	_, err := h.HandleMessage(ctx, dm("hello", "100.1"))
	require.NoError(t, err)
	id := h.threads["D1:100.1"]
	require.NotEmpty(t, id)

	out, err := h.HandleMessage(ctx, command("delete "+id))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "trash")

	out, err = h.HandleMessage(ctx, dm("still there?", "100.1"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "/scanmed restore "+id)

	out, err = h.HandleMessage(ctx, command("restore "+id))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "Restored *hello*")

	out, err = h.HandleMessage(ctx, dm("still there?", "100.1"))
	require.NoError(t, err)
	assert.Equal(t, "*You said:* still there?", out.Text)
}

func TestHandleCommand_DeleteReportsRetention(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name      string
		retention time.Duration
		want      string
	}{
		{"default", 0, "for 30 days"},
		{"configured", 7 * 24 * time.Hour, "for 7 days"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestHandlerWithRetention(&echoAdapter{}, tc.retention)
			_, err := h.HandleMessage(ctx, dm("hello", "100.1"))
			require.NoError(t, err)

			out, err := h.HandleMessage(ctx, command("delete "+h.threads["D1:100.1"]))
			require.NoError(t, err)
			assert.Contains(t, out.Text, tc.want)
		})
	}
}

func TestHandleCommand(t *testing.T) {
	adapter := &echoAdapter{}
	h, _ := newTestHandler(adapter)
	ctx := context.Background()

	out, err := h.HandleMessage(ctx, command(""))
	require.NoError(t, err)
	assert.Equal(t, helpText, out.Text)

	out, err = h.HandleMessage(ctx, command("list"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "Nothing here yet")

	_, err = h.HandleMessage(ctx, dm("my blood pressure", "100.1"))
	require.NoError(t, err)

	out, err = h.HandleMessage(ctx, command("list"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "*my blood pressure*")
	assert.Len(t, out.Blocks, 2)

	out, err = h.HandleMessage(ctx, command("trash"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "Nothing here yet")

	out, err = h.HandleMessage(ctx, command("restore missing"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "not found")

	out, err = h.HandleMessage(ctx, command("lang xx-!!"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "not a language code")

	out, err = h.HandleMessage(ctx, command("lang es"))
	require.NoError(t, err)
	assert.Contains(t, out.Text, "`es`")

	_, err = h.HandleMessage(ctx, command("what is a normal heart rate?"))
	require.NoError(t, err)
	assert.Equal(t, "es", adapter.languages[len(adapter.languages)-1])
}

func TestToIncoming(t *testing.T) {
	b := &Bot{botUserID: "UBOT"}

	mention := b.toIncoming(slackevents.EventsAPIEvent{
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: &slackevents.AppMentionEvent{
			Text: "<@UBOT> is 120/80 ok?", User: "U1", Channel: "C1", TimeStamp: "1.1",
		}},
	})
	require.NotNil(t, mention)
	assert.Equal(t, "is 120/80 ok?", mention.Text)
	assert.Equal(t, "1.1", mention.ThreadTS)
	assert.False(t, mention.IsDM)

	direct := b.toIncoming(slackevents.EventsAPIEvent{
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
			Text: "hi", User: "U1", Channel: "D1", ChannelType: "im", TimeStamp: "2.1", ThreadTimeStamp: "1.9",
		}},
	})
	require.NotNil(t, direct)
	assert.True(t, direct.IsDM)
	assert.Equal(t, "1.9", direct.ThreadTS)

	assert.Nil(t, b.toIncoming(slackevents.EventsAPIEvent{
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
			Text: "hi", ChannelType: "channel",
		}},
	}))
	assert.Nil(t, b.toIncoming(slackevents.EventsAPIEvent{
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: &slackevents.MessageEvent{
			Text: "beep", BotID: "B1", ChannelType: "im",
		}},
	}))
}

func TestMarkdownToMrkdwn(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "a **b** c", "a *b* c"},
		{"underscore bold", "__b__", "*b*"},
		{"heading", "## Sleep tips", "*Sleep tips*"},
		{"heading with bold", "## **Sleep** tips", "*Sleep tips*"},
		{"heading all bold", "### __Warning__", "*Warning*"},
		{"bullet", "- drink water\n  * rest", "• drink water\n  • rest"},
		{"link", "see [NHS](https://www.nhs.uk)", "see <https://www.nhs.uk|NHS>"},
		{"strike", "~~old~~", "~old~"},
		{"code fence untouched", "```go\n**x**\n```", "```\n**x**\n```"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, MarkdownToMrkdwn(tc.in))
		})
	}
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", TruncateText("short", 10))
	assert.Equal(t, "héllo w...", TruncateText("héllo wörld!", 10))
	assert.Equal(t, "ab", TruncateText("abcdef", 2))
}
