package slack

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

var (
	mdBold      = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	mdStrike    = regexp.MustCompile(`~~(.+?)~~`)
	mdLink      = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	mdHeading   = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*$`)
	mdBullet    = regexp.MustCompile(`^(\s*)[-*+]\s+`)
	fenceMarker = "```"
)

// MarkdownToMrkdwn converts the Markdown that models usually produce into
// Slack's mrkdwn dialect. Code blocks are left untouched.
func MarkdownToMrkdwn(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), fenceMarker) {
			inFence = !inFence
			lines[i] = strings.TrimSpace(line)[:len(fenceMarker)]
			continue
		}
		if inFence {
			continue
		}
		if m := mdHeading.FindStringSubmatch(line); m != nil {
			// The whole heading is bold already; inner emphasis would nest.
			heading := mdBold.ReplaceAllString(m[1], "$1$2")
			heading = mdStrike.ReplaceAllString(heading, "~$1~")
			lines[i] = FormatBold(mdLink.ReplaceAllString(heading, "<$2|$1>"))
			continue
		}
		line = mdBullet.ReplaceAllString(line, "$1• ")
		line = mdBold.ReplaceAllStringFunc(line, func(s string) string {
			return FormatBold(s[2 : len(s)-2])
		})
		line = mdStrike.ReplaceAllString(line, "~$1~")
		line = mdLink.ReplaceAllString(line, "<$2|$1>")
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

// FormatInlineCode wraps text in inline code markers.
func FormatInlineCode(text string) string {
	return fmt.Sprintf("`%s`", text)
}

// FormatBold wraps text in bold markers.
func FormatBold(text string) string {
	return fmt.Sprintf("*%s*", text)
}

// FormatItalic wraps text in italic markers.
func FormatItalic(text string) string {
	return fmt.Sprintf("_%s_", text)
}

// TruncateText cuts text to maxLen runes with an ellipsis.
func TruncateText(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// BuildSectionBlock creates a section block with markdown text.
func BuildSectionBlock(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
		nil, nil,
	)
}

// BuildContextBlock creates a context block with text elements.
func BuildContextBlock(texts ...string) *slack.ContextBlock {
	elements := make([]slack.MixedElement, len(texts))
	for i, text := range texts {
		elements[i] = slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
	}
	return slack.NewContextBlock("", elements...)
}

// FormatError formats an error message for display.
func FormatError(msg string) string {
	return fmt.Sprintf(":x: *Error:* %s", msg)
}

// FormatSuccess formats a success message.
func FormatSuccess(msg string) string {
	return fmt.Sprintf(":white_check_mark: %s", msg)
}

// FormatWarning formats a warning message.
func FormatWarning(msg string) string {
	return fmt.Sprintf(":warning: %s", msg)
}

// FormatInfo formats an info message.
func FormatInfo(msg string) string {
	return fmt.Sprintf(":information_source: %s", msg)
}

// FormatConversationList renders conversations one per line.
func FormatConversationList(convs []*storage.Conversation) string {
	var sb strings.Builder
	for _, conv := range convs {
		sb.WriteString(fmt.Sprintf("• %s %s", FormatInlineCode(conv.ID), FormatBold(conv.Title)))
		if conv.DeletedAt != nil {
			sb.WriteString(" " + FormatItalic("deleted "+conv.DeletedAt.Format(time.DateOnly)))
		}
		sb.WriteString("\n    " + TruncateText(conv.Preview, 80) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
