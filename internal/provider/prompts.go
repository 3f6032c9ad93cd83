package provider

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// DefaultPersona is the base system instruction for the health assistant.
const DefaultPersona = `You are ScanMed Assistant, a friendly health companion inside a personal health-tracking app.

## Your Role
You help users understand their health data, everyday wellness questions, and the results of scans they upload. You can:
- Explain health terms and measurements in plain language
- Suggest general, evidence-based wellness habits
- Help users prepare questions for their doctor

## Guidelines
- Be concise and warm; this is a chat, not a report
- Never give a diagnosis or prescribe medication
- Recommend seeing a healthcare professional when symptoms are serious, persistent, or unclear
- For emergencies (chest pain, trouble breathing, signs of stroke), tell the user to contact emergency services immediately
- Never ask for or repeat identifying personal information
`

// LoadPersona returns the persona from path, or DefaultPersona when path is
// empty or unreadable.
func LoadPersona(path string) string {
	if path == "" {
		return DefaultPersona
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultPersona
	}
	persona := strings.TrimSpace(string(data))
	if persona == "" {
		return DefaultPersona
	}
	return persona
}

// ResolveLanguage parses tag, falling back to fallback and then English.
func ResolveLanguage(tag, fallback string) language.Tag {
	for _, candidate := range []string{tag, fallback} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		if t, err := language.Parse(candidate); err == nil {
			return t
		}
	}
	return language.English
}

// LanguageName returns the English display name of tag, e.g. "Spanish".
func LanguageName(tag language.Tag) string {
	if name := display.Tags(language.English).Name(tag); name != "" {
		return name
	}
	return tag.String()
}

// BuildInstruction combines the persona with the reply-language directive.
func BuildInstruction(persona, lang, fallback string) string {
	tag := ResolveLanguage(lang, fallback)

	var builder strings.Builder
	builder.WriteString(strings.TrimSpace(persona))
	builder.WriteString("\n\n## Reply Language\n\n")
	builder.WriteString(fmt.Sprintf("Always reply in %s (%s), even if the user writes in another language.", LanguageName(tag), tag))
	return builder.String()
}
