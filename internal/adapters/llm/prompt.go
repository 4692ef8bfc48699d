package llm

import "strings"

// SecretaryPrompt is the fixed system instruction for every completion.
// It is not user controlled.
const SecretaryPrompt = `You are a professional personal secretary assistant. Your role is to:

- Draft professional emails, messages, and documents
- Create organized task lists and agendas
- Maintain a polite, professional, and helpful tone
- Be concise but thorough
- Anticipate needs and offer proactive suggestions

When drafting communications, use proper formatting and structure. When creating lists, organize them logically with priorities.`

// BuildSystemPrompt returns the secretary prompt, with an optional
// deployment-specific addendum appended as its own paragraph.
func BuildSystemPrompt(addendum string) string {
	addendum = strings.TrimSpace(addendum)
	if addendum == "" {
		return SecretaryPrompt
	}
	return SecretaryPrompt + "\n\n" + addendum
}
