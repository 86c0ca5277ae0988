package generation

import (
	"fmt"
	"strings"

	"bella-server/internal/domain/planner"
)

const assistantName = "Bella"

// RefusalModel streams refusal answers. It is the cheapest tier.
const RefusalModel = planner.ModelGeminiFlashLite

func refusalPrompt(r planner.Refusal) string {
	var b strings.Builder
	b.WriteString("<task>\n")
	fmt.Fprintf(&b, "\tYou're a helpful assistant named %s. Your job is to help the user as much as possible. ", assistantName)
	b.WriteString("Right now you must refuse to answer because the user's message was not appropriate. ")
	b.WriteString("Explain the refusal reason so the user knows what went wrong and how to do better.\n")
	b.WriteString("</task>\n")
	fmt.Fprintf(&b, "<refusal_reason>\n\t%s\n</refusal_reason>\n", r.Reason)
	writeLanguage(&b, r.Language)
	b.WriteString("<style>\n")
	b.WriteString("\tBe substantive about the refusal and do not apologize. ")
	switch r.Reason {
	case planner.RefusalUserHostility:
		b.WriteString("The user was hostile, so do not be overly nice.\n")
	case planner.RefusalPolitics:
		b.WriteString("Be kind: the user may not know that you do not discuss politics.\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString("</style>")
	return b.String()
}

func fulfillmentPrompt(f planner.Fulfillment, additionalContext string) string {
	var b strings.Builder
	b.WriteString("<task>\n")
	fmt.Fprintf(&b, "\tYou're a helpful assistant named %s. Your job is to help the user as much as possible.\n", assistantName)
	b.WriteString("</task>\n")
	writeLanguage(&b, f.Language)

	if additionalContext != "" {
		b.WriteString("<additional_context>\n")
		b.WriteString("\tExperts on the topic provided the context below, sorted from highest to lowest relevance. ")
		b.WriteString("Prefer it when answering. When you use a passage, quote it directly without modification or translation.\n\n")
		b.WriteString(additionalContext)
		b.WriteString("\n</additional_context>\n")
	}

	b.WriteString("<style>\n")
	b.WriteString("\tBe kind and respectful. You may challenge the user's ideas when you have a better one. ")
	b.WriteString("Structure the answer with headings, lists and tables where they help. ")
	switch f.AnswerStyle {
	case planner.AnswerStyleFormal:
		b.WriteString("Be formal about the topic.")
	default:
		b.WriteString("Make the answer visually engaging and pleasant to read. Emojis are fine when appropriate, but do not overuse them.")
	}
	b.WriteString("\n</style>")
	return b.String()
}

func writeLanguage(b *strings.Builder, language string) {
	if language == "" {
		language = "en"
	}
	fmt.Fprintf(b, "<output_language>\n\tThe answer must be written in %q, whatever else the conversation says.\n</output_language>\n", language)
}
