package llmprovider

import (
	"fmt"
	"strings"

	"bella-server/internal/domain/knowledge"
)

const titlePrompt = `<task>
	You generate titles for conversations in an AI chat app. Each message is a user message; reply with exactly one title suggestion and nothing else.
</task>
<style>
	The title is concise, a few words summarizing the user message. It never answers the question. It is written in the language of the user message.
</style>`

const classificationPrompt = `<task>
	You classify user messages before a colleague answers them. Characterize the incoming message according to the provided schema. Focus on the last message; earlier messages are context only.
</task>
<style>
	Be accurate. Your colleague depends on your output. The output must be valid according to the schema.
</style>`

const experiencePrompt = `<task>
	You evaluate user experience in a conversation excerpt. Based on the user's latest message, detect negative experiences. When one is detected, categorize it and describe it briefly. Set result to null when the experience is not negative.
</task>
<style>
	Be accurate. The output must be valid according to the schema. Always answer in English, whatever the conversation language.
</style>`

func queriesPrompt(source knowledge.Source) string {
	var b strings.Builder
	b.WriteString("<task>\n")
	fmt.Fprintf(&b, "\tYou are a specialist helping a colleague search the %s knowledge base. Produce two things:\n", strings.ToLower(string(source)))
	b.WriteString("\t<summarized_query>\n\t\tThe user's question extracted from the whole conversation, self-contained and as close to the original as possible.\n\t</summarized_query>\n")
	b.WriteString("\t<sub_queries>\n\t\tSmaller search questions that together cover everything needed to answer. Rephrase names and nicknames when useful for semantic search. Simple questions need one or two.\n\t</sub_queries>\n")
	b.WriteString("</task>\n")
	b.WriteString("<style>\n\tBe accurate and do not invent facts. Always answer in English.\n</style>")
	return b.String()
}
