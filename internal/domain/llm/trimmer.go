package llm

import "unicode/utf8"

const (
	// DefaultContextLength is used when model context length is unknown.
	DefaultContextLength = 128000

	// TokenEstimateRatio estimates ~4 characters per token.
	TokenEstimateRatio = 4

	// SafetyMarginRatio reserves space for the answer.
	SafetyMarginRatio = 0.80

	messageOverheadTokens = 10
)

// EstimateTokenCount gives a rough token count for text.
func EstimateTokenCount(text string) int {
	return utf8.RuneCountInString(text) / TokenEstimateRatio
}

// EstimateMessagesTokenCount estimates total tokens across all messages.
func EstimateMessagesTokenCount(messages []ChatMessage) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens + EstimateTokenCount(msg.Content)
	}
	return total
}

// TrimMessagesResult contains the result of trimming messages.
type TrimMessagesResult struct {
	Messages        []ChatMessage
	TrimmedCount    int
	EstimatedTokens int
}

// TrimMessagesToFitContext drops the oldest conversation messages until the
// prompt fits the context window. System messages and the final message are
// always kept; assistant messages go before user messages.
func TrimMessagesToFitContext(messages []ChatMessage, contextLength int) TrimMessagesResult {
	if contextLength <= 0 {
		contextLength = DefaultContextLength
	}
	maxTokens := int(float64(contextLength) * SafetyMarginRatio)

	currentTokens := EstimateMessagesTokenCount(messages)
	if currentTokens <= maxTokens {
		return TrimMessagesResult{Messages: messages, EstimatedTokens: currentTokens}
	}

	result := make([]ChatMessage, len(messages))
	copy(result, messages)
	trimmed := 0

	for currentTokens > maxTokens {
		removedIdx := oldestRemovable(result, RoleAssistant)
		if removedIdx == -1 {
			removedIdx = oldestRemovable(result, RoleUser)
		}
		if removedIdx == -1 {
			break
		}

		currentTokens -= messageOverheadTokens + EstimateTokenCount(result[removedIdx].Content)
		result = append(result[:removedIdx], result[removedIdx+1:]...)
		trimmed++
	}

	return TrimMessagesResult{
		Messages:        result,
		TrimmedCount:    trimmed,
		EstimatedTokens: currentTokens,
	}
}

func oldestRemovable(messages []ChatMessage, role string) int {
	for i := 0; i < len(messages)-1; i++ {
		if messages[i].Role == role {
			return i
		}
	}
	return -1
}
