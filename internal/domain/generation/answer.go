package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"bella-server/internal/domain/conversation"
	flowerrors "bella-server/internal/domain/errors"
	"bella-server/internal/domain/knowledge"
	"bella-server/internal/domain/llm"
	"bella-server/internal/domain/planner"
	"bella-server/internal/domain/status"
	"bella-server/internal/domain/workflow"
)

// answerRequest is what the stream is opened with.
type answerRequest struct {
	model     planner.Model
	reasoning bool
	system    string
}

// generateAnswer streams the answer into message parts. Parts carry the
// durable attempt number so a retried stream supersedes the earlier one.
func (g *Generator) generateAnswer(ctx context.Context, p Payload, plan planner.ResponsePlan) (Outcome, error) {
	attempt := workflow.Attempt(ctx)
	log := g.log.With().
		Str("message_id", p.AssistantMessageID).
		Int("activity_attempt", attempt).
		Logger()

	// A resumed run may find the message already settled, either by
	// StopGeneration or by an earlier attempt whose checkpoint was lost.
	current, err := g.repo.MessageStatus(ctx, p.AssistantMessageID)
	if err != nil {
		return Outcome{}, flowerrors.DataAccess(err, "read message status")
	}
	if current.IsTerminal() {
		log.Info().Str("status", string(current)).Msg("message already settled, not streaming")
		return Outcome{Status: current, Model: string(planModel(plan))}, nil
	}

	messages, err := g.repo.ListMessages(ctx, p.ConversationID, 0)
	if err != nil {
		return Outcome{}, flowerrors.DataAccess(err, "load conversation history")
	}
	history := promptHistory(messages, p.AssistantMessageID)

	var additional string
	if plan.Fulfillment != nil {
		if additional, err = g.lookupKnowledge(ctx, p, *plan.Fulfillment, history, attempt); err != nil {
			return Outcome{}, err
		}
	}

	req := planner.Match(plan,
		func(r planner.Refusal) answerRequest {
			return answerRequest{model: RefusalModel, system: refusalPrompt(r)}
		},
		func(f planner.Fulfillment) answerRequest {
			return answerRequest{model: f.Model, reasoning: f.ReasoningEnabled, system: fulfillmentPrompt(f, additional)}
		},
	)

	prompt := append([]llm.ChatMessage{{Role: llm.RoleSystem, Content: req.system}}, history...)
	trimmed := llm.TrimMessagesToFitContext(prompt, llm.LookupModel(string(req.model)).ContextLength)
	if trimmed.TrimmedCount > 0 {
		log.Debug().Int("trimmed", trimmed.TrimmedCount).Int("estimated_tokens", trimmed.EstimatedTokens).Msg("history trimmed to fit context")
	}

	stream, err := g.streamer.StreamAnswer(ctx, llm.StreamRequest{
		Model:            string(req.model),
		Messages:         trimmed.Messages,
		ReasoningEnabled: req.reasoning,
	})
	if err != nil {
		return Outcome{}, flowerrors.Generation(err, "open answer stream")
	}
	defer stream.Close()

	outcome := Outcome{Model: string(req.model)}
	for {
		unit, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return outcome, flowerrors.Generation(io.ErrUnexpectedEOF, "stream ended without a finish unit")
		}
		if err != nil {
			return outcome, flowerrors.Generation(err, "read answer stream")
		}

		stop, err := g.interrupted(ctx, p.AssistantMessageID)
		if err != nil {
			return outcome, err
		}
		if stop {
			log.Info().Int("parts", outcome.Parts).Msg("generation interrupted")
			outcome.Status = status.MessageInterrupted
			return outcome, nil
		}

		switch unit.Kind {
		case llm.UnitText, llm.UnitReasoning:
			if unit.Text == "" {
				continue
			}
			part := conversation.NewTextPart(unit.Text)
			if unit.Kind == llm.UnitReasoning {
				part = conversation.NewReasoningPart(unit.Text)
			}
			part.MessageID = p.AssistantMessageID
			part.Attempt = attempt
			if err := g.repo.AppendPart(ctx, &part); err != nil {
				return outcome, flowerrors.DataAccess(err, "persist message part")
			}
			outcome.Parts++

		case llm.UnitFinish:
			changed, err := g.repo.TransitionMessage(ctx, p.ConversationID, p.AssistantMessageID, status.MessageInProgress, status.MessageCompleted)
			if err != nil {
				return outcome, flowerrors.DataAccess(err, "complete message")
			}
			outcome.Status = status.MessageCompleted
			if !changed {
				// StopGeneration won the race after the last check.
				if outcome.Status, err = g.repo.MessageStatus(ctx, p.AssistantMessageID); err != nil {
					return outcome, flowerrors.DataAccess(err, "read message status")
				}
			}
			log.Debug().Str("finish_reason", unit.FinishReason).Msg("answer stream finished")
			return outcome, nil
		}
	}
}

func planModel(plan planner.ResponsePlan) planner.Model {
	return planner.Match(plan,
		func(planner.Refusal) planner.Model { return RefusalModel },
		func(f planner.Fulfillment) planner.Model { return f.Model },
	)
}

func (g *Generator) interrupted(ctx context.Context, messageID string) (bool, error) {
	stop, err := g.interruptions.IsInterrupted(ctx, messageID)
	if err != nil {
		return false, flowerrors.DataAccess(err, "check message interruption")
	}
	return stop, nil
}

// lookupKnowledge queries every requested knowledge source, records the
// searches as message parts and returns the passages for the system prompt.
func (g *Generator) lookupKnowledge(ctx context.Context, p Payload, f planner.Fulfillment, history []llm.ChatMessage, attempt int) (string, error) {
	if len(f.KnowledgeSources) == 0 {
		return "", nil
	}
	if g.queries == nil || g.retriever == nil {
		g.log.Warn().Msg("knowledge requested but no knowledge service is configured")
		return "", nil
	}

	conversationText := make([]string, len(history))
	for i, m := range history {
		conversationText[i] = m.Role + ": " + m.Content
	}

	var sections []string
	for _, requested := range f.KnowledgeSources {
		source := knowledge.Source(requested)

		queries, err := g.queries.GenerateQueries(ctx, source, conversationText)
		if err != nil {
			return "", flowerrors.Generation(err, fmt.Sprintf("generate %s queries", source))
		}

		part := conversation.NewKnowledgeSearchPart(string(source), queries.SubQueries)
		part.MessageID = p.AssistantMessageID
		part.Attempt = attempt
		if err := g.repo.AppendPart(ctx, &part); err != nil {
			return "", flowerrors.DataAccess(err, "persist knowledge search")
		}

		passages, err := g.retriever.GetRelatedPassages(ctx, source, queries.SubQueries, queries.SummarizedQuery)
		if err != nil {
			return "", flowerrors.Generation(err, fmt.Sprintf("retrieve %s passages", source))
		}
		knowledge.SortByRelevance(passages)

		results := make([]conversation.KnowledgeResult, len(passages))
		for i, passage := range passages {
			results[i] = conversation.KnowledgeResult{Content: passage.Content, SourceID: passage.SourceID, Relevance: passage.Relevance}
		}
		if err := g.repo.CompleteKnowledgeSearch(ctx, part.ID, results); err != nil {
			return "", flowerrors.DataAccess(err, "store knowledge search results")
		}

		if formatted := knowledge.FormatContext(source, passages); formatted != "" {
			sections = append(sections, formatted)
		}
	}
	return strings.Join(sections, "\n"), nil
}

// promptHistory maps the messages before the answer being generated to chat
// messages, dropping turns without text.
func promptHistory(messages []conversation.Message, assistantMessageID string) []llm.ChatMessage {
	history := make([]llm.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.ID == assistantMessageID {
			break
		}
		if text := m.Text(); text != "" {
			history = append(history, llm.ChatMessage{Role: chatRole(m.Role), Content: text})
		}
	}
	return history
}
