// Package crontab runs the scheduled recovery sweep.
package crontab

import (
	"context"
	"fmt"
	"time"

	"github.com/mileusna/crontab"
	"github.com/rs/zerolog"

	"bella-server/internal/domain/conversation"
	"bella-server/internal/domain/generation"
	"bella-server/internal/infrastructure/metrics"
	"bella-server/internal/infrastructure/observability"
)

const (
	recoverySchedule = "* * * * *"
	recoveryBatch    = 100
	jobTimeout       = 50 * time.Second
)

// StaleMessages lists assistant messages stuck IN_PROGRESS.
type StaleMessages interface {
	ListStaleGenerating(ctx context.Context, createdBefore time.Time, limit int) ([]conversation.Message, error)
}

// WorkflowRouter inserts workflow executions.
type WorkflowRouter interface {
	RouteWorkflowTrigger(ctx context.Context, workflow, key string, payload any) (bool, error)
}

// Crontab re-triggers generation for assistant messages whose trigger was lost.
type Crontab struct {
	ctab     *crontab.Crontab
	messages StaleMessages
	router   WorkflowRouter
	grace    time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewCrontab(messages StaleMessages, router WorkflowRouter, grace time.Duration, log zerolog.Logger) *Crontab {
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	return &Crontab{
		ctab:     crontab.New(),
		messages: messages,
		router:   router,
		grace:    grace,
		now:      time.Now,
		log:      log.With().Str("component", "recovery-sweep").Logger(),
	}
}

// Run sweeps once, then every minute until ctx is done.
func (c *Crontab) Run(ctx context.Context) error {
	c.sweep(ctx)

	if err := c.ctab.AddJob(recoverySchedule, func() {
		jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), jobTimeout)
		defer cancel()
		c.sweep(jobCtx)
	}); err != nil {
		return fmt.Errorf("add recovery job: %w", err)
	}
	c.log.Info().Dur("grace_period", c.grace).Msg("recovery sweep scheduled")

	<-ctx.Done()
	c.ctab.Shutdown()
	return nil
}

func (c *Crontab) sweep(ctx context.Context) {
	if _, err := c.RecoverStale(ctx); err != nil && ctx.Err() == nil {
		c.log.Error().Err(err).Msg("recovery sweep failed")
	}
}

// RecoverStale triggers GenerateMessage for every assistant message left
// IN_PROGRESS longer than the grace period and returns how many executions
// it created. Messages whose execution already exists are skipped by the
// idempotency key.
func (c *Crontab) RecoverStale(ctx context.Context) (int, error) {
	ctx, span := observability.StartJobSpan(ctx, "recover_stale_messages")
	defer span.End()

	stale, err := c.messages.ListStaleGenerating(ctx, c.now().Add(-c.grace), recoveryBatch)
	if err != nil {
		observability.RecordError(span, err, "error")
		return 0, fmt.Errorf("list stale messages: %w", err)
	}

	created := 0
	for _, m := range stale {
		ok, err := c.router.RouteWorkflowTrigger(ctx, generation.WorkflowName, generation.Key(m.ConversationID, m.ID), generation.Payload{
			ConversationID:     m.ConversationID,
			AssistantMessageID: m.ID,
		})
		if err != nil {
			c.log.Warn().Err(err).
				Str("conversation_id", m.ConversationID).
				Str("message_id", m.ID).
				Msg("failed to re-trigger generation")
			continue
		}
		if ok {
			created++
			c.log.Info().
				Str("conversation_id", m.ConversationID).
				Str("message_id", m.ID).
				Msg("re-triggered generation for stale message")
		}
	}

	metrics.RecordRecoveredMessages(created)
	return created, nil
}
