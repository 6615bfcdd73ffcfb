// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bot implements the transport-facing core: command dispatch,
// question processing, and the glue between the session manager, the model
// service client, and the output sanitizer.
//
// The chat transport itself is external. It delivers inbound messages to
// Dispatch and implements Transport for outbound delivery.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/chatrelay/internal/api"
	"github.com/jeranaias/chatrelay/internal/config"
	"github.com/jeranaias/chatrelay/internal/report"
	"github.com/jeranaias/chatrelay/internal/sanitize"
	"github.com/jeranaias/chatrelay/internal/session"
	"github.com/jeranaias/chatrelay/internal/stats"
)

// =============================================================================
// TRANSPORT SURFACE
// =============================================================================

// Transport is the outbound surface a chat platform adapter implements.
// ReplyMarkup delivers text in the platform's strict-markup rendering mode;
// its argument must already be sanitized.
type Transport interface {
	Reply(ctx context.Context, msg Message, text string) error
	ReplyMarkup(ctx context.Context, msg Message, markup string) error
	SendTyping(ctx context.Context, chatID int64)
}

// Message is an inbound chat message, already validated by the transport.
type Message struct {
	ChatID  int64
	Text    string
	IsGroup bool
	// Sender is a display handle for the author, used in reports.
	Sender string
	// ReplyTo is the quoted message content when this message replies to
	// another, empty otherwise. Fed to the model as context.
	ReplyTo string
}

// ModelAPI is the query surface of the model service client.
type ModelAPI interface {
	Query(ctx context.Context, question, sessionID string) (*api.QueryResponse, error)
	QueryWithSessionRetry(ctx context.Context, question, sessionID string) (*api.QueryResponse, string, error)
}

// =============================================================================
// BOT
// =============================================================================

// Bot wires the command registry, session manager, model client, rate
// limiter, and aux services together. Safe for concurrent dispatch.
type Bot struct {
	cfg      *config.Config
	registry *Registry
	sessions *session.Manager
	model    ModelAPI
	limiters *limiterRegistry
	reports  *report.Logger
	stats    *stats.Store

	// wg tracks in-flight message processing so Shutdown can drain it.
	wg sync.WaitGroup
}

// New creates a bot. reports and stats may be nil; the matching features
// degrade to no-ops.
func New(cfg *config.Config, sessions *session.Manager, model ModelAPI, reports *report.Logger, statsStore *stats.Store) *Bot {
	return &Bot{
		cfg:      cfg,
		registry: NewRegistry(),
		sessions: sessions,
		model:    model,
		limiters: newLimiterRegistry(cfg.RateLimit),
		reports:  reports,
		stats:    statsStore,
	}
}

// Registry exposes the command registry, mostly for transports that offer
// command completion.
func (b *Bot) Registry() *Registry {
	return b.registry
}

// Dispatch handles an inbound message on its own goroutine so one slow model
// call never blocks other conversations. The goroutine is tracked; Shutdown
// waits for it.
func (b *Bot) Dispatch(ctx context.Context, t Transport, msg Message) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Handle(ctx, t, msg)
	}()
}

// Shutdown waits for in-flight message processing to drain, up to the
// context deadline.
func (b *Bot) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes one inbound message synchronously.
func (b *Bot) Handle(ctx context.Context, t Transport, msg Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, t, msg, text)
		return
	}

	// Free-form messages are answered in private chats only; groups must
	// use /ask to avoid answering every message in the room.
	if msg.IsGroup {
		return
	}
	b.recordUsage(msg.ChatID, "message")
	b.processQuestion(ctx, t, msg, text)
}

// handleCommand parses and dispatches a slash command.
func (b *Bot) handleCommand(ctx context.Context, t Transport, msg Message, text string) {
	name, args := splitCommand(text)

	cmd := b.registry.Get(name)
	if cmd == nil {
		// Unknown commands are ignored in groups; they are usually meant
		// for some other bot in the room.
		if msg.IsGroup {
			return
		}
		b.reply(ctx, t, msg, "Unknown command. Use /help to see what I can do.")
		return
	}

	b.recordUsage(msg.ChatID, cmd.Name)

	if err := cmd.Handler(ctx, b, t, msg, args); err != nil {
		log.Printf("[bot] %s failed for chat %d: %v", cmd.Name, msg.ChatID, err)
	}
}

// splitCommand separates a command name from its arguments and drops a
// "@botname" suffix some platforms attach in groups.
func splitCommand(text string) (name, args string) {
	name, args, _ = strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// =============================================================================
// QUESTION PROCESSING
// =============================================================================

type queryResult struct {
	resp     *api.QueryResponse
	newToken string
	err      error
}

// processQuestion runs the full relay pipeline for one question: rate limit,
// memory resolution, model query with timeout, sanitization, delivery.
func (b *Bot) processQuestion(ctx context.Context, t Transport, msg Message, question string) {
	if delay, ok := b.limiters.allow(msg.ChatID); !ok {
		b.reply(ctx, t, msg, fmt.Sprintf(
			"Too many questions at once. Please wait %d seconds and try again.",
			int(delay.Seconds())+1))
		return
	}

	t.SendTyping(ctx, msg.ChatID)

	// The memory decision is made exactly once per message; every branch
	// below acts on this answer, never on a re-evaluation.
	memoryOn := b.sessions.MemoryEnabled(msg.ChatID, msg.IsGroup)

	var token string
	if memoryOn {
		resolved, ok, err := b.sessions.Resolve(ctx, msg.ChatID, msg.IsGroup)
		if err != nil || !ok {
			// Never silently fall back to a sessionless query when the
			// user expects memory.
			b.reply(ctx, t, msg, "Failed to initialize the chat session. Please try /new_chat.")
			return
		}
		token = resolved
	}

	fullQuery := composeQuery(question, msg.ReplyTo)
	timeout := time.Duration(b.cfg.API.QueryTimeoutSecs) * time.Second

	start := time.Now()
	resp, err := b.queryWithAbandon(ctx, fullQuery, token, msg.ChatID, timeout)
	b.recordQuery(msg.ChatID, time.Since(start), err == nil)

	switch {
	case err == nil && resp != nil:
		b.replyMarkup(ctx, t, msg, sanitize.Clean(resp.Response))
	case errors.Is(err, context.DeadlineExceeded):
		b.reply(ctx, t, msg, "The server took too long to respond. Please try again in a moment.")
	case errors.Is(err, context.Canceled):
		// The caller went away (shutdown or transport cancel); nobody is
		// waiting for a reply.
		log.Printf("[bot] query canceled for chat %d", msg.ChatID)
	default:
		log.Printf("[bot] query failed for chat %d: %v", msg.ChatID, err)
		b.reply(ctx, t, msg, "An unexpected error occurred while processing your request. Please try again later.")
	}
}

// queryWithAbandon runs the model query bounded by timeout. On expiry or
// caller cancellation the caller stops waiting but the remote call is left
// to finish; its eventual result is logged and discarded, and any
// replacement session token it produced is reconciled through the session
// manager. That keeps one stuck request from pinning a worker while still
// surfacing late completions in the logs.
func (b *Bot) queryWithAbandon(ctx context.Context, query, token string, chatID int64, timeout time.Duration) (*api.QueryResponse, error) {
	resultCh := make(chan queryResult, 1)

	// The remote call gets its own lifetime, detached from the caller's
	// deadline, so abandonment does not cancel it mid-flight.
	qctx := context.WithoutCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		resp, newToken, err := b.model.QueryWithSessionRetry(qctx, query, token)
		resultCh <- queryResult{resp: resp, newToken: newToken, err: err}
	}()

	var cause error
	select {
	case res := <-resultCh:
		if res.newToken != token {
			b.sessions.ReplaceToken(qctx, chatID, token, res.newToken)
		}
		return res.resp, res.err
	case <-time.After(timeout):
		cause = context.DeadlineExceeded
	case <-ctx.Done():
		cause = ctx.Err()
	}

	log.Printf("[bot] abandoning query for chat %d: %v", chatID, cause)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		res := <-resultCh
		if res.newToken != token {
			b.sessions.ReplaceToken(qctx, chatID, token, res.newToken)
		}
		if res.err != nil {
			log.Printf("[bot] abandoned query for chat %d eventually failed: %v", chatID, res.err)
			return
		}
		log.Printf("[bot] abandoned query for chat %d eventually completed; result discarded", chatID)
	}()
	return nil, cause
}

// composeQuery prepends quoted-message context to a question.
func composeQuery(question, replyTo string) string {
	if replyTo == "" {
		return question
	}
	return fmt.Sprintf("Context from previous message:\n%s\n\nQuestion: %s", replyTo, question)
}

// =============================================================================
// HELPERS
// =============================================================================

func (b *Bot) reply(ctx context.Context, t Transport, msg Message, text string) {
	if err := t.Reply(ctx, msg, text); err != nil {
		log.Printf("[bot] reply to chat %d failed: %v", msg.ChatID, err)
	}
}

func (b *Bot) replyMarkup(ctx context.Context, t Transport, msg Message, markup string) {
	if err := t.ReplyMarkup(ctx, msg, markup); err != nil {
		log.Printf("[bot] markup reply to chat %d failed: %v", msg.ChatID, err)
	}
}

func (b *Bot) recordUsage(chatID int64, command string) {
	if b.stats == nil {
		return
	}
	if err := b.stats.RecordUsage(chatID, command); err != nil {
		log.Printf("[bot] stats record failed: %v", err)
	}
}

func (b *Bot) recordQuery(chatID int64, d time.Duration, ok bool) {
	if b.stats == nil {
		return
	}
	if err := b.stats.RecordQuery(chatID, d, ok); err != nil {
		log.Printf("[bot] stats record failed: %v", err)
	}
}
