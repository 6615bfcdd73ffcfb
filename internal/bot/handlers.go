// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"fmt"
	"time"
)

const welcomeText = `<b>Hello!</b> I relay your questions to a language model and bring back the answers.

Send me a message in a private chat, or use <code>/ask</code> in a group. I remember the conversation unless memory is turned off.`

// =============================================================================
// GENERAL COMMANDS
// =============================================================================

func handleHelp(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	return t.ReplyMarkup(ctx, msg, welcomeText+"\n\n"+b.registry.HelpText())
}

func handlePing(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	start := time.Now()
	if err := t.Reply(ctx, msg, "Pinging..."); err != nil {
		return err
	}
	elapsed := time.Since(start).Milliseconds()
	return t.Reply(ctx, msg, fmt.Sprintf("PONG! Response time: %dms", elapsed))
}

func handleReport(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	if args == "" {
		return t.Reply(ctx, msg,
			"Please provide your report message after the /report command.\n"+
				"Example: /report I found a bug in the bot")
	}
	if b.reports == nil {
		return t.Reply(ctx, msg, "Reports are not enabled on this instance.")
	}

	if err := b.reports.Record(msg.ChatID, msg.Sender, args, msg.ReplyTo); err != nil {
		b.reply(ctx, t, msg, "Failed to save the report. Please try again later.")
		return err
	}
	return t.Reply(ctx, msg, "Report sent successfully! Thank you for your feedback.")
}

func handleStats(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	if b.stats == nil {
		return t.Reply(ctx, msg, "Statistics are not enabled on this instance.")
	}
	totals, err := b.stats.Totals(ctx)
	if err != nil {
		b.reply(ctx, t, msg, "Could not load statistics.")
		return err
	}
	return t.ReplyMarkup(ctx, msg, fmt.Sprintf(
		"<b>Usage</b>\nCommands handled: <code>%d</code>\nQueries answered: <code>%d</code>\nAverage query time: <code>%s</code>",
		totals.Commands, totals.Queries, totals.AvgQueryTime.Round(time.Millisecond)))
}

// =============================================================================
// QUESTION COMMANDS
// =============================================================================

func handleAsk(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	if args == "" {
		return t.Reply(ctx, msg,
			"Please provide a question after the /ask command.\n"+
				"Example: /ask What is the capital of France?")
	}
	b.processQuestion(ctx, t, msg, args)
	return nil
}

// =============================================================================
// MEMORY COMMANDS
// =============================================================================

func handleNewChat(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	// One decision per command; teardown below happens even when memory is
	// off so a leftover session cannot leak.
	if !b.sessions.MemoryEnabled(msg.ChatID, msg.IsGroup) {
		b.sessions.End(ctx, msg.ChatID)
		return t.Reply(ctx, msg,
			"Memory is disabled for this chat by current settings. "+
				"Use /enable_memory to re-enable it.")
	}

	if _, err := b.sessions.Reset(ctx, msg.ChatID); err != nil {
		b.reply(ctx, t, msg, "Failed to create a new chat session. Please try again.")
		return err
	}
	return t.Reply(ctx, msg, "Started a new chat session! Your conversation history has been cleared.")
}

func handleEndChat(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	if !b.sessions.End(ctx, msg.ChatID) {
		return t.Reply(ctx, msg, "No active chat session to end.")
	}
	return t.Reply(ctx, msg, "Chat session ended. Your conversation history has been cleared.")
}

func handleEnableMemory(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	b.sessions.EnableMemory(msg.ChatID)
	return t.Reply(ctx, msg, "Memory is now enabled for this chat (overrides default restrictions).")
}

func handleDisableMemory(ctx context.Context, b *Bot, t Transport, msg Message, args string) error {
	b.sessions.DisableMemory(ctx, msg.ChatID)
	return t.Reply(ctx, msg, "Memory has been disabled for this chat (sessionless mode).")
}
