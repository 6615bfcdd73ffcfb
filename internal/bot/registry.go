// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"context"
	"sort"
	"strings"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Command represents a chat command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/start", "/hi")
	Aliases []string

	// Description is shown in the generated help text
	Description string

	// Usage shows argument syntax (e.g., "/ask <question>")
	Usage string

	// Handler executes the command
	Handler func(ctx context.Context, b *Bot, t Transport, msg Message, args string) error

	// Hidden commands don't appear in help
	Hidden bool

	// Category for grouping in help display
	Category string
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a new command registry with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ByCategory returns visible commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// HelpText renders the command list grouped by category, in the markup
// subset the renderer accepts.
func (r *Registry) HelpText() string {
	byCat := r.ByCategory()
	categories := make([]string, 0, len(byCat))
	for cat := range byCat {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var b strings.Builder
	for i, cat := range categories {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("<b>")
		b.WriteString(cat)
		b.WriteString("</b>\n")
		for _, cmd := range byCat[cat] {
			b.WriteString("<code>")
			if cmd.Usage != "" {
				b.WriteString(cmd.Usage)
			} else {
				b.WriteString(cmd.Name)
			}
			b.WriteString("</code> - ")
			b.WriteString(cmd.Description)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// registerBuiltins registers all built-in commands.
func (r *Registry) registerBuiltins() {
	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/start", "/hi"},
		Description: "Show the welcome message and command list",
		Category:    "General",
		Handler:     handleHelp,
	})
	r.Register(&Command{
		Name:        "/ping",
		Description: "Check bot response time",
		Category:    "General",
		Handler:     handlePing,
	})
	r.Register(&Command{
		Name:        "/report",
		Description: "Send a report to the administrators",
		Usage:       "/report <message>",
		Category:    "General",
		Handler:     handleReport,
	})
	r.Register(&Command{
		Name:        "/ask",
		Description: "Ask the model a question",
		Usage:       "/ask <question>",
		Category:    "Questions",
		Handler:     handleAsk,
	})
	r.Register(&Command{
		Name:        "/new_chat",
		Description: "Start a fresh conversation",
		Category:    "Memory",
		Handler:     handleNewChat,
	})
	r.Register(&Command{
		Name:        "/end_chat",
		Description: "End the current conversation",
		Category:    "Memory",
		Handler:     handleEndChat,
	})
	r.Register(&Command{
		Name:        "/enable_memory",
		Description: "Enable conversation memory for this chat",
		Category:    "Memory",
		Handler:     handleEnableMemory,
	})
	r.Register(&Command{
		Name:        "/disable_memory",
		Description: "Disable conversation memory for this chat",
		Category:    "Memory",
		Handler:     handleDisableMemory,
	})
	r.Register(&Command{
		Name:        "/stats",
		Description: "Show usage statistics",
		Category:    "General",
		Hidden:      true,
		Handler:     handleStats,
	})
}
