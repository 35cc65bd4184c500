// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package host

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
)

// CodeInvalidCommand marks a command entry that cannot be registered.
const CodeInvalidCommand = "INVALID_COMMAND"

// CommandOutput is the result of running a console command.
type CommandOutput struct {
	Lines []string
	// Quit asks the host to stop.
	Quit bool
}

// CommandExecution is what a handler sees while it runs.
type CommandExecution struct {
	Args     []string
	Now      time.Time
	State    *State
	Registry *CommandRegistry
}

// CommandHandler runs one command.
type CommandHandler func(exec *CommandExecution) CommandOutput

// CommandEntry is a registered console command.
type CommandEntry struct {
	Name    string
	Aliases []string
	Help    string // one line
	Usage   string
	Handler CommandHandler
}

// CommandRegistry maps command names and aliases to entries.
// It is safe for concurrent use.
type CommandRegistry struct {
	mu      sync.RWMutex
	entries map[string]CommandEntry
	lookup  map[string]string
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		entries: make(map[string]CommandEntry),
		lookup:  make(map[string]string),
	}
}

// Register adds a command. A name or alias that is already taken is
// overwritten with a warning.
func (r *CommandRegistry) Register(entry CommandEntry) error {
	if strings.TrimSpace(entry.Name) == "" || strings.ContainsAny(entry.Name, " \t") {
		return oops.Code(CodeInvalidCommand).With("name", entry.Name).Errorf("invalid command name %q", entry.Name)
	}
	if entry.Handler == nil {
		return oops.Code(CodeInvalidCommand).With("name", entry.Name).Errorf("command %s has no handler", entry.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range append([]string{entry.Name}, entry.Aliases...) {
		if previous, ok := r.lookup[key]; ok && previous != entry.Name {
			slog.Warn("command conflict: overwriting existing command",
				"command", key,
				"previous", previous,
				"new", entry.Name)
		}
		r.lookup[key] = entry.Name
	}
	r.entries[entry.Name] = entry
	return nil
}

// Get resolves a name or alias.
func (r *CommandRegistry) Get(name string) (CommandEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, ok := r.lookup[name]
	if !ok {
		return CommandEntry{}, false
	}
	entry, ok := r.entries[canonical]
	return entry, ok
}

// All returns every registered command sorted by name.
func (r *CommandRegistry) All() []CommandEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]CommandEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Execute parses input and runs the matching command. Empty input produces
// no lines; an unknown command produces a hint.
func (r *CommandRegistry) Execute(input string, state *State, now time.Time) CommandOutput {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return CommandOutput{Lines: []string{}}
	}

	entry, ok := r.Get(fields[0])
	if !ok {
		return CommandOutput{Lines: []string{
			fmt.Sprintf("unknown command: '%s'. Type 'help' for available commands.", fields[0]),
		}}
	}

	out := entry.Handler(&CommandExecution{
		Args:     fields[1:],
		Now:      now,
		State:    state,
		Registry: r,
	})
	if out.Lines == nil {
		out.Lines = []string{}
	}
	return out
}

// BuiltinCommands returns a registry with the host's built-in commands.
func BuiltinCommands() *CommandRegistry {
	r := NewCommandRegistry()
	for _, entry := range []CommandEntry{
		{Name: "help", Aliases: []string{"?"}, Help: "List commands or show help for one", Usage: "help [command]", Handler: helpCommand},
		{Name: "status", Help: "Show host status", Handler: statusCommand},
		{Name: "uptime", Help: "Show host uptime", Handler: uptimeCommand},
		{Name: "tps", Aliases: []string{"fps"}, Help: "Show ticks per second", Handler: tpsCommand},
		{Name: "echo", Help: "Print a message", Usage: "echo <message>", Handler: echoCommand},
		{Name: "quit", Aliases: []string{"exit", "q"}, Help: "Stop the host", Handler: quitCommand},
	} {
		if err := r.Register(entry); err != nil {
			panic(err) // builtin table is static
		}
	}
	return r
}

func helpCommand(exec *CommandExecution) CommandOutput {
	if len(exec.Args) > 0 {
		entry, ok := exec.Registry.Get(exec.Args[0])
		if !ok {
			return CommandOutput{Lines: []string{fmt.Sprintf("no such command: %s", exec.Args[0])}}
		}
		usage := entry.Usage
		if usage == "" {
			usage = entry.Name
		}
		lines := []string{"usage: " + usage, entry.Help}
		if len(entry.Aliases) > 0 {
			lines = append(lines, "aliases: "+strings.Join(entry.Aliases, ", "))
		}
		return CommandOutput{Lines: lines}
	}

	entries := exec.Registry.All()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("  %s - %s", e.Name, e.Help))
	}
	return CommandOutput{Lines: lines}
}

func statusCommand(exec *CommandExecution) CommandOutput {
	snap := exec.State.Snapshot(exec.Now)
	module := "none"
	if snap.ActiveModule != nil {
		module = fmt.Sprintf("%s (%s)", snap.ActiveModule.ID, snap.ActiveModule.Title)
	}
	return CommandOutput{Lines: []string{
		"status: " + snap.StatusLine,
		"module: " + module,
		"uptime: " + formatUptime(exec.State.Uptime(exec.Now)),
		fmt.Sprintf("tps: %.1f", snap.TPS),
	}}
}

func uptimeCommand(exec *CommandExecution) CommandOutput {
	return CommandOutput{Lines: []string{"Uptime: " + formatUptime(exec.State.Uptime(exec.Now))}}
}

func tpsCommand(exec *CommandExecution) CommandOutput {
	return CommandOutput{Lines: []string{fmt.Sprintf("TPS: %.1f", exec.State.TPS())}}
}

func echoCommand(exec *CommandExecution) CommandOutput {
	return CommandOutput{Lines: []string{strings.Join(exec.Args, " ")}}
}

func quitCommand(_ *CommandExecution) CommandOutput {
	return CommandOutput{Quit: true}
}

func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
