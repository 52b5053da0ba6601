// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat.
//
// Interactive Commands:
//   /help              Show available commands
//   /new               Start a new chat
//   /chats             List chats
//   /switch ID         Continue another chat
//   /rename TITLE      Rename the current chat
//   /delete [ID]       Delete a chat (default: current)
//   /search QUERY      Search chats
//   /export [FORMAT]   Print the current chat (md, json, yaml)
//   /model [NAME]      Show or switch model
//   /models            List installed models
//   /template [ID]     Show or switch prompt template
//   /context [FILES]   Show, set or clear (/context clear) context files
//   /quit              Exit
//   Ctrl+C             Stop the current answer
//   Ctrl+D             Exit

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/codepilot/internal/assistant"
	"github.com/jeranaias/codepilot/internal/config"
	"github.com/jeranaias/codepilot/internal/storage"
	"github.com/jeranaias/codepilot/internal/util"
)

func newChatCmd(g *globalOptions) *cobra.Command {
	var files []string
	var fresh bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in this workspace",
		Long: "Opens a chat REPL on the workspace's current chat. Type /help for commands. " +
			"Ctrl+C stops an answer in progress; Ctrl+D exits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(g, true, func(app *App) error {
				in := newLineReader(cmd.InOrStdin(), cmd.OutOrStdout())
				defer in.Close()

				r := &repl{app: app, a: app.NewAssistant(), in: in, out: cmd.OutOrStdout()}
				if len(files) > 0 {
					r.a.SetContextFiles(files)
				}
				if fresh {
					if _, err := r.newChat(); err != nil {
						return err
					}
				}
				return r.loop(cmd.Context())
			})
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "include a file as context (repeatable)")
	cmd.Flags().BoolVar(&fresh, "new", false, "start a new chat")
	return cmd
}

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of input per prompt. It returns io.EOF at end
// of input and liner.ErrPromptAborted when Ctrl+C is pressed at the prompt.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// newLineReader uses liner with persistent history on a terminal and a
// plain scanner otherwise.
func newLineReader(in io.Reader, out io.Writer) lineReader {
	if f, ok := in.(*os.File); ok && f == os.Stdin && IsTTY() {
		return newLinerReader()
	}
	return &scanReader{scanner: bufio.NewScanner(in), out: out}
}

// linerReader provides arrow-key history and line editing.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &linerReader{line: line, historyFile: filepath.Join(dir, "input_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the input history, owner-readable only, and restores the
// terminal.
func (r *linerReader) Close() error {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	return r.line.Close()
}

// scanReader reads lines from a non-terminal input.
type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (r *scanReader) Prompt(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scanReader) Close() error { return nil }

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	app *App
	a   *assistant.Assistant
	in  lineReader
	out io.Writer
}

func (r *repl) loop(ctx context.Context) error {
	r.welcome()
	prompt := Render(PromptStyle, "you> ")

	for {
		line, err := r.in.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(r.out, Render(DimStyle, "(type /quit or press Ctrl+D to exit)"))
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, Render(ErrorStyle, "Error: ")+err.Error())
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.ask(ctx, line); err != nil && !errors.Is(err, errCancelled) {
			fmt.Fprintln(r.out, Render(ErrorStyle, "Error: ")+err.Error())
		}
	}
}

func (r *repl) welcome() {
	fmt.Fprintln(r.out, Render(TitleStyle, "codepilot chat"))
	fmt.Fprintf(r.out, "%s%s\n", RenderLabel("Model"), r.a.Model())
	fmt.Fprintf(r.out, "%s%s\n", RenderLabel("Workspace"), r.a.WorkspaceRoot())
	if chat, ok := r.a.CurrentChat(); ok {
		fmt.Fprintf(r.out, "%s%s (%d messages)\n", RenderLabel("Chat"), chat.Title, chat.MessageCount())
	}
	fmt.Fprintln(r.out, Render(DimStyle, "Type /help for commands."))
	fmt.Fprintln(r.out)
}

func (r *repl) ask(ctx context.Context, question string) error {
	fmt.Fprint(r.out, Render(PromptStyle, "codepilot> "))
	return run(ctx, r.out, func(ctx context.Context, sink assistant.Sink) (string, error) {
		return r.a.Ask(ctx, assistant.AskRequest{Question: question}, sink)
	})
}

func (r *repl) newChat() (string, error) {
	return r.a.NewChat()
}

// command runs a slash command. It reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	store := r.app.Store

	switch strings.ToLower(name) {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/h", "/?":
		r.help()

	case "/new":
		id, err := r.newChat()
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Started chat "+util.TruncateRunes(id, 8))

	case "/chats", "/list":
		fmt.Fprintln(r.out, strings.TrimRight(storage.FormatChatList(store.List(), r.a.CurrentChatID()), "\n"))

	case "/switch":
		id, err := resolveChatID(store, arg)
		if err != nil {
			return false, err
		}
		r.a.SelectChat(id)
		chat, _ := store.Chat(id)
		fmt.Fprintf(r.out, "Switched to %q (%d messages)\n", chat.Title, chat.MessageCount())

	case "/rename":
		id := r.a.CurrentChatID()
		if id == "" {
			return false, errors.New("no current chat")
		}
		if !store.RenameChat(id, arg) {
			return false, errors.New("usage: /rename TITLE")
		}
		fmt.Fprintln(r.out, "Renamed to "+arg)

	case "/delete":
		id := r.a.CurrentChatID()
		if arg != "" {
			var err error
			if id, err = resolveChatID(store, arg); err != nil {
				return false, err
			}
		}
		if id == "" || !store.DeleteChat(id) {
			return false, errors.New("nothing to delete")
		}
		fmt.Fprintln(r.out, "Deleted "+util.TruncateRunes(id, 8))

	case "/search":
		hits := store.Search(arg)
		if len(hits) == 0 {
			fmt.Fprintln(r.out, "No matches.")
		}
		for _, h := range hits {
			fmt.Fprintf(r.out, "%s  %s (%d)\n", util.TruncateRunes(h.ChatID, 8), h.Title, h.Matches)
		}

	case "/export":
		chat, ok := r.a.CurrentChat()
		if !ok {
			return false, errors.New("no current chat")
		}
		data, err := chat.Export(arg)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, strings.TrimRight(string(data), "\n"))

	case "/model":
		if arg == "" {
			fmt.Fprintln(r.out, "Model: "+r.a.Model())
			break
		}
		if err := r.a.SelectModel(arg); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Model set to "+arg)

	case "/models":
		names, err := r.a.Models(ctx)
		if err != nil {
			return false, err
		}
		for _, n := range names {
			fmt.Fprintln(r.out, "  "+n)
		}

	case "/template":
		if arg == "" {
			fmt.Fprintln(r.out, "Template: "+r.a.Template())
			for _, t := range r.a.Templates().ChatTemplates() {
				fmt.Fprintf(r.out, "  %s %s\n", RenderLabel(t.ID), Render(DimStyle, t.Name))
			}
			break
		}
		if err := r.a.SetTemplate(arg); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Template set to "+arg)

	case "/context":
		switch arg {
		case "":
			files := r.a.ContextFiles()
			if len(files) == 0 {
				fmt.Fprintln(r.out, "No context files.")
			}
			for _, f := range files {
				fmt.Fprintln(r.out, "  "+f)
			}
		case "clear":
			r.a.SetContextFiles(nil)
			fmt.Fprintln(r.out, "Context cleared.")
		default:
			files := strings.Fields(arg)
			r.a.SetContextFiles(files)
			fmt.Fprintf(r.out, "Using %d context files.\n", len(files))
		}

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

var chatCommands = [][2]string{
	{"/new", "Start a new chat"},
	{"/chats", "List chats"},
	{"/switch ID", "Continue another chat"},
	{"/rename TITLE", "Rename the current chat"},
	{"/delete [ID]", "Delete a chat"},
	{"/search QUERY", "Search chats"},
	{"/export [FORMAT]", "Print the current chat (md, json, yaml)"},
	{"/model [NAME]", "Show or switch model"},
	{"/models", "List installed models"},
	{"/template [ID]", "Show or switch prompt template"},
	{"/context [FILES]", "Show, set or clear context files"},
	{"/quit", "Exit"},
}

func (r *repl) help() {
	for _, c := range chatCommands {
		fmt.Fprintf(r.out, "  %s %s\n", Render(CommandStyle, fmt.Sprintf("%-18s", c[0])), c[1])
	}
	fmt.Fprintln(r.out, Render(DimStyle, "  Ctrl+C stops an answer, Ctrl+D exits."))
}
