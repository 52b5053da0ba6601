// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/codepilot/internal/storage"
)

// =============================================================================
// FAKE OLLAMA
// =============================================================================

// fakeOllama serves the parts of the Ollama API the CLI uses.
type fakeOllama struct {
	mu      sync.Mutex
	prompts []string
	chunks  []string
	oneShot string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/":
		fmt.Fprint(w, "Ollama is running")
	case "/api/tags":
		fmt.Fprint(w, `{"models":[{"name":"gemma3:1b"},{"name":"llama3.2"}]}`)
	case "/api/generate":
		var req struct {
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.prompts = append(f.prompts, req.Prompt)
		f.mu.Unlock()

		if !req.Stream {
			json.NewEncoder(w).Encode(map[string]any{"response": f.oneShot, "done": true})
			return
		}
		enc := json.NewEncoder(w)
		for _, c := range f.chunks {
			enc.Encode(map[string]any{"response": c, "done": false})
		}
		enc.Encode(map[string]any{"response": "", "done": true})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// =============================================================================
// TEST ENVIRONMENT
// =============================================================================

type cliEnv struct {
	t      *testing.T
	ollama *fakeOllama
	url    string
	home   string
	ws     string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	ForceColorsEnabled(false)

	fake := &fakeOllama{chunks: []string{"Hello", " world"}, oneShot: `("hi")`}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	home := t.TempDir()
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "go.mod"), []byte("module example.com/demo\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CODEPILOT_HOME", home)
	t.Setenv("CODEPILOT_OLLAMA_URL", srv.URL)
	for _, name := range []string{"CODEPILOT_MODEL", "CODEPILOT_TEMPLATE", "CODEPILOT_HISTORY_DIR", "CODEPILOT_STORAGE_BACKEND"} {
		t.Setenv(name, "")
	}
	t.Setenv("CODEPILOT_LOG_LEVEL", "error")

	return &cliEnv{t: t, ollama: fake, url: srv.URL, home: home, ws: ws}
}

// run executes the root command with args inside the test workspace.
func (e *cliEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--workspace", e.ws}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run("", args...)
	if err != nil {
		e.t.Fatalf("%v failed: %v\noutput:\n%s", args, err, out)
	}
	return out
}

func (e *cliEnv) writeFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.ws, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		e.t.Fatal(err)
	}
	return path
}

// =============================================================================
// ROOT
// =============================================================================

func TestVersionCmd(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(buf.String(), "codepilot dev") {
		t.Errorf("expected version output, got: %s", buf.String())
	}
}

func TestExecute_ExitCodes(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)

	if code := execute(cmd, []string{"no-such-command"}); code != 1 {
		t.Errorf("unknown command exit code = %d, want 1", code)
	}
	if !strings.Contains(buf.String(), "Error:") {
		t.Errorf("expected error output, got: %s", buf.String())
	}
}

// =============================================================================
// ASK AND CODE ACTIONS
// =============================================================================

func TestAsk_StreamsAndRecords(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("ask", "what", "is", "a", "goroutine?")
	if !strings.Contains(out, "Hello world") {
		t.Errorf("expected streamed answer, got: %s", out)
	}
	if !strings.Contains(env.ollama.lastPrompt(), "what is a goroutine?") {
		t.Errorf("prompt missing question: %q", env.ollama.lastPrompt())
	}

	list := env.mustRun("history", "--here")
	if !strings.Contains(list, "what is a goroutine?") {
		t.Errorf("history should list the chat titled by the question, got: %s", list)
	}

	show := env.mustRun("history", "show")
	for _, want := range []string{"what is a goroutine?", "Hello world"} {
		if !strings.Contains(show, want) {
			t.Errorf("history show missing %q:\n%s", want, show)
		}
	}
}

func TestAsk_FromStdin(t *testing.T) {
	env := newCLIEnv(t)

	if _, err := env.run("explain channels\n", "ask"); err != nil {
		t.Fatalf("ask from stdin failed: %v", err)
	}
	if !strings.Contains(env.ollama.lastPrompt(), "explain channels") {
		t.Errorf("prompt missing stdin question: %q", env.ollama.lastPrompt())
	}
}

func TestAsk_EmptyQuestion(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.run("   ", "ask"); err == nil {
		t.Error("expected error for blank question")
	}
}

func TestAsk_FileContext(t *testing.T) {
	env := newCLIEnv(t)
	env.writeFile("notes.txt", "the build fails on arm64\n")

	env.mustRun("ask", "--template", "debug_help", "-f", "notes.txt", "why?")
	prompt := env.ollama.lastPrompt()
	for _, want := range []string{"--- File: notes.txt ---", "the build fails on arm64", "why?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestAsk_WorkspaceSummary(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun("ask", "--template", "code_generation", "--summary", "add a main package")
	prompt := env.ollama.lastPrompt()
	for _, want := range []string{"Key project files:", "- go.mod", "add a main package"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestActionCmd_Lines(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeFile("main.go", "package main\n\nfunc add(a, b int) int {\n\treturn a + b\n}\n")

	out := env.mustRun("explain", path, "--lines", "3-5")
	if !strings.Contains(out, "Hello world") {
		t.Errorf("expected answer, got: %s", out)
	}

	prompt := env.ollama.lastPrompt()
	for _, want := range []string{"Language: go", "func add(a, b int) int {", "Surrounding code (lines 1-5)"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	show := env.mustRun("history", "show")
	if !strings.Contains(show, "Explain Code") {
		t.Errorf("code action should be recorded, got:\n%s", show)
	}
}

func TestActionCmd_Stdin(t *testing.T) {
	env := newCLIEnv(t)
	if _, err := env.run("x := 1\n", "document", "-"); err != nil {
		t.Fatalf("document from stdin failed: %v", err)
	}
	if !strings.Contains(env.ollama.lastPrompt(), "x := 1") {
		t.Errorf("prompt missing code: %q", env.ollama.lastPrompt())
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in         string
		start, end int
		wantErr    bool
	}{
		{"5", 5, 5, false},
		{"3-9", 3, 9, false},
		{" 2 - 4 ", 2, 4, false},
		{"0", 0, 0, true},
		{"9-3", 0, 0, true},
		{"a-b", 0, 0, true},
	}
	for _, tt := range tests {
		start, end, err := parseRange(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRange(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if start != tt.start || end != tt.end {
			t.Errorf("parseRange(%q) = %d, %d, want %d, %d", tt.in, start, end, tt.start, tt.end)
		}
	}
}

func TestComplete(t *testing.T) {
	env := newCLIEnv(t)
	path := env.writeFile("main.go", "package main\n\nfunc main() {\n\tfmt.Println\n}\n")

	out := env.mustRun("complete", path, "--line", "4")
	if strings.TrimSpace(out) != `("hi")` {
		t.Errorf("completion = %q", out)
	}
	if !strings.Contains(env.ollama.lastPrompt(), "fmt.Println") {
		t.Errorf("prompt missing prefix: %q", env.ollama.lastPrompt())
	}
}

// =============================================================================
// MODELS, TEMPLATES AND CONFIG
// =============================================================================

func TestModels(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("models")
	if !strings.Contains(out, "* gemma3:1b") || !strings.Contains(out, "  llama3.2") {
		t.Errorf("unexpected models output:\n%s", out)
	}

	env.mustRun("models", "use", "llama3.2")
	if got := strings.TrimSpace(env.mustRun("config", "get", "ollama.model")); got != "llama3.2" {
		t.Errorf("saved model = %q, want llama3.2", got)
	}
	data, err := os.ReadFile(filepath.Join(env.home, "config.toml"))
	if err != nil {
		t.Fatalf("config.toml not written: %v", err)
	}
	if strings.Contains(string(data), env.url) {
		t.Errorf("environment override was saved to the file:\n%s", data)
	}
	if !strings.Contains(string(data), `url = "http://localhost:11434"`) {
		t.Errorf("ollama.url should keep its default in the file:\n%s", data)
	}
}

func TestModelFlagOverrides(t *testing.T) {
	env := newCLIEnv(t)
	out := env.mustRun("--model", "llama3.2", "status")
	if !strings.Contains(out, "llama3.2") {
		t.Errorf("status should show the flag model, got:\n%s", out)
	}
	if !strings.Contains(out, "[OK]") {
		t.Errorf("status should report Ollama up, got:\n%s", out)
	}
}

func TestTemplates(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("templates")
	if !strings.Contains(out, "* general_coding") || strings.Contains(out, "explain_code") {
		t.Errorf("unexpected templates output:\n%s", out)
	}
	if all := env.mustRun("templates", "--all"); !strings.Contains(all, "explain_code") {
		t.Errorf("--all should list code action templates:\n%s", all)
	}
}

func TestConfigCommands(t *testing.T) {
	env := newCLIEnv(t)

	path := strings.TrimSpace(env.mustRun("config", "path"))
	if path != filepath.Join(env.home, "config.toml") {
		t.Errorf("config path = %q", path)
	}

	env.mustRun("config", "init")
	if _, err := env.run("", "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}

	env.mustRun("config", "set", "generation.temperature", "0.2")
	if got := strings.TrimSpace(env.mustRun("config", "get", "generation.temperature")); got != "0.2" {
		t.Errorf("temperature = %q, want 0.2", got)
	}

	if _, err := env.run("", "config", "set", "generation.temperature", "9"); err == nil {
		t.Error("out of range temperature should be rejected")
	}
	if _, err := env.run("", "config", "set", "nope.key", "1"); err == nil {
		t.Error("unknown key should be rejected")
	}

	if out := env.mustRun("config", "validate"); !strings.Contains(out, "[OK]") {
		t.Errorf("validate output = %q", out)
	}
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistoryLifecycle(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("ask", "first question")
	env.mustRun("ask", "--new", "second question")

	store := openStore(t, env)
	chats := store.List()
	store.Close()
	if len(chats) != 2 {
		t.Fatalf("expected 2 chats, got %d", len(chats))
	}
	var older string
	for _, c := range chats {
		if c.Title == "first question" {
			older = c.ID
		}
	}
	if older == "" {
		t.Fatalf("first chat not found in %+v", chats)
	}

	if out := env.mustRun("history", "show"); !strings.Contains(out, "second question") {
		t.Errorf("the new chat should stay current between runs:\n%s", out)
	}

	env.mustRun("history", "rename", older[:8], "Renamed", "chat")
	if out := env.mustRun("history"); !strings.Contains(out, "Renamed chat") {
		t.Errorf("rename not visible:\n%s", out)
	}

	if out := env.mustRun("history", "search", "SECOND"); !strings.Contains(out, "second question") {
		t.Errorf("search output:\n%s", out)
	}

	exported := env.mustRun("history", "export", older, "--format", "json")
	var chat storage.Chat
	if err := json.Unmarshal([]byte(exported), &chat); err != nil {
		t.Fatalf("export is not JSON: %v\n%s", err, exported)
	}
	if chat.Title != "Renamed chat" || len(chat.Messages) != 2 {
		t.Errorf("exported chat = %+v", chat)
	}

	outFile := filepath.Join(t.TempDir(), "chat.md")
	env.mustRun("history", "export", older, "-o", outFile)
	if data, err := os.ReadFile(outFile); err != nil || !strings.HasPrefix(string(data), "# Renamed chat") {
		t.Errorf("export file = %q, %v", data, err)
	}

	env.mustRun("history", "select", older)
	if out := env.mustRun("history", "show"); !strings.Contains(out, "first question") {
		t.Errorf("select did not change current chat:\n%s", out)
	}

	env.mustRun("history", "delete", older)
	if _, err := env.run("", "history", "show", older); err == nil {
		t.Error("deleted chat should not be found")
	}

	if _, err := env.run("", "history", "clear"); err == nil {
		t.Error("clear without --yes should fail")
	}
	env.mustRun("history", "clear", "--yes")
	if out := env.mustRun("history"); !strings.Contains(out, "No chats found.") {
		t.Errorf("history not cleared:\n%s", out)
	}
}

func TestResolveChatID(t *testing.T) {
	env := newCLIEnv(t)
	store := openStore(t, env)
	defer store.Close()

	id, _ := store.CreateChat("")
	if got, err := resolveChatID(store, id[:6]); err != nil || got != id {
		t.Errorf("resolveChatID(prefix) = %q, %v", got, err)
	}
	if _, err := resolveChatID(store, "zzzz"); !errors.Is(err, storage.ErrChatNotFound) {
		t.Errorf("unknown id error = %v", err)
	}
	if _, err := resolveChatID(store, " "); err == nil {
		t.Error("blank id should fail")
	}
}

func openStore(t *testing.T, env *cliEnv) *storage.Store {
	t.Helper()
	backend, err := storage.OpenBackend(storage.BackendFile, filepath.Join(env.home, "history"))
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewStore(backend, storage.Options{})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// =============================================================================
// CHAT REPL
// =============================================================================

func TestChatREPL(t *testing.T) {
	env := newCLIEnv(t)

	input := strings.Join([]string{
		"/help",
		"hello there",
		"/rename Greeting",
		"/chats",
		"/template debug_help",
		"/template explain_code",
		"/context go.mod",
		"/context",
		"/export",
		"/bogus",
		"/quit",
	}, "\n") + "\n"

	out, err := env.run(input, "chat")
	if err != nil {
		t.Fatalf("chat failed: %v\n%s", err, out)
	}

	for _, want := range []string{
		"codepilot chat",
		"/switch ID",
		"Hello world",
		"Renamed to Greeting",
		"Template set to debug_help",
		"Using 1 context files.",
		"  go.mod",
		"# Greeting",
		"unknown command /bogus",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("chat output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Template set to explain_code") {
		t.Error("code action template must not be selectable for chat")
	}
}

func TestChatREPL_EOFExits(t *testing.T) {
	env := newCLIEnv(t)
	if out, err := env.run("", "chat", "--new"); err != nil {
		t.Fatalf("chat on empty input failed: %v\n%s", err, out)
	}
}

// =============================================================================
// TERMINAL HELPERS
// =============================================================================

func TestWrapText(t *testing.T) {
	got := WrapText("one two three four five", 12)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 10 {
			t.Errorf("line %q exceeds width", line)
		}
	}

	fenced := "```\nthis line is long and must stay intact\n```"
	if WrapText(fenced, 12) != fenced {
		t.Errorf("fenced code should not wrap: %q", WrapText(fenced, 12))
	}
}

func TestRenderMarkdown_PlainWhenNotATerminal(t *testing.T) {
	ForceColorsEnabled(true)
	t.Cleanup(func() { ForceColorsEnabled(false) })

	md := "# Chat\n\n**User:** hello there\n"
	if got := RenderMarkdown(new(bytes.Buffer), md); got != WrapText(md, 0) {
		t.Errorf("piped output should be the wrapped source, got:\n%s", got)
	}
}

func TestStyleMarkdown(t *testing.T) {
	out, err := styleMarkdown("# Chat\n\n**User:** hello there\n", 60, glamour.WithStandardStyle("notty"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "Chat") || !strings.Contains(out, "hello there") {
		t.Errorf("rendered output lost content:\n%s", out)
	}
}
