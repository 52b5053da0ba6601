// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assistant

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/codepilot/internal/ollama"
	"github.com/jeranaias/codepilot/internal/util"
	"github.com/jeranaias/codepilot/internal/workspace"
)

// Inline completion parameters.
const (
	completionLines     = 20
	completionMaxPrefix = 500
	completionMinLine   = 3
	completionMaxTokens = 100
)

// ErrCompletionBusy is returned while another completion is in flight.
var ErrCompletionBusy = errors.New("completion already in progress")

// Complete suggests a continuation for prefix, the file content up to the
// cursor. It returns "" without contacting the server when the cursor line
// is too short or is a comment.
func (a *Assistant) Complete(ctx context.Context, prefix, fileName string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(prefix, "\r\n", "\n"), "\n")
	current := lines[len(lines)-1]
	if !worthCompleting(current) {
		return "", nil
	}

	if !a.completing.TryLock() {
		return "", ErrCompletionBusy
	}
	defer a.completing.Unlock()

	block := workspace.Before(prefix, len(lines)-1, completionLines+1)
	block = tailRunes(block, completionMaxPrefix)

	req := ollama.GenerateRequest{
		Model:  a.Model(),
		Prompt: completionPrompt(filepath.Base(fileName), block),
		Options: &ollama.Options{
			Temperature: ollama.Float(0.1),
			TopP:        ollama.Float(0.95),
			NumPredict:  ollama.Int(completionMaxTokens),
		},
	}
	resp, err := a.llm.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	out := CleanCompletion(resp.Response)
	a.log.Debug("completion",
		zap.String("file", fileName),
		zap.Int("prefix_len", len(block)),
		zap.String("suggestion", util.TruncateRunes(util.FirstLine(out), 60)))
	return out, nil
}

func worthCompleting(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len([]rune(trimmed)) < completionMinLine {
		return false
	}
	return !strings.HasPrefix(trimmed, "//") && !strings.HasPrefix(trimmed, "/*")
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func completionPrompt(file, code string) string {
	return fmt.Sprintf("Complete the following code. Continue exactly from where the code ends without repeating anything.\n"+
		"Respond ONLY with the continuation code - no backticks, no markdown formatting, no explanations.\n\n"+
		"File: %s\n\nCode:\n%s", file, code)
}

var (
	fenceOpen  = regexp.MustCompile("(?m)^```[\\w+-]*\\n")
	fenceClose = regexp.MustCompile("(?m)```$")
)

var preambles = []string{
	"Here's the continuation of the code:",
	"Here's the completion:",
	"Sure, here's the completion:",
	"Continuing your code:",
	"Here's how the code continues:",
}

// CleanCompletion strips markdown fences, a leading backtick and chatty
// preambles from a model's completion.
func CleanCompletion(text string) string {
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	text = strings.TrimPrefix(text, "`")
	for _, p := range preambles {
		if strings.HasPrefix(text, p) {
			text = strings.TrimSpace(strings.TrimPrefix(text, p))
		}
	}
	return strings.TrimRight(text, "\n")
}
