// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default context limits.
const (
	DefaultMaxFileSize  = 100 * 1024
	DefaultMaxTotalSize = 500 * 1024
	DefaultRadius       = 10
)

// rootMarkers identify a workspace root, checked in order.
var rootMarkers = []string{".git", "go.mod", "package.json", ".codepilot"}

// Root walks up from start to the first directory holding a root marker.
// It returns the absolute form of start when none is found.
func Root(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		return start
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	for dir := abs; ; {
		for _, m := range rootMarkers {
			if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs
		}
		dir = parent
	}
}

// Limits bound the size of rendered file context.
type Limits struct {
	MaxFileSize  int64
	MaxTotalSize int64
}

// DefaultLimits returns the default context limits.
func DefaultLimits() Limits {
	return Limits{MaxFileSize: DefaultMaxFileSize, MaxTotalSize: DefaultMaxTotalSize}
}

func (l Limits) withDefaults() Limits {
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = DefaultMaxFileSize
	}
	if l.MaxTotalSize <= 0 {
		l.MaxTotalSize = DefaultMaxTotalSize
	}
	return l
}

// FileContext renders files as a context block. Paths are resolved against
// root and shown relative to it. Files that are too large or unreadable are
// replaced by a one-line note; once the total budget is spent the remaining
// files are listed as omitted.
func FileContext(root string, files []string, limits Limits) string {
	if len(files) == 0 {
		return "No context files selected."
	}
	limits = limits.withDefaults()

	var b strings.Builder
	fmt.Fprintf(&b, "Including %d files as context:\n\n", len(files))

	var total int64
	for _, f := range files {
		abs := f
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(root, f)
		}
		rel := relPath(root, abs)

		info, err := os.Stat(abs)
		if err != nil {
			fmt.Fprintf(&b, "Error reading %s: %v\n\n", rel, err)
			continue
		}
		if info.IsDir() {
			fmt.Fprintf(&b, "Error reading %s: is a directory\n\n", rel)
			continue
		}
		if info.Size() > limits.MaxFileSize {
			fmt.Fprintf(&b, "File %s is too large (%dKB).\n\n", rel, (info.Size()+512)/1024)
			continue
		}
		if total+info.Size() > limits.MaxTotalSize {
			fmt.Fprintf(&b, "File %s omitted: context size limit reached.\n\n", rel)
			continue
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			fmt.Fprintf(&b, "Error reading %s: %v\n\n", rel, err)
			continue
		}
		total += int64(len(data))

		fmt.Fprintf(&b, "--- File: %s ---\n\n", rel)
		b.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func relPath(root, abs string) string {
	if root == "" {
		return filepath.ToSlash(abs)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// splitLines splits content into lines without their terminators. Empty
// content has no lines.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Surrounding returns the lines within radius of line (zero-based), with
// the cursor line marked by "> " and the others indented by two spaces.
// The header names the one-based line range shown.
func Surrounding(content string, line, radius int) string {
	lines := splitLines(content)
	if len(lines) == 0 {
		return ""
	}
	if radius < 0 {
		radius = DefaultRadius
	}
	line = clamp(line, 0, len(lines)-1)
	start := clamp(line-radius, 0, len(lines)-1)
	end := clamp(line+radius, 0, len(lines)-1)

	var b strings.Builder
	fmt.Fprintf(&b, "Surrounding code (lines %d-%d):\n", start+1, end+1)
	for i := start; i <= end; i++ {
		if i == line {
			b.WriteString("> ")
		} else {
			b.WriteString("  ")
		}
		b.WriteString(lines[i])
		b.WriteByte('\n')
	}
	return b.String()
}

// Selection returns lines start through end inclusive (one-based). Out of
// range bounds are clamped; an inverted range yields "".
func Selection(content string, start, end int) string {
	lines := splitLines(content)
	if len(lines) == 0 || end < start {
		return ""
	}
	start = clamp(start, 1, len(lines))
	end = clamp(end, 1, len(lines))
	return strings.Join(lines[start-1:end], "\n")
}

// Before returns up to n lines ending at line (zero-based, inclusive).
func Before(content string, line, n int) string {
	lines := splitLines(content)
	if len(lines) == 0 || n <= 0 {
		return ""
	}
	line = clamp(line, 0, len(lines)-1)
	start := clamp(line-n+1, 0, line)
	return strings.Join(lines[start:line+1], "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var languages = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescriptreact",
	".js":    "javascript",
	".jsx":   "javascriptreact",
	".py":    "python",
	".java":  "java",
	".kt":    "kotlin",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".sh":    "shellscript",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
	".html":  "html",
	".css":   "css",
	".sql":   "sql",
}

// LanguageFor maps a file name to a language id, or "plaintext".
func LanguageFor(path string) string {
	if lang, ok := languages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "plaintext"
}

// Describe renders a short header for a single file: its name, language,
// path and line count.
func Describe(path, content string) string {
	return fmt.Sprintf("File: %s\nLanguage: %s\nPath: %s\nLines: %d\n",
		filepath.Base(path), LanguageFor(path), filepath.ToSlash(path), len(splitLines(content)))
}
