// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	keyFiles   = []string{"go.mod", "package.json", "tsconfig.json", "Cargo.toml", "pyproject.toml", ".gitignore", "README.md"}
	ignoreDirs = map[string]bool{
		"node_modules": true, ".git": true, ".vscode": true, ".idea": true,
		"dist": true, "out": true, "vendor": true, "target": true,
	}
)

const (
	summaryDepth    = 2
	summaryMaxFiles = 5
)

// Ignored reports whether a directory name is skipped when summarizing or
// watching a workspace.
func Ignored(name string) bool {
	return ignoreDirs[name]
}

// Summary describes the workspace at root: its key project files and a
// shallow directory tree showing a few files per directory.
func Summary(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace root %s is not a directory", root)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Workspace: %s\nRoot path: %s\n\n", filepath.Base(root), root)

	var found []string
	for _, f := range keyFiles {
		if _, err := os.Stat(filepath.Join(root, f)); err == nil {
			found = append(found, "- "+f)
		}
	}
	if len(found) > 0 {
		fmt.Fprintf(&b, "Key project files:\n%s\n\n", strings.Join(found, "\n"))
	}

	b.WriteString("Project structure summary:\n")
	tree(&b, root, 0)
	return b.String(), nil
}

func tree(b *strings.Builder, dir string, depth int) {
	if depth > summaryDepth {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var dirs, files []string
	for _, e := range entries {
		switch {
		case e.IsDir():
			if !Ignored(e.Name()) {
				dirs = append(dirs, e.Name())
			}
		case e.Type().IsRegular():
			files = append(files, e.Name())
		}
	}
	sort.Strings(dirs)
	sort.Strings(files)

	indent := strings.Repeat("  ", depth)
	for _, d := range dirs {
		fmt.Fprintf(b, "%s- %s/\n", indent, d)
		tree(b, filepath.Join(dir, d), depth+1)
	}
	for i, f := range files {
		if i == summaryMaxFiles {
			fmt.Fprintf(b, "%s- ... (%d more files)\n", indent, len(files)-summaryMaxFiles)
			break
		}
		fmt.Fprintf(b, "%s- %s\n", indent, f)
	}
}
