package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/danielolaszy/autopr/internal/config"
)

// gatherContext collects existing file content to send along with the issue.
// It is best-effort: listing or read failures only reduce the context.
func gatherContext(ctx context.Context, log *slog.Logger, sc SourceControl, opts config.OptionsConfig, body, ref string) map[string]string {
	if opts.ContextMaxFiles <= 0 || opts.ContextMaxBytes <= 0 {
		return nil
	}
	if len(opts.ContextGlobs) == 0 && strings.TrimSpace(body) == "" {
		return nil
	}

	paths, err := sc.ListFiles(ctx, ref)
	if err != nil {
		log.Warn("failed to list repository files for context", "ref", ref, "error", err)
		return nil
	}

	selected := SelectContextFiles(paths, body, opts.ContextGlobs, opts.ContextMaxFiles)
	if len(selected) == 0 {
		return nil
	}

	files := make(map[string]string, len(selected))
	total := 0
	for _, p := range selected {
		content, err := sc.GetFileContent(ctx, p, ref)
		if err != nil {
			log.Warn("failed to read context file", "path", p, "error", err)
			continue
		}
		if content == "" || total+len(content) > opts.ContextMaxBytes {
			continue
		}
		files[p] = content
		total += len(content)
	}

	log.Debug("collected code context", "files", len(files), "bytes", total)
	return files
}

// SelectContextFiles picks at most limit paths: first those mentioned in the
// issue body, then those matching any of the doublestar patterns, each group
// in repository order.
func SelectContextFiles(paths []string, body string, patterns []string, limit int) []string {
	var selected []string
	picked := make(map[string]bool)

	add := func(p string) bool {
		if picked[p] {
			return true
		}
		if len(selected) >= limit {
			return false
		}
		picked[p] = true
		selected = append(selected, p)
		return true
	}

	for _, p := range paths {
		if mentionsPath(body, p) && !add(p) {
			return selected
		}
	}

	for _, p := range paths {
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(pattern, p); err == nil && ok {
				if !add(p) {
					return selected
				}
				break
			}
		}
	}

	return selected
}

// mentionsPath reports whether body contains p as a standalone token.
func mentionsPath(body, p string) bool {
	if p == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(body[start:], p)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(p)
		if (i == 0 || !isPathByte(body[i-1])) && endsToken(body, end) {
			return true
		}
		start = i + 1
	}
}

// endsToken reports whether a token ending at end is complete. A single
// trailing period is treated as punctuation.
func endsToken(body string, end int) bool {
	if end == len(body) || !isPathByte(body[end]) {
		return true
	}
	return body[end] == '.' && (end+1 == len(body) || !isPathByte(body[end+1]))
}

func isPathByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-' || b == '/' || b == '.':
		return true
	}
	return false
}
