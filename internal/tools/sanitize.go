package tools

import (
	"path/filepath"
	"regexp"
	"strings"
)

// injectionPatterns are prompt-injection markers removed from every string
// value before a handler sees it.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(prior|previous)\s+instructions`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+a\s+`),
	regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)\s+`),
	regexp.MustCompile(`(?i)</?\s*(system|assistant|user)\s*>`),
	regexp.MustCompile(`(?i)\[/?(system|assistant|user)\]`),
	regexp.MustCompile(`(?i)<\|(system|assistant|user|im_start|im_end)\|>`),
}

// pathKeys mark values that are clamped against traversal.
var pathKeys = map[string]bool{
	"path":      true,
	"file_path": true,
	"directory": true,
	"target":    true,
}

// Sanitizer strips prompt-injection markers from string inputs and contains
// path-like values inside the workspace. Sanitisation is idempotent.
type Sanitizer struct {
	workspace string
}

// NewSanitizer creates a sanitizer. An empty workspace disables path
// clamping (traversal segments are still collapsed).
func NewSanitizer(workspace string) *Sanitizer {
	if workspace != "" {
		workspace = filepath.Clean(workspace)
	}
	return &Sanitizer{workspace: workspace}
}

// Sanitize walks the input structure recursively and returns a cleaned copy.
// Non-string scalars pass through untouched.
func (s *Sanitizer) Sanitize(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = s.sanitizeValue(key, value)
	}
	return out
}

func (s *Sanitizer) sanitizeValue(key string, value any) any {
	switch v := value.(type) {
	case string:
		cleaned := s.CleanText(v)
		if pathKeys[key] {
			cleaned = s.cleanPath(cleaned)
		}
		return cleaned
	case map[string]any:
		return s.Sanitize(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = s.sanitizeValue(key, item)
		}
		return out
	default:
		return value
	}
}

// CleanText removes known prompt-injection markers from a string.
func (s *Sanitizer) CleanText(text string) string {
	for _, pattern := range injectionPatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return text
}

// cleanPath collapses traversal segments and, when a workspace is set, clamps
// the resolved path inside it.
func (s *Sanitizer) cleanPath(p string) string {
	if p == "" {
		return p
	}

	segments := strings.Split(filepath.ToSlash(p), "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	cleaned := filepath.Clean(strings.Join(kept, "/"))

	if s.workspace == "" {
		return cleaned
	}
	if !filepath.IsAbs(cleaned) {
		cleaned = filepath.Join(s.workspace, cleaned)
	}
	if cleaned != s.workspace && !strings.HasPrefix(cleaned, s.workspace+string(filepath.Separator)) {
		return filepath.Join(s.workspace, filepath.Base(cleaned))
	}
	return cleaned
}
