package sdruntime

import (
	"fmt"
	"strings"
)

// ValidatePrompt checks that prompt is non-blank, NUL-free and at most
// MaxPromptLength bytes. Prompts cross into C as NUL-terminated strings.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt cannot be empty", ErrInvalidPrompt)
	}

	if strings.ContainsRune(prompt, '\x00') {
		return fmt.Errorf("%w: prompt contains null bytes", ErrInvalidPrompt)
	}

	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d",
			ErrInvalidPrompt, len(prompt), MaxPromptLength)
	}

	return nil
}

// SanitizePrompt drops NUL bytes and collapses runs of whitespace
// (including newlines) into single spaces.
func SanitizePrompt(prompt string) string {
	prompt = strings.ReplaceAll(prompt, "\x00", "")
	return strings.Join(strings.Fields(prompt), " ")
}

// JoinPrompts joins non-empty prompt fragments with ", ", the separator
// stable-diffusion prompts conventionally use between terms. Used to merge
// a configured default negative prompt with a per-request one.
func JoinPrompts(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(SanitizePrompt(p), ", ")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}
