package llm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// translateSystemPrompt fixes the output contract for batch translation.
const translateSystemPrompt = `You are a professional subtitle translator. Translate each numbered subtitle line and reply with the same numbered list, one translation per line, and nothing else. Keep the count and order identical. Preserve inline markup exactly as it appears: ASS override tags such as {\an8} or {\i1}, HTML-style tags such as <i>...</i>, and the literal sequence \N.`

// buildBatchPrompt renders K texts as a numbered list with the language
// instruction up front. Unit-internal newlines are encoded as \N so each
// numbered entry stays on one line.
func buildBatchPrompt(texts []string, sourceLanguage, targetLanguage string) string {
	var b strings.Builder
	if sourceLanguage == "" || strings.EqualFold(sourceLanguage, "auto") {
		fmt.Fprintf(&b, "Translate the following subtitle lines to %s, detecting the source language.\n\n", targetLanguage)
	} else {
		fmt.Fprintf(&b, "Translate the following subtitle lines from %s to %s.\n\n", sourceLanguage, targetLanguage)
	}
	for i, text := range texts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.ReplaceAll(text, "\n", `\N`))
	}
	return b.String()
}

var numberedLinePattern = regexp.MustCompile(`^\s*\[(\d+)\]\s*(.*)$`)

// parseBatchResponse extracts the numbered translations for a K-text batch.
// It returns ok=false when the response does not cover exactly 1..K.
func parseBatchResponse(response string, expected int) ([]string, bool) {
	entries := make(map[int]string, expected)
	current := 0
	for _, line := range strings.Split(response, "\n") {
		if match := numberedLinePattern.FindStringSubmatch(line); match != nil {
			num, err := strconv.Atoi(match[1])
			if err != nil || num < 1 || num > expected {
				current = 0
				continue
			}
			entries[num] = strings.TrimSpace(match[2])
			current = num
			continue
		}
		// Continuation of the previous entry (model wrapped a long line).
		if current > 0 && strings.TrimSpace(line) != "" {
			entries[current] += `\N` + strings.TrimSpace(line)
		}
	}
	if len(entries) != expected {
		return nil, false
	}
	out := make([]string, expected)
	for i := 1; i <= expected; i++ {
		text, ok := entries[i]
		if !ok {
			return nil, false
		}
		out[i-1] = text
	}
	return out, true
}
