package llm

import (
	"context"
	"log/slog"
	"strings"

	"subtrans/internal/logging"
)

// Completer is the client surface the Translator needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Translator implements the numbered-list batch contract over a Completer.
type Translator struct {
	client Completer
	logger *slog.Logger
}

// NewTranslator wraps a client.
func NewTranslator(client Completer, logger *slog.Logger) *Translator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Translator{
		client: client,
		logger: logging.NewComponentLogger(logger, "translator"),
	}
}

// TranslateBatch translates texts preserving count and order. When a
// response loses count, the batch splits in half and each half retries,
// recursively down to single texts; a single-text mismatch accepts the whole
// response as the translation.
func (t *Translator) TranslateBatch(ctx context.Context, texts []string, sourceLanguage, targetLanguage string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return t.translateChunk(ctx, texts, sourceLanguage, targetLanguage)
}

func (t *Translator) translateChunk(ctx context.Context, texts []string, source, target string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	response, err := t.client.Complete(ctx, translateSystemPrompt, buildBatchPrompt(texts, source, target))
	if err != nil {
		return nil, err
	}

	if parsed, ok := parseBatchResponse(response, len(texts)); ok {
		return parsed, nil
	}

	if len(texts) == 1 {
		// Accept the raw response as the sole translation.
		return []string{strings.TrimSpace(response)}, nil
	}

	t.logger.Warn("batch count mismatch, splitting",
		logging.Int("batch_size", len(texts)))

	mid := len(texts) / 2
	left, err := t.translateChunk(ctx, texts[:mid], source, target)
	if err != nil {
		return nil, err
	}
	right, err := t.translateChunk(ctx, texts[mid:], source, target)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}
