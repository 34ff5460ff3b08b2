package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/koopa0/loremap/internal/schema"
)

// maxProducerResponseBytes limits LLM response size before JSON parsing.
const maxProducerResponseBytes = 10 * 1024

// classifyPrompt asks the cheap model for a strict-JSON intent verdict.
// %s placeholders: (1) message, (2) history summary.
const classifyPrompt = `Classify whether the user message is lore-related for a worldbuilding database.
Return strict JSON with keys: is_lore (bool), intent_type (create|update|query|other),
entry_type (location|faction|npc|event|culture|null), confidence (0-1), rationale (short string).

Message:
%s

Recent conversation:
%s

JSON:`

// extractPrompt asks the cheap model to map free text onto schema fields.
// %s placeholders: (1) schema JSON, (2) message.
const extractPrompt = `Extract structured fields from user text using the provided schema.
Return strict JSON with key filled_fields containing only fields actually present in the user text.
Valid field names: name, category, status, summary, content, metadata.
category and status must come from the schema enums. Do not invent values.

Schema:
%s

User text:
%s

JSON:`

// Producer wraps the cheap model used for background classification and
// field extraction. Every call carries the configured timeout and waits on a
// shared rate limiter so background calls cannot starve the composer path.
type Producer struct {
	g       *genkit.Genkit
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewProducer creates a Producer for the given model name.
// limiter may be nil to disable rate limiting; logger nil falls back to
// slog.Default().
func NewProducer(g *genkit.Genkit, model string, timeout time.Duration, limiter *rate.Limiter, logger *slog.Logger) *Producer {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{g: g, model: model, timeout: timeout, limiter: limiter, logger: logger}
}

// ClassifyIntent asks the cheap model whether a message is lore-related.
// Callers treat any error as "not lore-related"; nothing here retries.
func (p *Producer) ClassifyIntent(ctx context.Context, message, historySummary string) (Intent, error) {
	raw, err := p.generate(ctx, fmt.Sprintf(classifyPrompt, message, historySummary))
	if err != nil {
		return Intent{}, err
	}

	var parsed struct {
		IsLore     bool    `json:"is_lore"`
		IntentType string  `json:"intent_type"`
		EntryType  string  `json:"entry_type"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Intent{}, fmt.Errorf("parsing intent result: %w (raw: %q)", err, truncate(raw, 200))
	}

	intent := Intent{
		IsLore:     parsed.IsLore,
		IntentType: parsed.IntentType,
		EntryType:  strings.TrimSpace(strings.ToLower(parsed.EntryType)),
		Confidence: parsed.Confidence,
		Rationale:  parsed.Rationale,
	}
	if intent.IntentType == "" {
		intent.IntentType = "other"
	}
	// A hallucinated entry type downgrades to "unknown type", not an error.
	if _, ok := schema.Get(intent.EntryType); !ok {
		intent.EntryType = ""
	}
	return intent, nil
}

// ExtractFields maps free text onto the entry type's schema fields.
// Only schema-valid field names survive; enum fields with out-of-enum values
// are dropped rather than passed through.
func (p *Producer) ExtractFields(ctx context.Context, message string, sc *schema.Schema) (map[string]any, error) {
	schemaJSON, err := json.Marshal(map[string]any{
		"type":            sc.Type,
		"categories":      sc.Categories,
		"statuses":        sc.Statuses,
		"required_fields": sc.RequiredFields,
		"metadata_keys":   schema.SortedMetadataKeys(sc.Type),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}

	raw, err := p.generate(ctx, fmt.Sprintf(extractPrompt, string(schemaJSON), message))
	if err != nil {
		return nil, err
	}

	var parsed struct {
		FilledFields map[string]any `json:"filled_fields"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parsing extraction result: %w (raw: %q)", err, truncate(raw, 200))
	}

	return sanitizeFields(parsed.FilledFields, sc), nil
}

func (p *Producer) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	resp, err := genkit.Generate(ctx, p.g,
		ai.WithModelName(p.model),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	if len(text) > maxProducerResponseBytes {
		return "", fmt.Errorf("model response too large: %d bytes", len(text))
	}
	return stripCodeFences(text), nil
}

// sanitizeFields keeps only known field names and drops enum values the
// schema does not allow. Metadata passes through as-is; unknown metadata keys
// surface later as store warnings, not extraction failures.
func sanitizeFields(fields map[string]any, sc *schema.Schema) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}

	clean := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "name", "summary", "content", "parent_slug":
			if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
				clean[key] = strings.TrimSpace(s)
			}
		case "category":
			if s, ok := value.(string); ok && slices.Contains(sc.Categories, s) {
				clean[key] = s
			}
		case "status":
			if s, ok := value.(string); ok && slices.Contains(sc.Statuses, s) {
				clean[key] = s
			}
		case "metadata":
			if m, ok := value.(map[string]any); ok && len(m) > 0 {
				clean[key] = m
			}
		}
	}
	return clean
}

// stripCodeFences removes ```json ... ``` wrapping from model output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}

// truncate shortens s to at most n bytes for logging.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
