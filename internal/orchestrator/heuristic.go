package orchestrator

import (
	"regexp"
	"strings"

	"github.com/koopa0/loremap/internal/schema"
)

// Fallback heuristics used when the cheap model is unavailable or times out.
// They are deliberately conservative: keyword matching and a few shape-based
// regexes, never inference.

const maxSummaryLen = 220

var loreTerms = []string{"npc", "faction", "location", "event", "culture", "lore", "worldbuilding", "canon"}

var (
	quotedRe      = regexp.MustCompile(`"([^"]{2,80})"|'([^']{2,80})'`)
	namedCalledRe = regexp.MustCompile(`(?:named|called)\s+([A-Z][A-Za-z0-9'\- ]{1,80})`)
	capitalRunRe  = regexp.MustCompile(`\b[A-Z][A-Za-z0-9'\-]+(?:\s+[A-Z][A-Za-z0-9'\-]+){0,2}\b`)
	prepositionRe = regexp.MustCompile(`\b(?:in|at|from|near|for|with)\s+(?:the\s+)?([A-Za-z][A-Za-z0-9'\- ]{1,60})`)
	sentenceEndRe = regexp.MustCompile(`[.!?]\s`)
)

// heuristicIntent classifies a message by keyword when the model cannot.
// Confidence is fixed low so downstream consumers can tell the difference.
func heuristicIntent(message string) Intent {
	text := strings.ToLower(message)

	entryType := ""
	for _, candidate := range schema.Types() {
		if regexp.MustCompile(`\b` + candidate + `\b`).MatchString(text) {
			entryType = candidate
			break
		}
	}

	isLore := false
	for _, term := range loreTerms {
		if strings.Contains(text, term) {
			isLore = true
			break
		}
	}

	intentType := "other"
	if isLore {
		intentType = "query"
		switch {
		case containsAny(text, "create", "add", "make", "invent", "new"):
			intentType = "create"
		case containsAny(text, "update", "change", "edit", "revise"):
			intentType = "update"
		}
	}

	return Intent{
		IsLore:     isLore,
		IntentType: intentType,
		EntryType:  entryType,
		Confidence: 0.4,
		Rationale:  "heuristic fallback",
	}
}

// heuristicFields extracts what a few regexes can safely claim from the
// message: an explicit name, enum words, a first-sentence summary, and the
// raw text as content. Used both as the model-failure fallback and as a
// baseline under the model's own extraction.
func heuristicFields(message string, sc *schema.Schema) map[string]any {
	text := strings.TrimSpace(message)
	lower := strings.ToLower(text)
	fields := map[string]any{"type": sc.Type}

	if m := quotedRe.FindStringSubmatch(text); m != nil {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		fields["name"] = strings.TrimSpace(name)
	} else if m := namedCalledRe.FindStringSubmatch(text); m != nil {
		fields["name"] = strings.Trim(m[1], " .,!?:;")
	} else if m := createNameRe(sc.Type).FindStringSubmatch(text); m != nil {
		fields["name"] = strings.Trim(m[1], " .,!?:;")
	}

	for _, value := range sc.Categories {
		if wordRe(value).MatchString(lower) {
			fields["category"] = value
			break
		}
	}
	for _, value := range sc.Statuses {
		if wordRe(value).MatchString(lower) {
			fields["status"] = value
			break
		}
	}

	if summary := firstSentence(text); summary != "" {
		fields["summary"] = summary
	}
	if text != "" {
		fields["content"] = text
	}

	return fields
}

// extractSearchTerms pulls probe terms from a message: quoted spans first,
// then capitalized runs, then objects of locational/associative prepositions.
// Deduplicated case-insensitively, capped at eight.
func extractSearchTerms(message string) []string {
	var terms []string

	for _, m := range quotedRe.FindAllStringSubmatch(message, -1) {
		value := m[1]
		if value == "" {
			value = m[2]
		}
		if value = strings.TrimSpace(value); value != "" {
			terms = append(terms, value)
		}
	}

	terms = append(terms, capitalRunRe.FindAllString(message, -1)...)

	for _, m := range prepositionRe.FindAllStringSubmatch(message, -1) {
		terms = append(terms, strings.Trim(m[1], " .,!?:;"))
	}

	var deduped []string
	seen := make(map[string]bool)
	for _, term := range terms {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, term)
		if len(deduped) == 8 {
			break
		}
	}
	return deduped
}

// buildFollowUpQuestions turns missing required fields and unset metadata
// links into concrete questions, deduplicated and capped at eight.
func buildFollowUpQuestions(sc *schema.Schema, missingRequired []string, fields map[string]any) []string {
	var questions []string

	for _, field := range missingRequired {
		switch field {
		case "name":
			questions = append(questions, "What is the entry name?")
		case "category":
			questions = append(questions,
				"Which category fits best ("+strings.Join(sc.Categories, ", ")+")?")
		case "status":
			questions = append(questions,
				"What is the current status ("+strings.Join(sc.Statuses, ", ")+")?")
		case "content":
			questions = append(questions,
				"Can you provide fuller details for Summary, Details, and Hooks?")
		}
	}

	metadata, _ := fields["metadata"].(map[string]any)
	for _, key := range schema.SortedMetadataKeys(sc.Type) {
		if !strings.HasSuffix(key, "_slug") {
			continue
		}
		if value, ok := metadata[key]; ok && value != "" && value != nil {
			continue
		}
		subject := strings.TrimSuffix(strings.ReplaceAll(key, "_", " "), " slug")
		questions = append(questions,
			"Does this connect to an existing "+subject+"? If so, which one?")
	}

	var deduped []string
	seen := make(map[string]bool)
	for _, q := range questions {
		if seen[q] {
			continue
		}
		seen[q] = true
		deduped = append(deduped, q)
		if len(deduped) == 8 {
			break
		}
	}
	return deduped
}

// firstSentence returns the first sentence of text, truncated to
// maxSummaryLen runes.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	if loc := sentenceEndRe.FindStringIndex(text); loc != nil {
		text = text[:loc[0]+1]
	}
	runes := []rune(text)
	if len(runes) > maxSummaryLen {
		text = string(runes[:maxSummaryLen-1]) + "…"
	}
	return strings.TrimSpace(text)
}

// summarizeHistory flattens the most recent turns into a compact block for
// the classifier prompt.
func summarizeHistory(history []turn, maxMessages int) string {
	if len(history) > maxMessages {
		history = history[len(history)-maxMessages:]
	}
	var lines []string
	for _, t := range history {
		content := strings.TrimSpace(strings.ReplaceAll(t.Content, "\n", " "))
		if content == "" {
			continue
		}
		if len(content) > maxSummaryLen {
			content = content[:maxSummaryLen]
		}
		lines = append(lines, t.Role+": "+content)
	}
	return strings.Join(lines, "\n")
}

func createNameRe(entryType string) *regexp.Regexp {
	return regexp.MustCompile(`(?:add|create|make)\s+(?:an?\s+)?` +
		regexp.QuoteMeta(entryType) + `\s+([A-Z][A-Za-z0-9'\- ]{1,80})`)
}

func wordRe(word string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(word)) + `\b`)
}

func containsAny(text string, tokens ...string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}
