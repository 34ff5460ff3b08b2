package orchestrator

import (
	"reflect"
	"strings"
	"testing"

	"github.com/koopa0/loremap/internal/schema"
)

func TestHeuristicIntent(t *testing.T) {
	tests := []struct {
		name       string
		message    string
		isLore     bool
		intentType string
		entryType  string
	}{
		{
			name:       "create npc",
			message:    "Let's create a new NPC for the station",
			isLore:     true,
			intentType: "create",
			entryType:  "npc",
		},
		{
			name:       "update faction",
			message:    "I want to update the faction lore",
			isLore:     true,
			intentType: "update",
			entryType:  "faction",
		},
		{
			name:       "query without verb",
			message:    "what worldbuilding canon do we have?",
			isLore:     true,
			intentType: "query",
		},
		{
			name:       "ordinary chat",
			message:    "how do I fix this regex?",
			isLore:     false,
			intentType: "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := heuristicIntent(tt.message)
			if intent.IsLore != tt.isLore {
				t.Errorf("IsLore = %v, want %v", intent.IsLore, tt.isLore)
			}
			if intent.IntentType != tt.intentType {
				t.Errorf("IntentType = %q, want %q", intent.IntentType, tt.intentType)
			}
			if intent.EntryType != tt.entryType {
				t.Errorf("EntryType = %q, want %q", intent.EntryType, tt.entryType)
			}
		})
	}
}

func TestHeuristicFields(t *testing.T) {
	sc, _ := schema.Get("npc")

	fields := heuristicFields(`Create an npc called Kael Vasuda. He is a criminal and very much alive.`, sc)

	if fields["name"] != "Kael Vasuda" {
		t.Errorf("name = %v, want Kael Vasuda", fields["name"])
	}
	if fields["category"] != "criminal" {
		t.Errorf("category = %v, want criminal", fields["category"])
	}
	if fields["status"] != "alive" {
		t.Errorf("status = %v, want alive", fields["status"])
	}
	if fields["type"] != "npc" {
		t.Errorf("type = %v, want npc", fields["type"])
	}
	summary, _ := fields["summary"].(string)
	if !strings.HasPrefix(summary, "Create an npc called Kael Vasuda.") {
		t.Errorf("summary = %q, want first sentence", summary)
	}
}

func TestHeuristicFieldsQuotedName(t *testing.T) {
	sc, _ := schema.Get("location")

	fields := heuristicFields(`Add a location "Seicoe Station" near the belt`, sc)
	if fields["name"] != "Seicoe Station" {
		t.Errorf("name = %v, want Seicoe Station", fields["name"])
	}
}

func TestExtractSearchTerms(t *testing.T) {
	terms := extractSearchTerms(`She works for the Iron Union at "Seicoe Station" near Drydock Nine`)

	for _, want := range []string{"Seicoe Station", "Iron Union", "Drydock Nine"} {
		found := false
		for _, term := range terms {
			if term == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("terms = %v, missing %q", terms, want)
		}
	}
	if len(terms) > 8 {
		t.Errorf("terms = %d, want at most 8", len(terms))
	}
}

func TestExtractSearchTermsDedupes(t *testing.T) {
	terms := extractSearchTerms(`"Ash Market" and then ash market again at Ash Market`)

	count := 0
	for _, term := range terms {
		if strings.EqualFold(term, "ash market") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("duplicate term survived: %v", terms)
	}
}

func TestFirstSentence(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"A station. It orbits a moon.", "A station."},
		{"No terminator here", "No terminator here"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := firstSentence(tt.text); got != tt.want {
			t.Errorf("firstSentence(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}

	long := strings.Repeat("word ", 100)
	if got := firstSentence(long); len([]rune(got)) > maxSummaryLen {
		t.Errorf("long summary not truncated: %d runes", len([]rune(got)))
	}
}

func TestBuildFollowUpQuestions(t *testing.T) {
	sc, _ := schema.Get("npc")

	questions := buildFollowUpQuestions(sc, []string{"name", "category"}, map[string]any{})
	if len(questions) == 0 || len(questions) > 8 {
		t.Fatalf("questions = %d, want 1..8", len(questions))
	}
	if questions[0] != "What is the entry name?" {
		t.Errorf("questions[0] = %q", questions[0])
	}

	// Unset *_slug metadata keys produce connection questions.
	foundConnect := false
	for _, q := range questions {
		if strings.Contains(q, "connect to an existing") {
			foundConnect = true
			break
		}
	}
	if !foundConnect {
		t.Errorf("no connection question in %v", questions)
	}

	if !reflect.DeepEqual(questions, buildFollowUpQuestions(sc, []string{"name", "category"}, map[string]any{})) {
		t.Error("follow-up questions are not deterministic")
	}
}
