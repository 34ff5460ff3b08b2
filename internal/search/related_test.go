package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/koopa0/loremap/internal/database"
	"github.com/koopa0/loremap/internal/lore"
)

func newRankerFixture(t *testing.T) (*lore.Store, *Ranker) {
	t.Helper()

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	index := NewIndex()
	store := lore.New(db, index, nil)
	return store, NewRanker(store, index, nil)
}

func create(t *testing.T, store *lore.Store, in lore.CreateInput) *lore.Entry {
	t.Helper()
	entry, _, err := store.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create(%q) error = %v", in.Name, err)
	}
	return entry
}

func location(name string) lore.CreateInput {
	return lore.CreateInput{
		Type: "location", Name: name, Category: "settlement", Status: "active",
		Content: "Dust and scaffolding.",
	}
}

func npc(name string) lore.CreateInput {
	return lore.CreateInput{
		Type: "npc", Name: name, Category: "civilian", Status: "alive",
		Content: "Keeps out of trouble.",
	}
}

func scoreOf(related []RelatedEntry, slug string) (float64, []string, bool) {
	for _, r := range related {
		if r.Entry.Slug == slug {
			return r.Score, r.Reasons, true
		}
	}
	return 0, nil, false
}

func TestFindRelatedTiers(t *testing.T) {
	store, ranker := newRankerFixture(t)
	ctx := context.Background()

	create(t, store, location("Drydock Nine"))

	base := npc("Quartermaster Ibb")
	base.References = []lore.Reference{{TargetSlug: "drydock-nine", TargetType: "location"}}
	create(t, store, base)

	admirer := npc("Deckhand Soli")
	admirer.References = []lore.Reference{{TargetSlug: "quartermaster-ibb", TargetType: "npc"}}
	create(t, store, admirer)

	coRef := npc("Rigger Tams")
	coRef.References = []lore.Reference{{TargetSlug: "drydock-nine", TargetType: "location"}}
	create(t, store, coRef)

	related, err := ranker.FindRelated(ctx, "quartermaster-ibb", 10)
	if err != nil {
		t.Fatalf("FindRelated() error = %v", err)
	}

	tests := []struct {
		slug   string
		weight float64
		reason string
	}{
		{"drydock-nine", weightDirectReference, ReasonDirectReference},
		{"deckhand-soli", weightReferencedBy, ReasonReferencedBy},
		{"rigger-tams", weightSharedReference, ReasonSharedReference},
	}
	for _, tt := range tests {
		score, reasons, ok := scoreOf(related, tt.slug)
		if !ok {
			t.Errorf("%s missing from results", tt.slug)
			continue
		}
		if score < tt.weight {
			t.Errorf("%s score = %v, want >= %v", tt.slug, score, tt.weight)
		}
		if !containsReason(reasons, tt.reason) {
			t.Errorf("%s reasons = %v, want %q", tt.slug, reasons, tt.reason)
		}
	}
}

func TestFindRelatedSharedParent(t *testing.T) {
	store, ranker := newRankerFixture(t)
	ctx := context.Background()

	create(t, store, location("Veil Station"))

	first := npc("Archivist Juno")
	first.ParentSlug = "veil-station"
	create(t, store, first)

	second := npc("Clerk Bettan")
	second.ParentSlug = "veil-station"
	create(t, store, second)

	related, err := ranker.FindRelated(ctx, "archivist-juno", 10)
	if err != nil {
		t.Fatalf("FindRelated() error = %v", err)
	}

	score, reasons, ok := scoreOf(related, "clerk-bettan")
	if !ok {
		t.Fatal("sibling missing from results")
	}
	if score < weightSharedParent {
		t.Errorf("sibling score = %v, want >= %v", score, weightSharedParent)
	}
	if !containsReason(reasons, ReasonSharedParent) {
		t.Errorf("sibling reasons = %v, want shared_parent", reasons)
	}
}

func TestFindRelatedSumsTiers(t *testing.T) {
	store, ranker := newRankerFixture(t)
	ctx := context.Background()

	create(t, store, location("Hollowmere"))

	base := npc("Warden Oss")
	base.ParentSlug = "hollowmere"
	base.References = []lore.Reference{{TargetSlug: "sister-veka", TargetType: "npc"}}
	create(t, store, base)

	// Same parent AND directly referenced: tiers sum.
	both := npc("Sister Veka")
	both.ParentSlug = "hollowmere"
	create(t, store, both)

	related, err := ranker.FindRelated(ctx, "warden-oss", 10)
	if err != nil {
		t.Fatalf("FindRelated() error = %v", err)
	}

	score, reasons, ok := scoreOf(related, "sister-veka")
	if !ok {
		t.Fatal("sister-veka missing from results")
	}
	want := weightDirectReference + weightSharedParent
	if score < want || score > want+1 {
		t.Errorf("summed score = %v, want >= %v (direct + shared parent)", score, want)
	}
	if !containsReason(reasons, ReasonDirectReference) || !containsReason(reasons, ReasonSharedParent) {
		t.Errorf("reasons = %v, want both direct_reference and shared_parent", reasons)
	}
}

func TestDirectReferenceOutranksTextSimilarity(t *testing.T) {
	store, ranker := newRankerFixture(t)
	ctx := context.Background()

	base := npc("Pilgrim Rast")
	base.Summary = "Walks the ember road between shrines."
	base.References = []lore.Reference{{TargetSlug: "shrine-keeper", TargetType: "npc"}}
	create(t, store, base)

	// Referenced directly; shares no text with the base entry.
	keeper := npc("Shrine Keeper")
	create(t, store, keeper)

	// Text-similar only: mentions the ember road, never referenced.
	echo := npc("Ash Walker")
	echo.Summary = "Another wanderer of the ember road."
	create(t, store, echo)

	related, err := ranker.FindRelated(ctx, "pilgrim-rast", 10)
	if err != nil {
		t.Fatalf("FindRelated() error = %v", err)
	}
	if len(related) < 2 {
		t.Fatalf("FindRelated() = %v, want both candidates", related)
	}
	if related[0].Entry.Slug != "shrine-keeper" {
		t.Errorf("top result = %s, want shrine-keeper (direct reference outranks text)", related[0].Entry.Slug)
	}

	textScore, textReasons, ok := scoreOf(related, "ash-walker")
	if !ok {
		t.Fatal("text-similar candidate missing")
	}
	if !containsReason(textReasons, ReasonContentSimilarity) {
		t.Errorf("ash-walker reasons = %v, want content_similarity", textReasons)
	}
	if textScore >= weightReferencedBy {
		t.Errorf("pure text score = %v, must stay below the weakest graph tier", textScore)
	}
}

func TestFindRelatedDeterministic(t *testing.T) {
	store, ranker := newRankerFixture(t)
	ctx := context.Background()

	create(t, store, location("Causeway"))
	for _, name := range []string{"Zeno", "Abel", "Moira"} {
		in := npc(name)
		in.ParentSlug = "causeway"
		create(t, store, in)
	}

	first, err := ranker.FindRelated(ctx, "zeno", 10)
	if err != nil {
		t.Fatalf("FindRelated() error = %v", err)
	}
	second, err := ranker.FindRelated(ctx, "zeno", 10)
	if err != nil {
		t.Fatalf("FindRelated() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("result sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Entry.Slug != second[i].Entry.Slug {
			t.Fatalf("orderings differ at %d: %s vs %s", i, first[i].Entry.Slug, second[i].Entry.Slug)
		}
		if math.Abs(first[i].Score-second[i].Score) > 1e-9 {
			t.Fatalf("scores differ at %d: %v vs %v", i, first[i].Score, second[i].Score)
		}
	}

	// Equal-score siblings sort by name.
	score0, _, _ := scoreOf(first, "abel")
	score1, _, _ := scoreOf(first, "moira")
	if score0 == score1 {
		var names []string
		for _, r := range first {
			names = append(names, r.Entry.Slug)
		}
		if indexOf(names, "abel") > indexOf(names, "moira") {
			t.Errorf("equal scores not name-ordered: %v", names)
		}
	}
}

func TestFindRelatedMissingEntry(t *testing.T) {
	_, ranker := newRankerFixture(t)

	_, err := ranker.FindRelated(context.Background(), "nobody", 5)
	if !errors.Is(err, lore.ErrNotFound) {
		t.Fatalf("FindRelated() error = %v, want ErrNotFound", err)
	}
}

func containsReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}

func indexOf(values []string, v string) int {
	for i, value := range values {
		if value == v {
			return i
		}
	}
	return -1
}
