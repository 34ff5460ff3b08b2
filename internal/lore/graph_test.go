package lore

import (
	"context"
	"testing"
)

func TestEdges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, locationInput("Meridian Station"))
	in := npcInput("Foreman Ode")
	in.References = []Reference{
		{TargetSlug: "meridian-station", TargetType: "location", Relationship: "lives_at"},
	}
	mustCreate(t, s, in)

	out, err := s.EdgesFrom(ctx, "foreman-ode")
	if err != nil {
		t.Fatalf("EdgesFrom() error = %v", err)
	}
	if len(out) != 1 || out[0].TargetSlug != "meridian-station" || out[0].Relationship != "lives_at" {
		t.Errorf("EdgesFrom() = %v", out)
	}

	inbound, err := s.EdgesTo(ctx, "meridian-station")
	if err != nil {
		t.Fatalf("EdgesTo() error = %v", err)
	}
	if len(inbound) != 1 || inbound[0].SourceSlug != "foreman-ode" {
		t.Errorf("EdgesTo() = %v", inbound)
	}
}

func TestValidateSingleEntry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, locationInput("Harrow Deep"))
	in := npcInput("Scribe Vann")
	in.References = []Reference{
		{TargetSlug: "harrow-deep", TargetType: "location"},
		{TargetSlug: "the-lost-archive", TargetType: "location"},
	}
	mustCreate(t, s, in)

	report, err := s.Validate(ctx, "scribe-vann")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(report.Valid) != 1 || report.Valid[0].TargetSlug != "harrow-deep" {
		t.Errorf("Valid = %v", report.Valid)
	}
	if len(report.Broken) != 1 || report.Broken[0].TargetSlug != "the-lost-archive" {
		t.Errorf("Broken = %v", report.Broken)
	}
	// Nothing references the scribe and npcs are not root types.
	if len(report.Orphaned) != 1 || report.Orphaned[0].Slug != "scribe-vann" {
		t.Errorf("Orphaned = %v, want scribe-vann", report.Orphaned)
	}
}

func TestValidateSingleEntryIncludesInbound(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, npcInput("Captain Reyes"))
	in := npcInput("First Mate Oru")
	in.References = []Reference{{TargetSlug: "captain-reyes", TargetType: "npc"}}
	mustCreate(t, s, in)

	// Validating the target must surface the edge pointing at it and clear
	// its orphan state.
	report, err := s.Validate(ctx, "captain-reyes")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(report.Valid) != 1 || report.Valid[0].SourceSlug != "first-mate-oru" {
		t.Errorf("Valid = %v, want the inbound edge from first-mate-oru", report.Valid)
	}
	if len(report.Orphaned) != 0 {
		t.Errorf("Orphaned = %v, want empty for a referenced entry", report.Orphaned)
	}

	// The referencing entry itself has no inbound edges.
	report, err = s.Validate(ctx, "first-mate-oru")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(report.Orphaned) != 1 || report.Orphaned[0].Slug != "first-mate-oru" {
		t.Errorf("Orphaned = %v, want first-mate-oru", report.Orphaned)
	}
}

func TestValidateGlobal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Root-type entry with no inbound edges: never an orphan.
	mustCreate(t, s, locationInput("Lone Rock"))

	// NPC nothing references: orphan.
	mustCreate(t, s, npcInput("Forgotten Jole"))

	// NPC referenced by another entry: not an orphan.
	mustCreate(t, s, npcInput("Captain Reyes"))
	in := npcInput("First Mate Oru")
	in.References = []Reference{{TargetSlug: "captain-reyes", TargetType: "npc"}}
	mustCreate(t, s, in)

	report, err := s.Validate(ctx, "")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	orphanSlugs := make([]string, 0, len(report.Orphaned))
	for _, o := range report.Orphaned {
		orphanSlugs = append(orphanSlugs, o.Slug)
	}

	// forgotten-jole and first-mate-oru have no inbound edges; lone-rock is
	// excluded as a root type, captain-reyes is referenced.
	want := map[string]bool{"forgotten-jole": true, "first-mate-oru": true}
	if len(orphanSlugs) != len(want) {
		t.Fatalf("Orphaned = %v, want %v", orphanSlugs, want)
	}
	for _, slug := range orphanSlugs {
		if !want[slug] {
			t.Errorf("unexpected orphan %q", slug)
		}
	}
}

func TestDeleteLeavesDanglingDetectable(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, locationInput("Gable Port"))
	in := npcInput("Harbormaster Lin")
	in.References = []Reference{{TargetSlug: "gable-port", TargetType: "location"}}
	mustCreate(t, s, in)

	if _, err := s.Delete(ctx, "gable-port"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	report, err := s.Validate(ctx, "harbormaster-lin")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(report.Broken) != 1 || report.Broken[0].TargetSlug != "gable-port" {
		t.Errorf("Broken = %v, want dangling edge to gable-port", report.Broken)
	}
}
