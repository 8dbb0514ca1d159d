package activity

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"kestrel-irp/core/attachments"
)

func TestNormalizeSortsAndDedupes(t *testing.T) {
	n := NewNormalizer(attachments.NewResolver("http://files.local"))
	raw := []map[string]any{
		{"id": "1", "activity_type": "assign", "remarks": "routed", "created_at": "2026-01-02T10:00:00Z", "actor_type": "HQ"},
		{"ActivityId": "2", "type": "AREA_SUBMIT_RESOLUTION", "note": "done", "timestamp": "2026-01-03T09:00:00Z", "role": "nodal"},
		// same event as id 1 but through a different aggregation path
		{"activitytype": "ASSIGN", "description": "routed", "createdon": "2026-01-02T10:00:00Z"},
	}
	got := n.Normalize(raw)
	if len(got) != 2 {
		t.Fatalf("want 2 activities after dedupe, got %d: %+v", len(got), got)
	}
	if got[0].Type != "AREA_SUBMIT_RESOLUTION" {
		t.Fatalf("newest first, got %s", got[0].Type)
	}
	if got[0].ActorType != ActorArea {
		t.Fatalf("nodal should map to AREA, got %s", got[0].ActorType)
	}
	if got[1].ID != "1" || got[1].Description != "routed" {
		t.Fatalf("unexpected second activity: %+v", got[1])
	}
}

func TestDedupeByIDBeatsSignature(t *testing.T) {
	ts := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	list := []Activity{
		{ID: "9", Type: "ASSIGN", Description: "a", CreatedAt: ts},
		{ID: "9", Type: "ASSIGN", Description: "different text", CreatedAt: ts.Add(time.Hour)},
	}
	got := Dedupe(list)
	if len(got) != 1 {
		t.Fatalf("same id must collapse, got %d", len(got))
	}
}

func TestSignatureTruncatesDescription(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	ts := time.Now()
	a := Activity{Type: "T", Description: string(long), CreatedAt: ts}
	b := Activity{Type: "T", Description: string(long) + "tail", CreatedAt: ts}
	if a.Signature() != b.Signature() {
		t.Fatal("descriptions differing after 200 chars must share a signature")
	}
}

func TestSignatureTruncatesOnRuneBoundary(t *testing.T) {
	// "é" is two bytes; placed at byte 199 it straddles the cutoff
	head := strings.Repeat("x", 199)
	ts := time.Now()
	a := Activity{Type: "T", Description: head + "étail", CreatedAt: ts}
	b := Activity{Type: "T", Description: head + "éother", CreatedAt: ts}
	sig := a.Signature()
	if !utf8.ValidString(sig) {
		t.Fatalf("signature must stay valid UTF-8: %q", sig)
	}
	if sig != b.Signature() {
		t.Fatal("both truncated copies must share a signature")
	}
	if !strings.HasSuffix(sig, "x") {
		t.Fatalf("straddling rune must be dropped whole: %q", sig)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   any
		want time.Time
	}{
		{"2026-01-02T10:00:00Z", time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)},
		{"2026-01-02 10:00:00", time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)},
		{"02/01/2026", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)},
		{float64(1767348000), time.Unix(1767348000, 0).UTC()},
		{"1767348000000", time.UnixMilli(1767348000000).UTC()},
		{"not a date", time.Time{}},
		{nil, time.Time{}},
	}
	for _, tc := range cases {
		if got := ParseTimestamp(tc.in); !got.Equal(tc.want) {
			t.Errorf("ParseTimestamp(%v)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestSubsetSuppressed(t *testing.T) {
	ts := time.Now().UTC()
	narrow := []Activity{
		{Type: "A", Description: "one", CreatedAt: ts},
		{Type: "B", Description: "two", CreatedAt: ts.Add(time.Minute)},
	}
	broad := []Activity{narrow[0]}
	if !SubsetSuppressed(narrow, broad) {
		t.Fatal("broad list fully covered by narrow must be suppressed")
	}
	broad = append(broad, Activity{Type: "C", Description: "extra", CreatedAt: ts})
	if SubsetSuppressed(narrow, broad) {
		t.Fatal("broad list with novel entries must not be suppressed")
	}
	if !SubsetSuppressed(narrow, nil) {
		t.Fatal("empty broad list is trivially suppressed")
	}
}

func TestMergeAbsorbsConfirmedLocals(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	local := []Activity{
		{ID: "local-abc", Type: "ASSIGN", Description: "routed", CreatedAt: ts},
		{ID: "local-def", Type: "HQ_CLOSE_ACTION", Description: "fixed", CreatedAt: ts.Add(time.Hour)},
	}
	server := []Activity{
		// confirms local-abc under a server id
		{ID: "41", Type: "ASSIGN", Description: "routed", CreatedAt: ts},
	}
	got := Merge(server, local)
	if len(got) != 2 {
		t.Fatalf("want 2 after merge, got %d: %+v", len(got), got)
	}
	if got[0].ID != "local-def" {
		t.Fatalf("unconfirmed local should survive newest-first, got %+v", got[0])
	}
	if got[1].ID != "41" {
		t.Fatalf("confirmed twin should be the server row, got %+v", got[1])
	}
}

func TestSynthesizeActionTaken(t *testing.T) {
	at := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	act := SynthesizeActionTaken("  resolved on site  ", nil, at)
	if act.Type != "HQ_CLOSE_ACTION" || act.ActorType != ActorSystem {
		t.Fatalf("unexpected synthesized activity: %+v", act)
	}
	if act.Description != "resolved on site" {
		t.Fatalf("description not trimmed: %q", act.Description)
	}
	if !act.CreatedAt.Equal(at) {
		t.Fatalf("timestamp not preserved: %v", act.CreatedAt)
	}
}
