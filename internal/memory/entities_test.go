package memory

import (
	"strings"
	"testing"
)

func TestExtractEntitiesFindsCapitalizedRuns(t *testing.T) {
	tr := NewHeuristicTracker()

	got := tr.ExtractEntities("yesterday Alice met Bob Dylan near the Brandenburg Gate.", "en")

	want := map[string]bool{"Alice": true, "Bob Dylan": true, "Brandenburg Gate": true}
	if len(got) != len(want) {
		t.Fatalf("ExtractEntities = %v, want %d entities", got, len(want))
	}
	for _, e := range got {
		if !want[e] {
			t.Errorf("unexpected entity %q in %v", e, got)
		}
	}
}

func TestExtractEntitiesDropsShortCandidates(t *testing.T) {
	tr := NewHeuristicTracker()

	got := tr.ExtractEntities("then Al said hi to Jo on the way home", "en")
	for _, e := range got {
		if len(e) < 3 {
			t.Errorf("entity %q shorter than 3 chars survived cleaning", e)
		}
	}
}

func TestExtractEntitiesDedupesCaseInsensitively(t *testing.T) {
	tr := NewHeuristicTracker()

	got := tr.ExtractEntities("we discussed Paris today, and PARIS came up again later; paris is lovely.", "en")
	count := 0
	for _, e := range got {
		if strings.EqualFold(e, "paris") {
			count++
		}
	}
	if count > 1 {
		t.Errorf("Paris appears %d times in %v, want at most 1", count, got)
	}
}

func TestExtractEntitiesStripsPunctuation(t *testing.T) {
	tr := NewHeuristicTracker()

	got := tr.ExtractEntities("have you seen \"Hamlet\"? also (Othello) maybe, or Macbeth!", "en")
	for _, e := range got {
		if strings.ContainsAny(e, "\"()?!,.") {
			t.Errorf("entity %q retains punctuation", e)
		}
	}
}

func TestExtractEntitiesNeverFailsOnGarbage(t *testing.T) {
	tr := NewHeuristicTracker()

	inputs := []string{"", "   ", "????", "🎉🎉🎉", strings.Repeat(".", 200)}
	for _, in := range inputs {
		if got := tr.ExtractEntities(in, "en"); len(got) != 0 {
			t.Errorf("ExtractEntities(%q) = %v, want empty", in, got)
		}
	}
}

func TestEntityBucketEvictsOldestFirst(t *testing.T) {
	b := newEntityBucket(3)
	b.Add("one", "two", "three", "four")

	got := b.List()
	if len(got) != 3 {
		t.Fatalf("bucket length = %d, want 3", len(got))
	}
	want := []string{"two", "three", "four"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEntityBucketDedupesCaseInsensitively(t *testing.T) {
	b := newEntityBucket(5)
	b.Add("Berlin")
	b.Add("berlin", "BERLIN")

	if b.Len() != 1 {
		t.Errorf("bucket length = %d after duplicate adds, want 1", b.Len())
	}
}

func TestEntityBucketZeroCapStaysEmpty(t *testing.T) {
	b := newEntityBucket(0)
	b.Add("anything")
	if b.Len() != 0 {
		t.Errorf("zero-cap bucket holds %d items", b.Len())
	}
}
