package memory

import (
	"strings"
	"unicode"
)

// EntityTracker pulls salient names out of a text. It is best-effort and
// never fails; a nil or empty slice just means nothing stood out.
type EntityTracker interface {
	ExtractEntities(text, language string) []string
}

// HeuristicTracker finds capitalized word runs and keeps the ones that
// survive cleaning. It knows nothing about grammar, which is fine for the
// prompt hints it feeds; a proper NER model would be overkill at this
// call rate.
type HeuristicTracker struct{}

func NewHeuristicTracker() *HeuristicTracker {
	return &HeuristicTracker{}
}

func (t *HeuristicTracker) ExtractEntities(text, language string) []string {
	var out []string
	seen := make(map[string]bool)

	for _, run := range capitalizedRuns(text) {
		cleaned, ok := cleanEntity(run)
		if !ok {
			continue
		}
		key := strings.ToLower(cleaned)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, cleaned)
	}
	return out
}

// capitalizedRuns returns maximal sequences of adjacent capitalized words.
// Sentence-initial words are included; cleaning and downstream dedupe keep
// the noise tolerable.
func capitalizedRuns(text string) []string {
	var runs []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			runs = append(runs, strings.Join(current, " "))
			current = nil
		}
	}

	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" {
			flush()
			continue
		}
		first := []rune(word)[0]
		if unicode.IsUpper(first) {
			current = append(current, word)
			// punctuation after the word ends the run
			if !strings.HasSuffix(field, word) {
				flush()
			}
		} else {
			flush()
		}
	}
	flush()
	return runs
}

// cleanEntity applies the acceptance rules: strip surrounding punctuation
// and symbols, require length >= 3, reject candidates with embedded
// punctuation or symbol runes left over after trimming.
func cleanEntity(raw string) (string, bool) {
	cleaned := strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len([]rune(cleaned)) < 3 {
		return "", false
	}
	for _, r := range cleaned {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '\'' {
			continue
		}
		return "", false
	}
	return cleaned, true
}

// entityBucket is a bounded FIFO set. Inserts dedupe case-insensitively and
// evict oldest-first once the cap is reached. A zero cap keeps the bucket
// permanently empty.
type entityBucket struct {
	cap   int
	items []string
}

func newEntityBucket(cap int) *entityBucket {
	return &entityBucket{cap: cap}
}

func (b *entityBucket) Add(entities ...string) {
	if b.cap <= 0 {
		return
	}
	for _, e := range entities {
		e = strings.TrimSpace(e)
		if e == "" || b.contains(e) {
			continue
		}
		b.items = append(b.items, e)
		if len(b.items) > b.cap {
			b.items = b.items[len(b.items)-b.cap:]
		}
	}
}

func (b *entityBucket) contains(entity string) bool {
	for _, have := range b.items {
		if strings.EqualFold(have, entity) {
			return true
		}
	}
	return false
}

func (b *entityBucket) List() []string {
	out := make([]string, len(b.items))
	copy(out, b.items)
	return out
}

func (b *entityBucket) Len() int { return len(b.items) }
