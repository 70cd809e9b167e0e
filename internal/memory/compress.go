package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// CompressResult is the outcome of a summarization attempt. Degraded means
// every backend attempt failed and Text is the unmodified input; callers
// treat that as a soft failure, never as an error.
type CompressResult struct {
	Text     string
	Degraded bool
}

// TextCompressor reduces a text to roughly sentenceBudget sentences. The
// requested algorithm is attempted in the requested language first, then in
// the fallback language; if both fail the original text comes back
// unchanged. Implementations never return an empty result for non-empty
// input.
type TextCompressor interface {
	Summarize(text string, sentenceBudget int, language, algorithm string) CompressResult
}

// RankCompressor is an extractive summarizer over sentence graphs. Two
// algorithms are supported: "textrank" (similarity-graph power iteration)
// and "centroid" (term-frequency scoring). Unknown algorithm names fall
// back to textrank, mirroring how the summarization layer this replaces
// treated unknown method strings.
type RankCompressor struct {
	fallbackLanguage string
}

func NewRankCompressor(fallbackLanguage string) *RankCompressor {
	if strings.TrimSpace(fallbackLanguage) == "" {
		fallbackLanguage = "en"
	}
	return &RankCompressor{fallbackLanguage: fallbackLanguage}
}

func (c *RankCompressor) Summarize(text string, sentenceBudget int, language, algorithm string) CompressResult {
	if strings.TrimSpace(text) == "" {
		return CompressResult{Text: text}
	}
	if sentenceBudget < 1 {
		sentenceBudget = 1
	}

	for _, lang := range attemptLanguages(language, c.fallbackLanguage) {
		out, err := c.summarizeOnce(text, sentenceBudget, lang, algorithm)
		if err == nil {
			return CompressResult{Text: out}
		}
	}
	return CompressResult{Text: text, Degraded: true}
}

func attemptLanguages(requested, fallback string) []string {
	requested = normalizeLang(requested)
	fallback = normalizeLang(fallback)
	if requested == "" || requested == fallback {
		return []string{fallback}
	}
	return []string{requested, fallback}
}

func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	switch lang {
	case "english":
		return "en"
	case "german", "deutsch":
		return "de"
	}
	return lang
}

func (c *RankCompressor) summarizeOnce(text string, budget int, lang, algorithm string) (string, error) {
	stops, ok := stopwordsByLanguage[lang]
	if !ok {
		return "", fmt.Errorf("no stopword set for language %q", lang)
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return "", fmt.Errorf("no sentences detected")
	}
	if len(sentences) <= budget {
		return text, nil
	}

	tokenized := make([][]string, len(sentences))
	for i, s := range sentences {
		tokenized[i] = contentWords(s, stops)
	}

	var scores []float64
	switch algorithm {
	case "centroid":
		scores = centroidScores(tokenized)
	default:
		scores = textrankScores(tokenized)
	}

	type ranked struct {
		index int
		score float64
	}
	order := make([]ranked, len(sentences))
	for i, s := range scores {
		order[i] = ranked{index: i, score: s}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].score > order[j].score })

	picked := make([]int, 0, budget)
	for _, r := range order[:budget] {
		picked = append(picked, r.index)
	}
	sort.Ints(picked)

	parts := make([]string, 0, len(picked))
	for _, i := range picked {
		parts = append(parts, strings.TrimSpace(sentences[i]))
	}
	out := strings.Join(parts, " ")
	if strings.TrimSpace(out) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return out, nil
}

// splitSentences breaks text at terminal punctuation. Terminators stay
// attached to their sentence so re-joined summaries keep their boundaries.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(strings.TrimSpace(text))
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// consume trailing quote/bracket and repeated terminators
			for i+1 < len(runes) && (runes[i+1] == '.' || runes[i+1] == '!' || runes[i+1] == '?' || runes[i+1] == '"' || runes[i+1] == '\'' || runes[i+1] == ')') {
				i++
				current.WriteRune(runes[i])
			}
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func contentWords(sentence string, stops map[string]bool) []string {
	var out []string
	var word strings.Builder
	flush := func() {
		if word.Len() == 0 {
			return
		}
		w := strings.ToLower(word.String())
		word.Reset()
		if len(w) < 2 || stops[w] {
			return
		}
		out = append(out, w)
	}
	for _, r := range sentence {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

// textrankScores runs damped power iteration over the sentence similarity
// graph (overlap normalized by log lengths, classic TextRank).
func textrankScores(sentences [][]string) []float64 {
	n := len(sentences)
	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := sentenceSimilarity(sentences[i], sentences[j])
			sim[i][j] = s
			sim[j][i] = s
		}
	}

	outSum := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			outSum[i] += sim[i][j]
		}
	}

	const (
		damping    = 0.85
		iterations = 30
	)
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0
	}
	next := make([]float64, n)
	for it := 0; it < iterations; it++ {
		for i := 0; i < n; i++ {
			rank := 0.0
			for j := 0; j < n; j++ {
				if j == i || sim[j][i] == 0 || outSum[j] == 0 {
					continue
				}
				rank += sim[j][i] / outSum[j] * scores[j]
			}
			next[i] = (1 - damping) + damping*rank
		}
		copy(scores, next)
	}
	return scores
}

func sentenceSimilarity(a, b []string) float64 {
	if len(a) < 1 || len(b) < 1 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, w := range a {
		set[w] = true
	}
	overlap := 0
	for _, w := range b {
		if set[w] {
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}
	denom := math.Log(float64(len(a)+1)) + math.Log(float64(len(b)+1))
	if denom == 0 {
		return 0
	}
	return float64(overlap) / denom
}

// centroidScores scores each sentence by the summed corpus frequency of its
// words, normalized by sentence length.
func centroidScores(sentences [][]string) []float64 {
	freq := make(map[string]int)
	for _, s := range sentences {
		for _, w := range s {
			freq[w]++
		}
	}
	scores := make([]float64, len(sentences))
	for i, s := range sentences {
		if len(s) == 0 {
			continue
		}
		total := 0
		for _, w := range s {
			total += freq[w]
		}
		scores[i] = float64(total) / float64(len(s))
	}
	return scores
}
