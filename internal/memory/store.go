package memory

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/loreleaf/tierbot/internal/config"
)

// TieredHistoryStore holds one conversation's memory across three tiers:
// tier-0 raw turns, tier-1 per-turn mid summaries, and a single tier-2
// mega summary that absorbs evicted mid summaries. Appending a turn runs
// the full pipeline: entity extraction, compression, then cascading
// promotion until both tier caps hold again.
//
// All exported methods are safe for concurrent use.
type TieredHistoryStore struct {
	mu sync.Mutex

	cfg        config.MemoryConfig
	counter    TokenCounter
	compressor TextCompressor
	tracker    EntityTracker

	tier0 []Turn
	tier1 []MidSummary
	tier2 *MegaSummary

	tier0Entities *entityBucket
	tier1Entities *entityBucket
	tier2Entities *entityBucket

	// now is swapped in tests
	now func() time.Time
}

func NewTieredHistoryStore(cfg config.MemoryConfig, counter TokenCounter, compressor TextCompressor, tracker EntityTracker) *TieredHistoryStore {
	return &TieredHistoryStore{
		cfg:           cfg,
		counter:       counter,
		compressor:    compressor,
		tracker:       tracker,
		tier0Entities: newEntityBucket(cfg.Tier0MaxEntities),
		tier1Entities: newEntityBucket(cfg.Tier1MaxEntities),
		tier2Entities: newEntityBucket(cfg.Tier2MaxEntities),
		now:           time.Now,
	}
}

// AppendUserTurn runs the append pipeline for one inbound user message and
// returns the stored Turn. Promotion happens before it returns, so a caller
// observing the snapshot immediately afterwards always sees tiers within
// their caps.
func (s *TieredHistoryStore) AppendUserTurn(speaker, language, text string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(speaker, language, text, s.now().Format(TimestampLayout))
}

// AppendAssistantTurn records one model reply. The pipeline is identical to
// the user path; the split exists so the persistence load dispatch and call
// sites read naturally.
func (s *TieredHistoryStore) AppendAssistantTurn(speaker, language, text string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(speaker, language, text, s.now().Format(TimestampLayout))
}

// RestoreUserTurn and RestoreAssistantTurn replay previously persisted
// turns with their original timestamps. Used by the load path only;
// promotion applies exactly as for live turns.
func (s *TieredHistoryStore) RestoreUserTurn(speaker, language, text, timestamp string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(speaker, language, text, timestamp)
}

func (s *TieredHistoryStore) RestoreAssistantTurn(speaker, language, text, timestamp string) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(speaker, language, text, timestamp)
}

func (s *TieredHistoryStore) appendLocked(speaker, language, text, timestamp string) Turn {
	if language == "" {
		language = s.cfg.FallbackLanguage
	}

	turn := Turn{
		Timestamp: timestamp,
		Speaker:   speaker,
		Language:  language,
		RawText:   text,
		RawTokens: s.counter.CountTokens(text),
	}

	if s.cfg.ExtractBeforeCompress {
		turn.Keywords = s.tracker.ExtractEntities(text, language)
	}

	turn.CompressedText = s.compressTo(text, turn.RawTokens, s.cfg.Tier0TokenCap, language)
	turn.CompressedTokens = s.counter.CountTokens(turn.CompressedText)

	if !s.cfg.ExtractBeforeCompress {
		turn.Keywords = s.tracker.ExtractEntities(turn.CompressedText, language)
	}
	s.tier0Entities.Add(turn.Keywords...)

	s.tier0 = append(s.tier0, turn)
	s.promoteLocked()
	return turn
}

// compressTo returns text unchanged when it is already within cap.
// Otherwise the sentence budget is cap/tokensPerSentence, floored at one.
func (s *TieredHistoryStore) compressTo(text string, tokens, cap int, language string) string {
	if tokens <= cap {
		return text
	}
	budget := cap / s.cfg.TokensPerSentence
	if budget < 1 {
		budget = 1
	}
	res := s.compressor.Summarize(text, budget, language, s.cfg.Algorithm)
	if res.Degraded {
		log.Printf("[memory] compression degraded, keeping raw text (%d tokens)", tokens)
	}
	return res.Text
}

// promoteLocked restores both tier caps, oldest-first. Tier-0 overflow
// promotes one turn at a time into tier-1; tier-1 overflow folds a batch
// plus the previous mega summary into a fresh tier-2 stub.
func (s *TieredHistoryStore) promoteLocked() {
	for len(s.tier0) > s.cfg.Tier0Max {
		turn := s.tier0[0]
		s.tier0 = s.tier0[1:]
		s.tier1 = append(s.tier1, s.midSummaryFrom(turn))
	}

	for len(s.tier1) > s.cfg.Tier1Max {
		s.foldIntoMega(s.promotionBatchSize())
	}
}

func (s *TieredHistoryStore) midSummaryFrom(turn Turn) MidSummary {
	text := s.compressTo(turn.CompressedText, turn.CompressedTokens, s.cfg.Tier1TokenCap, turn.Language)

	mid := MidSummary{
		Speaker:   turn.Speaker,
		Language:  turn.Language,
		Text:      text,
		Tokens:    s.counter.CountTokens(text),
		Timestamp: turn.Timestamp,
	}
	if s.cfg.ReextractTier1 {
		mid.Keywords = s.tracker.ExtractEntities(text, turn.Language)
	} else {
		mid.Keywords = append([]string(nil), turn.Keywords...)
	}
	s.tier1Entities.Add(mid.Keywords...)
	return mid
}

// promotionBatchSize is max(1, min(batchSize, floor(tier1Max*fraction),
// len(tier1))).
func (s *TieredHistoryStore) promotionBatchSize() int {
	n := s.cfg.BatchSize
	if f := int(float64(s.cfg.Tier1Max) * s.cfg.BatchFraction); f < n {
		n = f
	}
	if len(s.tier1) < n {
		n = len(s.tier1)
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (s *TieredHistoryStore) foldIntoMega(batch int) {
	evicted := s.tier1[:batch]
	s.tier1 = s.tier1[batch:]

	parts := make([]string, 0, batch+1)
	if s.tier2 != nil && s.tier2.Text != "" {
		parts = append(parts, ensureTerminated(s.tier2.Text))
	}

	var spanStart, spanEnd time.Time
	if s.tier2 != nil {
		spanStart, spanEnd = s.tier2.SpanStart, s.tier2.SpanEnd
	}
	batchTexts := make([]string, 0, batch)
	for _, mid := range evicted {
		parts = append(parts, ensureTerminated(mid.Text))
		batchTexts = append(batchTexts, mid.Text)
		if ts, err := time.Parse(TimestampLayout, mid.Timestamp); err == nil {
			if spanStart.IsZero() || ts.Before(spanStart) {
				spanStart = ts
			}
			if ts.After(spanEnd) {
				spanEnd = ts
			}
		}
	}
	lang := dominantLanguage(evicted, s.cfg.FallbackLanguage)

	combined := strings.Join(parts, " ")
	text := s.compressTo(combined, s.counter.CountTokens(combined), s.cfg.Tier2TokenCap, lang)

	mega := &MegaSummary{
		Text:      text,
		Tokens:    s.counter.CountTokens(text),
		SpanStart: spanStart,
		SpanEnd:   spanEnd,
		IsStub:    true,
	}

	// prior keywords first, then fresh extraction from the batch; dedupe
	// case-insensitively and FIFO-truncate to the tier-2 cap
	var keywords []string
	if s.tier2 != nil {
		keywords = append(keywords, s.tier2.Keywords...)
	}
	keywords = append(keywords, s.tracker.ExtractEntities(strings.Join(batchTexts, " "), lang)...)
	seen := make(map[string]bool)
	for _, k := range keywords {
		lk := strings.ToLower(k)
		if seen[lk] {
			continue
		}
		seen[lk] = true
		mega.Keywords = append(mega.Keywords, k)
	}
	if over := len(mega.Keywords) - s.cfg.Tier2MaxEntities; over > 0 {
		mega.Keywords = mega.Keywords[over:]
	}

	s.tier2Entities.Add(mega.Keywords...)
	s.tier2 = mega
}

// ensureTerminated appends a period when text lacks terminal punctuation,
// so sentence splitting in the compressor sees the original boundaries.
func ensureTerminated(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return trimmed
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return trimmed
	}
	return trimmed + "."
}

// dominantLanguage picks the majority language of the batch; ties go to the
// language that appeared first.
func dominantLanguage(batch []MidSummary, fallback string) string {
	counts := make(map[string]int)
	var order []string
	for _, mid := range batch {
		if mid.Language == "" {
			continue
		}
		if counts[mid.Language] == 0 {
			order = append(order, mid.Language)
		}
		counts[mid.Language]++
	}
	best, bestCount := fallback, 0
	for _, lang := range order {
		if counts[lang] > bestCount {
			best, bestCount = lang, counts[lang]
		}
	}
	return best
}

// ReplaceMegaText swaps in a model-rewritten tier-2 text and clears the
// stub flag. The swap only applies while tier-2 still holds prev; a rewrite
// that raced a promotion is discarded so it cannot clobber freshly folded
// content. Returns whether the swap was applied.
func (s *TieredHistoryStore) ReplaceMegaText(prev, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tier2 == nil || strings.TrimSpace(text) == "" {
		return false
	}
	if s.tier2.Text != prev {
		return false
	}
	s.tier2.Text = text
	s.tier2.Tokens = s.counter.CountTokens(text)
	s.tier2.IsStub = false
	return true
}

// MegaStub returns the current tier-2 text and whether it is still a
// mechanically produced stub awaiting rewrite.
func (s *TieredHistoryStore) MegaStub() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tier2 == nil {
		return "", false
	}
	return s.tier2.Text, s.tier2.IsStub
}

// GetAllContext returns a deep copy of every tier and entity bucket.
func (s *TieredHistoryStore) GetAllContext() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Tier0:         make([]Turn, len(s.tier0)),
		Tier1:         make([]MidSummary, len(s.tier1)),
		Tier0Entities: s.tier0Entities.List(),
		Tier1Entities: s.tier1Entities.List(),
		Tier2Entities: s.tier2Entities.List(),
	}
	copy(snap.Tier0, s.tier0)
	for i := range snap.Tier0 {
		snap.Tier0[i].Keywords = append([]string(nil), s.tier0[i].Keywords...)
	}
	copy(snap.Tier1, s.tier1)
	for i := range snap.Tier1 {
		snap.Tier1[i].Keywords = append([]string(nil), s.tier1[i].Keywords...)
	}
	if s.tier2 != nil {
		mega := *s.tier2
		mega.Keywords = append([]string(nil), s.tier2.Keywords...)
		snap.Tier2 = &mega
	}
	return snap
}

// TokenStats sums compressed token counts per tier.
func (s *TieredHistoryStore) TokenStats() TokenStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats TokenStats
	for _, t := range s.tier0 {
		stats.Tier0 += t.CompressedTokens
	}
	for _, m := range s.tier1 {
		stats.Tier1 += m.Tokens
	}
	if s.tier2 != nil {
		stats.Tier2 = s.tier2.Tokens
	}
	return stats
}
