package memory

import "time"

// TimestampLayout is the on-disk and in-memory timestamp format. The load
// path must parse exactly what the append path produces.
const TimestampLayout = "2006-01-02_15-04-05"

// Turn is one raw conversational message. It is mutated exactly once, by the
// compression step right after creation; after that it is read-only and
// owned by the tier-0 buffer until promoted or dropped.
type Turn struct {
	Timestamp        string
	Speaker          string
	Language         string
	RawText          string
	RawTokens        int
	CompressedText   string
	CompressedTokens int
	Keywords         []string
}

// MidSummary is the tier-1 record produced by promoting one Turn out of
// tier-0. Immutable after creation.
type MidSummary struct {
	Speaker   string
	Language  string
	Text      string
	Tokens    int
	Timestamp string
	Keywords  []string
}

// MegaSummary is the single tier-2 record. Each re-promotion folds the
// previous one into the new one, so its span and keywords only ever grow
// (keywords subject to the tier-2 bucket cap). IsStub stays true until an
// optional model rewrite replaces the mechanically produced text.
type MegaSummary struct {
	Text      string
	Keywords  []string
	Tokens    int
	SpanStart time.Time
	SpanEnd   time.Time
	IsStub    bool
}

// Snapshot is a read-only copy of the three tiers and their entity buckets.
// Everything is deep-copied; mutating a snapshot cannot bypass promotion
// invariants.
type Snapshot struct {
	Tier0 []Turn
	Tier1 []MidSummary
	Tier2 *MegaSummary

	Tier0Entities []string
	Tier1Entities []string
	Tier2Entities []string
}

// TokenStats is the summed compressed-token count per tier.
type TokenStats struct {
	Tier0 int
	Tier1 int
	Tier2 int
}

// HistoryEntry is the persisted form of a Turn. Field names are fixed;
// changing them strands existing history files.
type HistoryEntry struct {
	TS               string `json:"ts"`
	Who              string `json:"who"`
	Lang             string `json:"lang"`
	Text             string `json:"text"`
	RawTokens        int    `json:"tokens_text"`
	CompressedTokens int    `json:"tokens_compressed"`
	Compressed       string `json:"compressed,omitempty"`
}

// HistoryDocument is the on-disk JSON document for one
// (bot, chat, user, char) tuple. Service and model are pointers so an
// unset value round-trips as null rather than "".
type HistoryDocument struct {
	ActiveService *string        `json:"active_service"`
	ActiveModel   *string        `json:"active_model"`
	ActiveChar    string         `json:"active_char"`
	ActiveUser    string         `json:"active_user"`
	Jailbreak     any            `json:"jailbreak"`
	HistoryOn     bool           `json:"history_on"`
	HistoryBuffer []HistoryEntry `json:"history_buffer"`
}
