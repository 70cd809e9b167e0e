package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// ErrNoHistory is returned by Load when no file exists yet for the
// (user, char) pair. Callers treat it as "start fresh", not as a failure.
var ErrNoHistory = errors.New("no history file")

// SessionMeta is the non-turn state persisted alongside the history buffer.
type SessionMeta struct {
	ActiveService string
	ActiveModel   string
	Jailbreak     any
	HistoryOn     bool
}

// PersistenceManager owns the on-disk history for one
// (bot, chat, user, char) tuple. Files live under dir (already namespaced
// by bot and chat) as "{user}_with_{char}.json", rotating to a "_v{N}"
// suffix once the current file reaches maxBytes.
//
// Flush is read-merge-write and clears the pending buffer only on success,
// so a failed write retries the same data on the next flush. Duplicate
// entries are collapsed during the merge, which makes the retry safe.
type PersistenceManager struct {
	mu sync.Mutex

	dir      string
	userKey  string
	charKey  string
	maxBytes int64
	meta     SessionMeta

	pending []HistoryEntry
}

func NewPersistenceManager(dir, userKey, charKey string, maxBytes int64, meta SessionMeta) *PersistenceManager {
	return &PersistenceManager{
		dir:      dir,
		userKey:  userKey,
		charKey:  charKey,
		maxBytes: maxBytes,
		meta:     meta,
	}
}

// Record queues one turn for the next flush.
func (p *PersistenceManager) Record(turn Turn) {
	entry := HistoryEntry{
		TS:               turn.Timestamp,
		Who:              turn.Speaker,
		Lang:             turn.Language,
		Text:             turn.RawText,
		RawTokens:        turn.RawTokens,
		CompressedTokens: turn.CompressedTokens,
	}
	if turn.CompressedText != turn.RawText {
		entry.Compressed = turn.CompressedText
	}

	p.mu.Lock()
	p.pending = append(p.pending, entry)
	p.mu.Unlock()
}

func (p *PersistenceManager) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *PersistenceManager) baseName() string {
	return fmt.Sprintf("%s_with_%s", sanitizeName(p.userKey), sanitizeName(p.charKey))
}

var unsafePathChars = regexp.MustCompile(`[^\w.-]+`)

func sanitizeName(name string) string {
	cleaned := unsafePathChars.ReplaceAllString(name, "_")
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}

// latestVersion scans dir for the highest version file of this pair.
// Version 0 is the unsuffixed file. found is false when no file matches.
func (p *PersistenceManager) latestVersion() (path string, version int, found bool, err error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, false, nil
		}
		return "", 0, false, fmt.Errorf("scan history dir: %w", err)
	}

	pattern, err := regexp.Compile("^" + regexp.QuoteMeta(p.baseName()) + `(?:_v(\d+))?\.json$`)
	if err != nil {
		return "", 0, false, fmt.Errorf("history name pattern: %w", err)
	}

	best := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v := 0
		if m[1] != "" {
			fmt.Sscanf(m[1], "%d", &v)
		}
		if v > best {
			best = v
			path = filepath.Join(p.dir, e.Name())
		}
	}
	if best < 0 {
		return "", 0, false, nil
	}
	return path, best, true, nil
}

func (p *PersistenceManager) versionPath(version int) string {
	if version == 0 {
		return filepath.Join(p.dir, p.baseName()+".json")
	}
	return filepath.Join(p.dir, fmt.Sprintf("%s_v%d.json", p.baseName(), version))
}

// Flush merges the pending buffer into the latest version file and writes
// it back, rotating to a new version first when the file is already at the
// byte cap. An empty pending buffer is a complete no-op: no file is created
// or touched. Returns the path written.
func (p *PersistenceManager) Flush() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pending) == 0 {
		return "", nil
	}

	path, version, found, err := p.latestVersion()
	if err != nil {
		return "", err
	}

	doc := HistoryDocument{
		ActiveService: nullableString(p.meta.ActiveService),
		ActiveModel:   nullableString(p.meta.ActiveModel),
		ActiveChar:    p.charKey,
		ActiveUser:    p.userKey,
		Jailbreak:     p.meta.Jailbreak,
		HistoryOn:     p.meta.HistoryOn,
	}

	if found {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("stat history file: %w", err)
		}
		if info.Size() >= p.maxBytes {
			// rotate, the new file starts with only the pending turns
			version++
			path = p.versionPath(version)
			found = false
		}
	} else {
		path = p.versionPath(0)
	}

	if found {
		existing, err := readHistoryDocument(path)
		if err != nil {
			return "", err
		}
		doc.HistoryBuffer = existing.HistoryBuffer
	}
	doc.HistoryBuffer = mergeEntries(doc.HistoryBuffer, p.pending)

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return "", fmt.Errorf("create history dir: %w", err)
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write history: %w", err)
	}

	p.pending = nil
	return path, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func readHistoryDocument(path string) (*HistoryDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}
	var doc HistoryDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse history file %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

// mergeEntries appends pending entries not already present, keyed by
// (ts, who, text). Ordering of existing entries is preserved.
func mergeEntries(existing, pending []HistoryEntry) []HistoryEntry {
	seen := make(map[string]bool, len(existing))
	key := func(e HistoryEntry) string {
		return e.TS + "\x00" + e.Who + "\x00" + e.Text
	}
	for _, e := range existing {
		seen[key(e)] = true
	}
	out := existing
	for _, e := range pending {
		if seen[key(e)] {
			continue
		}
		seen[key(e)] = true
		out = append(out, e)
	}
	return out
}

// Load seeds store from the most recent window of the latest version file.
// Entries whose speaker matches userName replay through the user path, the
// rest through the assistant path. A malformed timestamp skips that entry
// with a warning. Returns ErrNoHistory when no file exists.
func (p *PersistenceManager) Load(store *TieredHistoryStore, userName string, window int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path, _, found, err := p.latestVersion()
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNoHistory
	}

	doc, err := readHistoryDocument(path)
	if err != nil {
		return "", err
	}

	entries := doc.HistoryBuffer
	if window > 0 && len(entries) > window {
		entries = entries[len(entries)-window:]
	}

	for _, e := range entries {
		if _, err := time.Parse(TimestampLayout, e.TS); err != nil {
			log.Printf("[persist] skipping entry with bad timestamp %q in %s", e.TS, filepath.Base(path))
			continue
		}
		if e.Who == userName {
			store.RestoreUserTurn(e.Who, e.Lang, e.Text, e.TS)
		} else {
			store.RestoreAssistantTurn(e.Who, e.Lang, e.Text, e.TS)
		}
	}
	return path, nil
}
