package memory

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/loreleaf/tierbot/internal/config"
	"github.com/loreleaf/tierbot/internal/persona"
)

// SessionCoordinator ties one (bot, chat) pair's store, persistence and
// prompt assembly together and owns the periodic flush ticker. The ticker
// starts in NewSessionCoordinator and stops in Close; flush and load are
// serialized by an explicit mutex so the background flush can never race a
// foreground one.
type SessionCoordinator struct {
	Key string

	store     *TieredHistoryStore
	persist   *PersistenceManager
	assembler *PromptAssembler

	user *persona.Persona
	char *persona.Persona

	historyOn  bool
	flushCount int

	flushMu sync.Mutex

	mu        sync.Mutex
	lastReply time.Time

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSessionCoordinator builds the session and starts its flush ticker.
// key is the channel-scoped session key ("telegram:12345"); histories land
// under historyDir/<bot>/<key-as-path>.
func NewSessionCoordinator(cfg *config.Config, key string, user, char *persona.Persona) *SessionCoordinator {
	counter := NewHeuristicCounter()
	compressor := NewRankCompressor(cfg.Memory.FallbackLanguage)
	tracker := NewHeuristicTracker()

	dir := filepath.Join(cfg.History.Dir, sanitizeName(cfg.Bot.Name), sanitizeName(key))

	s := &SessionCoordinator{
		Key:        key,
		store:      NewTieredHistoryStore(cfg.Memory, counter, compressor, tracker),
		assembler:  NewPromptAssembler(user, char),
		user:       user,
		char:       char,
		historyOn:  cfg.History.Enabled,
		flushCount: cfg.History.FlushCount,
		stopCh:     make(chan struct{}),
	}
	s.persist = NewPersistenceManager(dir, user.DisplayName(), char.DisplayName(), cfg.History.MaxFileBytes, SessionMeta{
		ActiveModel: cfg.Provider.Model,
		Jailbreak:   char.Templates.Jailbreak != "",
		HistoryOn:   cfg.History.Enabled,
	})

	if s.historyOn {
		s.ticker = time.NewTicker(cfg.FlushInterval())
		s.wg.Add(1)
		go s.flushLoop()
	}
	return s
}

func (s *SessionCoordinator) flushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ticker.C:
			if s.persist.PendingCount() == 0 {
				continue
			}
			if _, err := s.Flush(); err != nil {
				log.Printf("[session %s] periodic flush failed, will retry: %v", s.Key, err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// AppendUserTurn records one inbound user message.
func (s *SessionCoordinator) AppendUserTurn(text, language string) Turn {
	turn := s.store.AppendUserTurn(s.user.DisplayName(), language, text)
	s.recordTurn(turn)
	return turn
}

// AppendAssistantTurn records one model reply and advances the last-reply
// clock used by prompt templates.
func (s *SessionCoordinator) AppendAssistantTurn(text, language string) Turn {
	turn := s.store.AppendAssistantTurn(s.char.DisplayName(), language, text)
	s.recordTurn(turn)

	s.mu.Lock()
	s.lastReply = time.Now()
	s.mu.Unlock()
	return turn
}

func (s *SessionCoordinator) recordTurn(turn Turn) {
	if !s.historyOn {
		return
	}
	s.persist.Record(turn)
	if s.flushCount > 0 && s.persist.PendingCount() >= s.flushCount {
		if _, err := s.Flush(); err != nil {
			log.Printf("[session %s] count-triggered flush failed, will retry: %v", s.Key, err)
		}
	}
}

// AssemblePrompt renders the completion prompt for the given live input.
func (s *SessionCoordinator) AssemblePrompt(userInput string) string {
	s.mu.Lock()
	last := s.lastReply
	s.mu.Unlock()
	return s.assembler.Assemble(s.store.GetAllContext(), last, userInput)
}

// Snapshot exposes the store's read view for status reporting.
func (s *SessionCoordinator) Snapshot() Snapshot { return s.store.GetAllContext() }

// TokenStats reports per-tier compressed token totals.
func (s *SessionCoordinator) TokenStats() TokenStats { return s.store.TokenStats() }

// MegaStub and ReplaceMegaText pass through to the store for the async
// tier-2 rewrite pass.
func (s *SessionCoordinator) MegaStub() (string, bool) { return s.store.MegaStub() }

func (s *SessionCoordinator) ReplaceMegaText(prev, text string) bool {
	return s.store.ReplaceMegaText(prev, text)
}

// Flush writes pending turns to disk. Safe to call concurrently with the
// background ticker.
func (s *SessionCoordinator) Flush() (string, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	return s.persist.Flush()
}

// LoadWindow is how many persisted turns seed a fresh session: enough to
// refill tier-0 and tier-1 plus one promotion batch, with a small margin
// for entity context.
func LoadWindow(m config.MemoryConfig) int {
	return m.Tier0Max + m.Tier1Max + m.BatchSize + 5
}

// Load seeds the store from disk. A missing file is not an error; the
// session simply starts empty.
func (s *SessionCoordinator) Load(window int) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	path, err := s.persist.Load(s.store, s.user.DisplayName(), window)
	if err != nil {
		if errors.Is(err, ErrNoHistory) {
			return nil
		}
		return fmt.Errorf("load session %s: %w", s.Key, err)
	}
	log.Printf("[session %s] restored history from %s", s.Key, filepath.Base(path))
	return nil
}

// Close stops the flush ticker and performs a final flush.
func (s *SessionCoordinator) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stopCh)
		s.wg.Wait()
	}
	if !s.historyOn {
		return nil
	}
	_, err := s.Flush()
	return err
}

// SessionRegistry owns every live SessionCoordinator, keyed by the
// channel-scoped session key. It replaces any notion of a process-global
// session map; the service constructs exactly one and passes it where
// lookups are needed.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*SessionCoordinator

	cfg  *config.Config
	user *persona.Persona
	char *persona.Persona
}

func NewSessionRegistry(cfg *config.Config, user, char *persona.Persona) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*SessionCoordinator),
		cfg:      cfg,
		user:     user,
		char:     char,
	}
}

// Get returns the session for key, creating and seeding it on first use.
func (r *SessionRegistry) Get(key string) *SessionCoordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s
	}
	s := NewSessionCoordinator(r.cfg, key, r.user, r.char)
	if r.cfg.History.Enabled {
		if err := s.Load(LoadWindow(r.cfg.Memory)); err != nil {
			log.Printf("[registry] seeding session %s failed, starting empty: %v", key, err)
		}
	}
	r.sessions[key] = s
	return s
}

// Peek returns the session for key without creating one.
func (r *SessionRegistry) Peek(key string) (*SessionCoordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Keys lists the live session keys.
func (r *SessionRegistry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}

// FlushAll flushes every live session, returning the first error after
// attempting all of them.
func (r *SessionRegistry) FlushAll() error {
	r.mu.Lock()
	sessions := make([]*SessionCoordinator, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if _, err := s.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close tears down every session.
func (r *SessionRegistry) Close() error {
	r.mu.Lock()
	sessions := make([]*SessionCoordinator, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*SessionCoordinator)
	r.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
