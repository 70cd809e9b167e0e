package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loreleaf/tierbot/internal/bus"
	"github.com/loreleaf/tierbot/internal/channel"
	"github.com/loreleaf/tierbot/internal/config"
	"github.com/loreleaf/tierbot/internal/cron"
	"github.com/loreleaf/tierbot/internal/llm"
	"github.com/loreleaf/tierbot/internal/memory"
	"github.com/loreleaf/tierbot/internal/persona"
)

// Options for creating a Gateway
type Options struct {
	Client     llm.Client     // overrides the HTTP provider client (for testing)
	SignalChan chan os.Signal // for testing signal handling
}

// Gateway wires channels, the session registry and the completion client
// together. One inbound message means: look up the session, assemble the
// prompt, complete, record both turns, reply.
type Gateway struct {
	cfg      *config.Config
	bus      *bus.MessageBus
	client   llm.Client
	sessions *memory.SessionRegistry
	rewriter *memory.Rewriter
	channels *channel.ChannelManager
	cron     *cron.Service

	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		signalChan: opts.SignalChan,
	}

	user, err := persona.LoadOrDefault(cfg.Personas.Dir, personaKey(cfg.Personas.User, "user"))
	if err != nil {
		return nil, fmt.Errorf("load user persona: %w", err)
	}
	char, err := persona.LoadOrDefault(cfg.Personas.Dir, personaKey(cfg.Personas.Char, cfg.Bot.Name))
	if err != nil {
		return nil, fmt.Errorf("load char persona: %w", err)
	}

	g.client = opts.Client
	if g.client == nil {
		g.client = llm.NewClient(cfg.Provider)
	}

	g.sessions = memory.NewSessionRegistry(cfg, user, char)
	if cfg.Rewrite.Enabled {
		g.rewriter = memory.NewRewriter(g.client, cfg.Rewrite)
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	sweep, err := cron.NewService(cfg.History.DailySweep)
	if err != nil {
		return nil, fmt.Errorf("create sweep service: %w", err)
	}
	sweep.OnSweep = g.runSweep
	g.cron = sweep

	return g, nil
}

func personaKey(key, fallback string) string {
	if strings.TrimSpace(key) != "" {
		return key
	}
	return fallback
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] sweep start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] %s running", g.cfg.Bot.Name)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

			reply := g.HandleMessage(ctx, msg)
			if reply != "" {
				g.bus.Outbound <- bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: reply,
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// HandleMessage runs the full turn pipeline for one inbound message and
// returns the reply text. Sessions are keyed per (channel, chat), so
// distinct chats never share state; within one chat the processLoop
// serializes calls.
func (g *Gateway) HandleMessage(ctx context.Context, msg bus.InboundMessage) string {
	session := g.sessions.Get(msg.SessionKey())

	prompt := session.AssemblePrompt(msg.Content)
	reply, err := g.client.Complete(ctx, llm.Request{Prompt: prompt})
	if err != nil {
		log.Printf("[gateway] completion error: %v", err)
		return "Sorry, I encountered an error processing your message."
	}

	session.AppendUserTurn(msg.Content, msg.Language)
	session.AppendAssistantTurn(reply, msg.Language)

	stats := session.TokenStats()
	log.Printf("[gateway] session %s tokens t0=%d t1=%d t2=%d",
		session.Key, stats.Tier0, stats.Tier1, stats.Tier2)

	if g.rewriter != nil {
		go func() {
			if _, err := g.rewriter.RewriteStub(ctx, session); err != nil {
				log.Printf("[gateway] mega rewrite warning: %v", err)
			}
		}()
	}

	return reply
}

// runSweep is the daily maintenance pass: flush everything, then rewrite
// any stub mega summaries.
func (g *Gateway) runSweep(ctx context.Context) {
	if err := g.sessions.FlushAll(); err != nil {
		log.Printf("[gateway] sweep flush warning: %v", err)
	}
	if g.rewriter == nil {
		return
	}
	for _, key := range g.sessions.Keys() {
		session, ok := g.sessions.Peek(key)
		if !ok {
			continue
		}
		if _, err := g.rewriter.RewriteStub(ctx, session); err != nil {
			log.Printf("[gateway] sweep rewrite warning (%s): %v", key, err)
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	if err := g.sessions.Close(); err != nil {
		log.Printf("[gateway] close sessions warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
