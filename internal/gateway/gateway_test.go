package gateway

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/loreleaf/tierbot/internal/bus"
	"github.com/loreleaf/tierbot/internal/config"
	"github.com/loreleaf/tierbot/internal/llm"
)

// fakeClient implements llm.Client for testing
type fakeClient struct {
	prompts []string
	reply   string
	err     error
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func testGatewayConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.History.Dir = t.TempDir()
	cfg.Personas.Dir = t.TempDir()
	cfg.Channels.CLI.Enabled = false
	return cfg
}

func TestHandleMessageRoundTrip(t *testing.T) {
	cfg := testGatewayConfig(t)
	client := &fakeClient{reply: "nice to meet you"}

	gw, err := NewWithOptions(cfg, Options{Client: client})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	defer gw.Shutdown()

	msg := bus.InboundMessage{
		Channel:  "test",
		SenderID: "42",
		ChatID:   "42",
		Content:  "hello bot",
		Language: "en",
	}
	reply := gw.HandleMessage(context.Background(), msg)
	if reply != "nice to meet you" {
		t.Errorf("reply = %q, want 'nice to meet you'", reply)
	}

	if len(client.prompts) != 1 {
		t.Fatalf("client called %d times, want 1", len(client.prompts))
	}
	if !strings.HasSuffix(client.prompts[0], "hello bot") {
		t.Errorf("prompt does not end with user input:\n%s", client.prompts[0])
	}

	// both turns must now be visible in the session snapshot
	session := gw.sessions.Get(msg.SessionKey())
	snap := session.Snapshot()
	if len(snap.Tier0) != 2 {
		t.Fatalf("tier0 length = %d, want 2 (user + assistant)", len(snap.Tier0))
	}
	if snap.Tier0[0].RawText != "hello bot" {
		t.Errorf("first turn = %q, want user input", snap.Tier0[0].RawText)
	}
	if snap.Tier0[1].RawText != "nice to meet you" {
		t.Errorf("second turn = %q, want assistant reply", snap.Tier0[1].RawText)
	}
}

func TestHandleMessageIncludesHistoryInPrompt(t *testing.T) {
	cfg := testGatewayConfig(t)
	client := &fakeClient{reply: "reply"}

	gw, err := NewWithOptions(cfg, Options{Client: client})
	if err != nil {
		t.Fatal(err)
	}
	defer gw.Shutdown()

	msg := bus.InboundMessage{Channel: "test", ChatID: "1", Content: "my cat is called Biscuit", Language: "en"}
	gw.HandleMessage(context.Background(), msg)

	msg.Content = "what is my cat called?"
	gw.HandleMessage(context.Background(), msg)

	if len(client.prompts) != 2 {
		t.Fatalf("client called %d times, want 2", len(client.prompts))
	}
	if !strings.Contains(client.prompts[1], "Biscuit") {
		t.Errorf("second prompt lost earlier context:\n%s", client.prompts[1])
	}
}

func TestHandleMessageCompletionError(t *testing.T) {
	cfg := testGatewayConfig(t)
	client := &fakeClient{err: fmt.Errorf("provider down")}

	gw, err := NewWithOptions(cfg, Options{Client: client})
	if err != nil {
		t.Fatal(err)
	}
	defer gw.Shutdown()

	msg := bus.InboundMessage{Channel: "test", ChatID: "1", Content: "hello"}
	reply := gw.HandleMessage(context.Background(), msg)
	if !strings.Contains(reply, "error") {
		t.Errorf("reply = %q, want apology text", reply)
	}

	// failed completions must not pollute the history
	session := gw.sessions.Get(msg.SessionKey())
	if snap := session.Snapshot(); len(snap.Tier0) != 0 {
		t.Errorf("tier0 length = %d after failed completion, want 0", len(snap.Tier0))
	}
}

func TestSessionsAreIsolatedPerChat(t *testing.T) {
	cfg := testGatewayConfig(t)
	client := &fakeClient{reply: "ok"}

	gw, err := NewWithOptions(cfg, Options{Client: client})
	if err != nil {
		t.Fatal(err)
	}
	defer gw.Shutdown()

	gw.HandleMessage(context.Background(), bus.InboundMessage{Channel: "test", ChatID: "1", Content: "only for chat one"})
	gw.HandleMessage(context.Background(), bus.InboundMessage{Channel: "test", ChatID: "2", Content: "only for chat two"})

	secondPrompt := client.prompts[1]
	if strings.Contains(secondPrompt, "chat one") {
		t.Errorf("chat 2 prompt leaked chat 1 history:\n%s", secondPrompt)
	}
}
