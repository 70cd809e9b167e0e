package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/loreleaf/tierbot/internal/bus"
)

const cliChannelName = "cli"

// CLIChannel reads lines from stdin and prints replies to stdout. One
// process, one chat; the chat id is fixed so the session survives only as
// long as its history files do.
type CLIChannel struct {
	BaseChannel
	in     io.Reader
	out    io.Writer
	chatID string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCLIChannel(b *bus.MessageBus) *CLIChannel {
	return &CLIChannel{
		BaseChannel: NewBaseChannel(cliChannelName, b, nil),
		in:          os.Stdin,
		out:         os.Stdout,
		chatID:      "local",
		done:        make(chan struct{}),
	}
}

// SetStreams replaces stdin/stdout (for testing).
func (c *CLIChannel) SetStreams(in io.Reader, out io.Writer) {
	c.in = in
	c.out = out
}

func (c *CLIChannel) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go func() {
		defer close(c.done)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			c.bus.Inbound <- bus.InboundMessage{
				Channel:   cliChannelName,
				SenderID:  "local",
				ChatID:    c.chatID,
				Content:   line,
				Language:  "unknown",
				Timestamp: time.Now(),
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("[cli] read stdin: %v", err)
		}
	}()

	log.Printf("[cli] reading from stdin")
	return nil
}

func (c *CLIChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *CLIChannel) Send(msg bus.OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "%s\n", msg.Content)
	return err
}
