package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/hivemind-ai/hivemind/pkg/llms"
	"github.com/hivemind-ai/hivemind/pkg/logger"
	"github.com/hivemind-ai/hivemind/pkg/observability"
	"github.com/hivemind-ai/hivemind/pkg/protocol"
)

// ChatCmd runs an interactive streaming chat session against the configured
// model, without starting the server.
type ChatCmd struct {
	System string `help:"System prompt for the session."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("chat needs an interactive terminal; use the HTTP API for scripted access")
	}

	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Default()
	llmRegistry := llms.NewRegistry()
	client, err := llmRegistry.CreateClient("default", &cfg.LLM, observability.NewMetrics(), log)
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}
	defer client.Close()

	fmt.Printf("Chatting with %s (%s). /quit to exit, /clear to reset history.\n\n",
		client.ModelName(), client.Backend())

	var history []protocol.Message
	if c.System != "" {
		history = append(history, *protocol.System(c.System))
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch input {
		case "/quit", "/exit":
			return nil
		case "/clear":
			history = history[:0]
			if c.System != "" {
				history = append(history, *protocol.System(c.System))
			}
			fmt.Println("history cleared")
			continue
		}

		history = append(history, *protocol.User(input))

		reply, err := streamTurn(ctx, client, history)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println()
				return nil
			}
			fmt.Printf("error: %v\n\n", err)
			// Drop the failed turn so a transient error doesn't poison
			// the transcript.
			history = history[:len(history)-1]
			continue
		}
		history = append(history, *protocol.Assistant(reply))
	}
}

// streamTurn streams one completion to stdout and returns the full text.
func streamTurn(ctx context.Context, client *llms.Client, history []protocol.Message) (string, error) {
	chunks, err := client.ChatStream(ctx, history, nil)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for chunk := range chunks {
		switch chunk.Type {
		case llms.ChunkText:
			fmt.Print(chunk.Text)
			b.WriteString(chunk.Text)
		case llms.ChunkError:
			fmt.Println()
			return "", chunk.Err
		}
	}
	fmt.Print("\n\n")
	return b.String(), nil
}
