package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"Rivalz-Swarm/sdk/go/rivalz"
)

var (
	agentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"})
	toolStyle  = lipgloss.NewStyle().Faint(true)
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"})
	hintStyle  = lipgloss.NewStyle().Faint(true).Italic(true)
)

type chatClient interface {
	Chat(ctx context.Context, req rivalz.ChatRequest) (rivalz.ChatReply, error)
}

// repl reads one message per line and prints the agents' replies. /new starts
// a fresh conversation, /quit or EOF ends the loop.
type repl struct {
	client    chatClient
	in        io.Reader
	out       io.Writer
	sessionID string
	timeout   time.Duration
}

func (r *repl) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, hintStyle.Render("Rivalz multi-agent chat. /new resets the conversation, /quit exits."))
	scanner := bufio.NewScanner(r.in)
	for {
		fmt.Fprint(r.out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			r.sessionID = ""
			fmt.Fprintln(r.out, hintStyle.Render("new conversation"))
			continue
		}

		if err := r.send(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintln(r.out, errorStyle.Render("error: "+err.Error()))
		}
	}
}

func (r *repl) send(ctx context.Context, message string) error {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	reply, err := r.client.Chat(callCtx, rivalz.ChatRequest{Message: message, SessionID: r.sessionID})
	if err != nil {
		return err
	}
	r.sessionID = reply.SessionID

	for _, msg := range reply.Messages {
		switch msg.Role {
		case "assistant":
			for _, call := range msg.ToolCalls {
				fmt.Fprintln(r.out, toolStyle.Render(fmt.Sprintf("  %s -> %s(%s)", msg.Sender, call.Name, call.Arguments)))
			}
		case "tool":
			fmt.Fprintln(r.out, toolStyle.Render(fmt.Sprintf("  <- %s: %s", msg.ToolName, truncate(msg.Content, 160))))
		}
	}
	if reply.Response != "" {
		fmt.Fprintf(r.out, "%s: %s\n", agentStyle.Render(reply.Agent), reply.Response)
	}
	if reply.Truncated {
		fmt.Fprintln(r.out, hintStyle.Render("(turn limit reached)"))
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
