// Package cli implements an interactive command-line gateway.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/gateway"
)

const cliIdentity = "cli-user"

// Gateway is the interactive command-line interface.
type Gateway struct {
	engine gateway.Engine
	logger *slog.Logger
	done   chan struct{} // closed by Stop to signal shutdown
}

// NewGateway creates a CLI gateway backed by the given engine.
func NewGateway(e gateway.Engine, logger *slog.Logger) *Gateway {
	return &Gateway{
		engine: e,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start runs the interactive REPL. Blocks until ctx is cancelled, Stop is
// called, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Println("NextVibe — coding tasks, classified and executed in a sandbox")
	fmt.Println("Type a request (or \"exit\" to quit, \"history\" for recent results).")
	fmt.Println()

	for {
		fmt.Print("nextvibe> ")

		select {
		case <-ctx.Done():
			fmt.Println("\nShutting down.")
			return nil
		case <-g.done:
			fmt.Println("\nShutting down.")
			return nil
		default:
		}

		// Scan blocks until the next line of stdin, so a Stop or context
		// cancellation issued mid-read is only noticed after the user hits
		// enter. That is fine for a terminal: serve's signal handler kills
		// the process, and piped input ends with EOF.
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			fmt.Println("Goodbye.")
			return nil
		case line == "history":
			g.printHistory(ctx)
			continue
		}

		res, err := g.engine.HandleRequest(ctx, cliIdentity, line, nil)
		if err != nil {
			// Only caller cancellation reaches here.
			fmt.Println("\nShutting down.")
			return nil
		}

		fmt.Println()
		fmt.Println(FormatResult(res))
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

func (g *Gateway) printHistory(ctx context.Context) {
	results, err := g.engine.History(ctx, cliIdentity, 10)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if len(results) == 0 {
		fmt.Println("No history yet.")
		return
	}
	for _, r := range results {
		status := "ok"
		if r.Error != nil {
			status = string(r.Error.Code)
		}
		fmt.Printf("%s  %-8s %-10s %s\n",
			r.CreatedAt.Local().Format(time.DateTime),
			r.Category, status, r.TaskID)
	}
}

// FormatResult renders a TaskResult as plain terminal text.
func FormatResult(res *domain.TaskResult) string {
	var b strings.Builder

	if res.Narrative != "" {
		b.WriteString(res.Narrative)
	}

	if exec := res.Execution; exec != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- execution (%s, exit %d, %s) ---\n",
			exec.Status, exec.ExitCode, exec.Duration.Round(time.Millisecond))
		if exec.Stdout != "" {
			b.WriteString(exec.Stdout)
			if !strings.HasSuffix(exec.Stdout, "\n") {
				b.WriteByte('\n')
			}
		}
		if exec.Stderr != "" {
			b.WriteString("[stderr]\n")
			b.WriteString(exec.Stderr)
			if !strings.HasSuffix(exec.Stderr, "\n") {
				b.WriteByte('\n')
			}
		}
	}

	if res.Error != nil {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "! %s", res.Error.Message)
		if res.Error.RetryAfter > 0 {
			fmt.Fprintf(&b, " (retry in %s)", res.Error.RetryAfter.Round(time.Second))
		}
	}

	if b.Len() == 0 {
		return "(no output)"
	}
	return strings.TrimRight(b.String(), "\n")
}
