package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

// Exit codes for the query command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2
	ExitUnavailable = 3
)

var (
	queryMessage  string
	queryServer   string
	queryAPIToken string
	queryIdentity string
	queryAttach   string
	queryLanguage string
	queryTimeout  int
	queryHistory  int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a one-shot request to a running engine",
	Long: `Send a request to the NextVibe HTTP API for processing.
The request is classified, answered by the collaborator, and any generated
code is executed in the sandbox. The narrative and execution output are
printed when the task completes.

Examples:
  nextvibe query -m "why does this panic?" --attach main.go
  nextvibe query -m "sum the primes below 1000" --language python
  nextvibe query --history 10

Exit codes:
  0  success
  1  execution failure
  2  denied, unauthorized, or rate limited
  3  engine unavailable`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryMessage, "message", "m", "", "message to send")
	queryCmd.Flags().StringVar(&queryServer, "server-url", "http://localhost:8080", "engine HTTP API URL")
	queryCmd.Flags().StringVar(&queryAPIToken, "api-token", "", "bearer token (or NEXTVIBE_API_TOKEN env)")
	queryCmd.Flags().StringVar(&queryIdentity, "identity", "cli-user", "requester identity")
	queryCmd.Flags().StringVar(&queryAttach, "attach", "", "attach a source file to the request")
	queryCmd.Flags().StringVar(&queryLanguage, "language", "", "language of the attached file (default: from extension)")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 300, "timeout in seconds")
	queryCmd.Flags().IntVar(&queryHistory, "history", 0, "print the last N results instead of submitting")
}

func runQuery(_ *cobra.Command, _ []string) error {
	apiToken := goutils.Env("NEXTVIBE_API_TOKEN", queryAPIToken)
	serverURL := strings.TrimRight(goutils.Env("NEXTVIBE_SERVER_URL", queryServer), "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(queryTimeout)*time.Second)
	defer cancel()

	if queryHistory > 0 {
		return runHistory(ctx, serverURL, apiToken)
	}
	if queryMessage == "" {
		return fmt.Errorf("message is required: use -m flag")
	}
	return runSubmit(ctx, serverURL, apiToken)
}

// runSubmit posts the task and prints the result. Blocks until the engine
// finishes classification, generation, and sandbox execution.
func runSubmit(ctx context.Context, serverURL, apiToken string) error {
	body := map[string]any{
		"identity": queryIdentity,
		"input":    queryMessage,
	}
	if queryAttach != "" {
		source, err := os.ReadFile(queryAttach)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: reading %s: %v\n", queryAttach, err)
			os.Exit(ExitFailure)
		}
		body["attachments"] = []map[string]string{{
			"kind":     "code",
			"language": attachLanguage(),
			"content":  string(source),
		}}
	}

	respBody, status := doRequest(ctx, "POST", serverURL+"/v1/tasks", apiToken, body)
	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API token)")
		os.Exit(ExitDenied)
	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited — try again later")
		os.Exit(ExitDenied)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: engine unavailable (%d)\n", status)
		os.Exit(ExitUnavailable)
	default:
		fmt.Fprintf(os.Stderr, "Error: engine returned %d: %s\n", status, string(respBody))
		os.Exit(ExitFailure)
	}

	var result taskResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed response: %v\n", err)
		os.Exit(ExitFailure)
	}
	printResult(&result)

	if result.Error != nil {
		os.Exit(ExitDenied)
	}
	if result.Execution != nil && result.Execution.Status != "success" {
		os.Exit(ExitFailure)
	}
	os.Exit(ExitSuccess)
	return nil
}

// runHistory prints recent results for the identity, newest first.
func runHistory(ctx context.Context, serverURL, apiToken string) error {
	url := fmt.Sprintf("%s/v1/history/%s?limit=%d", serverURL, queryIdentity, queryHistory)
	respBody, status := doRequest(ctx, "GET", url, apiToken, nil)
	if status != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: engine returned %d: %s\n", status, string(respBody))
		os.Exit(ExitFailure)
	}

	var results []taskResult
	if err := json.Unmarshal(respBody, &results); err != nil {
		fmt.Fprintf(os.Stderr, "Error: malformed response: %v\n", err)
		os.Exit(ExitFailure)
	}
	for i, r := range results {
		if i > 0 {
			fmt.Println(strings.Repeat("-", 40))
		}
		fmt.Printf("[%s] %s (%s)\n", r.CreatedAt.Format(time.RFC3339), r.TaskID, r.Category)
		printResult(&r)
	}
	return nil
}

type taskResult struct {
	TaskID    string    `json:"task_id"`
	Category  string    `json:"category"`
	Narrative string    `json:"narrative"`
	CreatedAt time.Time `json:"created_at"`
	Execution *struct {
		Status     string `json:"status"`
		Stdout     string `json:"stdout"`
		Stderr     string `json:"stderr"`
		ExitCode   int    `json:"exit_code"`
		DurationMS int64  `json:"duration_ms"`
	} `json:"execution"`
	Error *struct {
		Code              string `json:"code"`
		Message           string `json:"message"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
	} `json:"error"`
}

func printResult(r *taskResult) {
	if r.Narrative != "" {
		fmt.Println(r.Narrative)
	}
	if exec := r.Execution; exec != nil {
		fmt.Fprintf(os.Stderr, "\n[execution: %s, exit %d, %dms]\n", exec.Status, exec.ExitCode, exec.DurationMS)
		if exec.Stdout != "" {
			fmt.Print(exec.Stdout)
			if !strings.HasSuffix(exec.Stdout, "\n") {
				fmt.Println()
			}
		}
		if exec.Stderr != "" {
			fmt.Fprint(os.Stderr, exec.Stderr)
			if !strings.HasSuffix(exec.Stderr, "\n") {
				fmt.Fprintln(os.Stderr)
			}
		}
	}
	if r.Error != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", r.Error.Message)
		if r.Error.RetryAfterSeconds > 0 {
			fmt.Fprintf(os.Stderr, "  retry after %ds\n", r.Error.RetryAfterSeconds)
		}
	}
}

// doRequest performs one API call and returns the body and status code.
// Transport errors exit immediately with ExitUnavailable.
func doRequest(ctx context.Context, method, url, apiToken string, body any) ([]byte, int) {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach engine at %s: %v\n", url, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return respBody, resp.StatusCode
}

// attachLanguage returns the language for the attached file, inferring it
// from the file extension when the flag is not set.
func attachLanguage() string {
	if queryLanguage != "" {
		return queryLanguage
	}
	switch filepath.Ext(queryAttach) {
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".js", ".mjs":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".rb":
		return "ruby"
	case ".sh":
		return "bash"
	case ".c":
		return "c"
	case ".rs":
		return "rust"
	default:
		return ""
	}
}
