// Package telegram implements a Telegram Bot gateway using long polling or
// webhook mode.
//
// Security:
//   - User allowlist: only explicitly listed Telegram user IDs can interact (default-deny)
//   - Bot token from TELEGRAM_BOT_TOKEN env var, never logged
//   - Webhook path derived from bot token hash (prevents unauthorized POSTs)
//   - Voice notes are transcribed before entering the pipeline; raw audio
//     never reaches the classifier or sandbox
package telegram

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/gateway"
	"github.com/nextvibe/nextvibe/internal/transcribe"
)

const (
	defaultPollTimeout    = 30
	maxUpdateSize         = 256 << 10 // 256 KB
	maxVoiceDownloadBytes = 20 << 20  // Telegram's own bot API file cap.
	telegramSafeMaxLen    = 4000      // Under the 4096 hard limit, margin for encoding.
)

// Config configures the Telegram gateway.
type Config struct {
	BotToken     string  // From TELEGRAM_BOT_TOKEN env var.
	WebhookURL   string  // If set, use webhook mode. If empty, use long polling.
	ListenAddr   string  // For webhook mode.
	AllowedUsers []int64 // Telegram user IDs allowed to interact. Empty = deny all.
	PollTimeout  int     // Long poll timeout in seconds. 0 = 30s default.
}

func (c Config) pollTimeout() int {
	if c.PollTimeout > 0 {
		return c.PollTimeout
	}
	return defaultPollTimeout
}

// Gateway is the Telegram gateway.
type Gateway struct {
	config      Config
	engine      gateway.Engine
	transcriber transcribe.Transcriber // nil = voice messages rejected
	logger      *slog.Logger
	httpClient  *http.Client
	server      *http.Server // nil in polling mode
	cancel      context.CancelFunc
	allowed     map[int64]bool // pre-computed allowlist
	inflight    sync.WaitGroup // update handlers spawned by the poller

	apiBase  string // Overridable in tests.
	fileBase string
}

// NewGateway creates a Telegram gateway. The transcriber may be nil, in
// which case voice messages are answered with a hint instead of processed.
func NewGateway(cfg Config, e gateway.Engine, tr transcribe.Transcriber, logger *slog.Logger) *Gateway {
	allowed := make(map[int64]bool, len(cfg.AllowedUsers))
	for _, uid := range cfg.AllowedUsers {
		allowed[uid] = true
	}
	return &Gateway{
		config:      cfg,
		engine:      e,
		transcriber: tr,
		logger:      logger,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.pollTimeout()+10) * time.Second,
		},
		allowed:  allowed,
		apiBase:  "https://api.telegram.org",
		fileBase: "https://api.telegram.org",
	}
}

// Start launches the gateway in webhook or long-polling mode and blocks.
func (g *Gateway) Start(ctx context.Context) error {
	ctx, g.cancel = context.WithCancel(ctx)

	if g.config.WebhookURL != "" {
		return g.startWebhook(ctx)
	}
	return g.startPolling(ctx)
}

// Stop gracefully shuts down the gateway.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	if g.server != nil {
		g.logger.Info("telegram gateway stopping webhook server")
		return g.server.Shutdown(ctx)
	}
	g.logger.Info("telegram gateway stopping poller")
	return nil
}

// --- Long Polling ---

func (g *Gateway) startPolling(ctx context.Context) error {
	g.logger.Info("telegram gateway starting long polling",
		slog.Int("timeout", g.config.pollTimeout()),
	)

	// Let in-flight handlers drain before the gateway reports stopped.
	defer g.inflight.Wait()

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := g.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.logger.Error("telegram getUpdates failed", slog.String("error", err.Error()))
			time.Sleep(2 * time.Second)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			// One goroutine per update: a slow task (sandbox run, LLM call)
			// from one chat must not stall polling or other users' replies.
			// The router's per-identity in-flight flag still serializes work
			// within a single identity.
			update := u
			g.inflight.Add(1)
			go func() {
				defer g.inflight.Done()
				g.processUpdate(ctx, &update)
			}()
		}
	}
}

func (g *Gateway) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	params := map[string]any{
		"offset":  offset,
		"timeout": g.config.pollTimeout(),
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL("getUpdates"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool     `json:"ok"`
		Result []Update `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpdateSize)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram API returned ok=false")
	}
	return result.Result, nil
}

// --- Webhook ---

func (g *Gateway) startWebhook(ctx context.Context) error {
	// Use a hash of the bot token as the webhook path to prevent unauthorized POSTs.
	secretPath := "/" + g.webhookSecret()

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+secretPath, g.handleWebhook)

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("telegram gateway starting webhook",
		slog.String("addr", g.config.ListenAddr),
	)

	err := g.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&update); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	g.processUpdate(r.Context(), &update)
	w.WriteHeader(http.StatusOK)
}

func (g *Gateway) webhookSecret() string {
	h := sha256.Sum256([]byte(g.config.BotToken))
	return hex.EncodeToString(h[:16]) // 32-char hex path
}

// --- Update Processing ---

func (g *Gateway) processUpdate(ctx context.Context, update *Update) {
	if update.Message == nil {
		return
	}
	g.handleMessage(ctx, update.Message)
}

func (g *Gateway) handleMessage(ctx context.Context, msg *Message) {
	if msg.From == nil {
		return
	}

	telegramUserID := msg.From.ID
	chatID := msg.Chat.ID

	// User allowlist check (default-deny).
	if !g.allowed[telegramUserID] {
		g.logger.Warn("telegram user not in allowlist",
			slog.Int64("telegram_user_id", telegramUserID),
		)
		g.send(ctx, chatID, "You are not authorized to use this bot.")
		return
	}

	// One identity per (user, chat) pair: a user's group tasks do not
	// block their direct chat and vice versa.
	identity := fmt.Sprintf("tg:%d:%d", telegramUserID, chatID)

	text := msg.Text
	var attachments []domain.Attachment

	if msg.Voice != nil {
		transcript, err := g.transcribeVoice(ctx, msg.Voice)
		if err != nil {
			g.logger.Error("voice transcription failed",
				slog.String("identity", identity),
				slog.String("error", err.Error()),
			)
			g.send(ctx, chatID, "Sorry, I could not understand that voice message. Try typing it instead.")
			return
		}
		attachments = append(attachments, domain.Attachment{
			Kind:    domain.AttachmentVoiceTranscript,
			Content: transcript,
		})
		if text == "" {
			text = transcript
		}
	}

	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/start") {
		g.sendHTML(ctx, chatID,
			"<b>NextVibe</b> — your coding assistant\n\n"+
				"Describe a bug, request a feature, or paste code to analyze.\n"+
				"Generated programs run in an isolated sandbox. Voice notes work too.")
		return
	}
	if strings.HasPrefix(text, "/help") {
		g.sendHTML(ctx, chatID,
			"Send any coding request as text or voice.\n"+
				"Attach code in <code>```</code> fences for review or debugging.")
		return
	}

	g.logger.Info("telegram message",
		slog.String("identity", identity),
		slog.Bool("voice", msg.Voice != nil),
		slog.Int("chars", len(text)),
	)

	res, err := g.engine.HandleRequest(ctx, identity, text, attachments)
	if err != nil {
		// Only caller cancellation; the process is shutting down.
		return
	}
	g.sendMarkdown(ctx, chatID, formatResult(res))
}

// transcribeVoice downloads the voice note via getFile and runs it through
// the transcriber.
func (g *Gateway) transcribeVoice(ctx context.Context, voice *Voice) (string, error) {
	if g.transcriber == nil {
		return "", errors.New("transcription is not configured")
	}

	filePath, err := g.getFilePath(ctx, voice.FileID)
	if err != nil {
		return "", fmt.Errorf("resolving voice file: %w", err)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", g.fileBase, g.config.BotToken, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading voice file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("voice download returned status %d", resp.StatusCode)
	}

	audio := io.LimitReader(resp.Body, maxVoiceDownloadBytes)
	return g.transcriber.Transcribe(ctx, audio, "voice.ogg")
}

func (g *Gateway) getFilePath(ctx context.Context, fileID string) (string, error) {
	body, _ := json.Marshal(map[string]any{"file_id": fileID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL("getFile"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool `json:"ok"`
		Result struct {
			FilePath string `json:"file_path"`
		} `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpdateSize)).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding getFile response: %w", err)
	}
	if !result.OK || result.Result.FilePath == "" {
		return "", errors.New("telegram getFile returned no path")
	}
	return result.Result.FilePath, nil
}

// --- Result Formatting ---

// formatResult renders a TaskResult as Markdown for sendMarkdown.
func formatResult(res *domain.TaskResult) string {
	var b strings.Builder

	if res.Narrative != "" {
		b.WriteString(res.Narrative)
	}

	if exec := res.Execution; exec != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "**Execution** — %s, exit %d, %s\n",
			exec.Status, exec.ExitCode, exec.Duration.Round(time.Millisecond))
		if exec.Stdout != "" {
			b.WriteString("```\n" + strings.TrimRight(exec.Stdout, "\n") + "\n```")
		}
		if exec.Stderr != "" {
			b.WriteString("\nstderr:\n```\n" + strings.TrimRight(exec.Stderr, "\n") + "\n```")
		}
	}

	if res.Error != nil {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("⚠️ " + res.Error.Message)
		if res.Error.RetryAfter > 0 {
			fmt.Fprintf(&b, " (retry in %s)", res.Error.RetryAfter.Round(time.Second))
		}
	}

	if b.Len() == 0 {
		return "Done — nothing to report."
	}
	return b.String()
}

// --- Telegram API ---

// sendMarkdown converts Markdown output to Telegram HTML, splits into
// chunks, and sends each chunk with HTML parse mode.
func (g *Gateway) sendMarkdown(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	chunks := splitMessage(text, telegramSafeMaxLen)
	for _, chunk := range chunks {
		g.sendHTML(ctx, chatID, markdownToTelegramHTML(chunk))
	}
}

// send sends plain text with entities escaped.
func (g *Gateway) send(ctx context.Context, chatID int64, text string) {
	g.sendHTML(ctx, chatID, escapeHTML(text))
}

// sendHTML sends pre-formatted HTML.
func (g *Gateway) sendHTML(ctx context.Context, chatID int64, html string) {
	chunks := splitMessage(html, telegramSafeMaxLen)
	for _, chunk := range chunks {
		g.callAPI(ctx, "sendMessage", map[string]any{
			"chat_id":                  chatID,
			"text":                     chunk,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		})
	}
}

func (g *Gateway) callAPI(ctx context.Context, method string, params map[string]any) {
	body, err := json.Marshal(params)
	if err != nil {
		g.logger.Error("telegram marshal error", slog.String("error", err.Error()))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL(method), bytes.NewReader(body))
	if err != nil {
		g.logger.Error("telegram request error", slog.String("error", err.Error()))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.logger.Error("telegram api error",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		g.logger.Error("telegram api non-200",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(respBody)),
		)
	}
}

func (g *Gateway) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", g.apiBase, g.config.BotToken, method)
}

// --- Types ---

// Update represents a Telegram Bot API update.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message represents a Telegram message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
	Voice     *Voice `json:"voice,omitempty"`
}

// Voice represents a Telegram voice note.
type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
}

// User represents a Telegram user.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// --- Helpers ---

// escapeHTML escapes characters that are special in Telegram's HTML parse mode.
func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

// --- Markdown to Telegram HTML ---

// markdownToTelegramHTML converts common Markdown patterns from LLM output
// to Telegram-compatible HTML. Handles code blocks, inline code, bold,
// italic, and headers. All other text is HTML-escaped.
func markdownToTelegramHTML(text string) string {
	var out strings.Builder
	lines := strings.Split(text, "\n")
	inCodeBlock := false
	firstCodeLine := true

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		// Code block toggle.
		if strings.HasPrefix(trimmed, "```") {
			if !inCodeBlock {
				lang := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
				if lang != "" {
					out.WriteString("<pre><code class=\"language-" + escapeHTML(lang) + "\">")
				} else {
					out.WriteString("<pre><code>")
				}
				inCodeBlock = true
				firstCodeLine = true
				continue
			}
			out.WriteString("</code></pre>")
			inCodeBlock = false
			if i < len(lines)-1 {
				out.WriteByte('\n')
			}
			continue
		}

		if inCodeBlock {
			if !firstCodeLine {
				out.WriteByte('\n')
			}
			out.WriteString(escapeHTML(line))
			firstCodeLine = false
			continue
		}

		// Non-code line.
		if i > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(formatLine(line))
	}

	// Close unclosed code block.
	if inCodeBlock {
		out.WriteString("</code></pre>")
	}

	return out.String()
}

// formatLine converts a single non-code-block line of Markdown to HTML.
func formatLine(line string) string {
	// Headers → bold.
	if len(line) > 0 && line[0] == '#' {
		if spaceIdx := strings.IndexByte(line, ' '); spaceIdx > 0 && spaceIdx <= 6 {
			allHash := true
			for j := 0; j < spaceIdx; j++ {
				if line[j] != '#' {
					allHash = false
					break
				}
			}
			if allHash {
				return "<b>" + escapeHTML(strings.TrimSpace(line[spaceIdx+1:])) + "</b>"
			}
		}
	}

	return formatInline(line)
}

// formatInline converts inline Markdown (bold, italic, inline code) to HTML.
// Processes left-to-right: backtick spans take priority over bold/italic.
func formatInline(line string) string {
	var out strings.Builder
	out.Grow(len(line) + 32)
	i := 0

	for i < len(line) {
		// Inline code: `...`
		if line[i] == '`' {
			if end := strings.IndexByte(line[i+1:], '`'); end >= 0 {
				out.WriteString("<code>")
				out.WriteString(escapeHTML(line[i+1 : i+1+end]))
				out.WriteString("</code>")
				i = i + 1 + end + 1
				continue
			}
		}

		// Bold: **...**
		if i+1 < len(line) && line[i] == '*' && line[i+1] == '*' {
			if end := strings.Index(line[i+2:], "**"); end > 0 {
				out.WriteString("<b>")
				out.WriteString(escapeHTML(line[i+2 : i+2+end]))
				out.WriteString("</b>")
				i = i + 2 + end + 2
				continue
			}
		}

		// Italic: *...* (single asterisk, not double)
		if line[i] == '*' && (i+1 >= len(line) || line[i+1] != '*') {
			if end := strings.IndexByte(line[i+1:], '*'); end > 0 {
				closeIdx := i + 1 + end
				if closeIdx+1 >= len(line) || line[closeIdx+1] != '*' {
					out.WriteString("<i>")
					out.WriteString(escapeHTML(line[i+1 : closeIdx]))
					out.WriteString("</i>")
					i = closeIdx + 1
					continue
				}
			}
		}

		// Regular character — HTML-escape.
		switch line[i] {
		case '&':
			out.WriteString("&amp;")
		case '<':
			out.WriteString("&lt;")
		case '>':
			out.WriteString("&gt;")
		default:
			out.WriteByte(line[i])
		}
		i++
	}

	return out.String()
}

// --- Message Splitting ---

// splitMessage splits text into chunks that fit within Telegram's message
// limit. It splits at paragraph boundaries, then line boundaries, then word
// boundaries, and tracks code fences (```) so they are properly
// closed/reopened across chunks.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	remaining := text
	inCodeBlock := false
	codeFenceLang := "" // language tag from opening fence, e.g. "go" from ```go

	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}

		// Find the best split point within maxLen.
		candidate := remaining[:maxLen]
		splitAt := -1

		// Priority 1: paragraph boundary (double newline).
		if idx := strings.LastIndex(candidate, "\n\n"); idx > 0 {
			splitAt = idx + 1 // Keep first newline in this chunk.
		}

		// Priority 2: line boundary (single newline).
		if splitAt < 0 {
			if idx := strings.LastIndex(candidate, "\n"); idx > 0 {
				splitAt = idx + 1
			}
		}

		// Priority 3: word boundary (space).
		if splitAt < 0 {
			if idx := strings.LastIndex(candidate, " "); idx > 0 {
				splitAt = idx + 1
			}
		}

		// Priority 4: hard cut.
		if splitAt < 0 {
			splitAt = maxLen
		}

		chunk := remaining[:splitAt]
		remaining = remaining[splitAt:]

		// Track code fences in this chunk to determine whether we end
		// inside a code block.
		fenceCount := 0
		searchPos := 0
		for {
			idx := strings.Index(chunk[searchPos:], "```")
			if idx < 0 {
				break
			}
			absIdx := searchPos + idx
			fenceCount++
			if fenceCount%2 == 1 && !inCodeBlock {
				// Opening fence — capture language tag.
				afterFence := chunk[absIdx+3:]
				if nlIdx := strings.Index(afterFence, "\n"); nlIdx >= 0 {
					codeFenceLang = strings.TrimSpace(afterFence[:nlIdx])
				} else {
					codeFenceLang = strings.TrimSpace(afterFence)
				}
			}
			searchPos = absIdx + 3
		}

		if fenceCount%2 == 1 {
			inCodeBlock = !inCodeBlock
		}

		// If we're inside a code block at the end of this chunk, close it
		// and re-open it at the start of the next chunk. The reopened fence
		// is counted again on the next iteration, so reset the state here.
		if inCodeBlock {
			chunk += "\n```"
			if codeFenceLang != "" {
				remaining = "```" + codeFenceLang + "\n" + remaining
			} else {
				remaining = "```\n" + remaining
			}
			inCodeBlock = false
		}

		chunks = append(chunks, chunk)
	}

	return chunks
}
