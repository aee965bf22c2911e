// Package ws implements the WebSocket task stream. Clients connect, announce
// an identity, and submit tasks as JSON messages; results are pushed back on
// the same connection when processing completes.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/nextvibe/nextvibe/internal/domain"
	"github.com/nextvibe/nextvibe/internal/gateway"
	"github.com/nextvibe/nextvibe/internal/protocol"
)

const (
	helloTimeout      = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	maxMessageSize    = 1 << 20 // 1 MB
)

// Server handles WebSocket task stream connections. It is mounted on the
// HTTP gateway's mux via Handler.
type Server struct {
	engine gateway.Engine
	logger *slog.Logger
}

// NewServer creates a WebSocket task stream server.
func NewServer(e gateway.Engine, logger *slog.Logger) *Server {
	return &Server{engine: e, logger: logger}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"nextvibe-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	// Writes are serialized: task goroutines and the heartbeat loop share
	// the connection.
	var writeMu sync.Mutex
	write := func(ctx context.Context, env *protocol.Envelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.Write(ctx, websocket.MessageText, data)
	}

	// Wait for client.hello as the first message.
	identity, err := s.waitForHello(ctx, conn, write)
	if err != nil {
		s.logger.Warn("websocket hello failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("websocket client connected", slog.String("identity", identity))

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go s.heartbeatLoop(hbCtx, identity, write)

	var tasks sync.WaitGroup
	defer tasks.Wait()

	// Main message loop.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("websocket client disconnected", slog.String("identity", identity))
			} else if ctx.Err() == nil {
				s.logger.Warn("websocket connection error",
					slog.String("identity", identity),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.writeError(ctx, write, "", "bad_message", "message is not valid JSON")
			continue
		}

		switch env.Type {
		case protocol.MsgTaskSubmit:
			var req protocol.TaskSubmitPayload
			if err := env.Decode(&req); err != nil {
				s.writeError(ctx, write, env.Ref, "bad_payload", "task.submit payload is invalid")
				continue
			}
			if req.Input == "" && len(req.Attachments) == 0 {
				s.writeError(ctx, write, env.Ref, "bad_payload", "input is required")
				continue
			}

			tasks.Add(1)
			go func(ref string, req protocol.TaskSubmitPayload) {
				defer tasks.Done()
				s.processTask(ctx, identity, ref, req, write)
			}(env.Ref, req)

		case protocol.MsgPong:
			// Heartbeat reply; nothing to do.

		default:
			s.writeError(ctx, write, env.Ref, "unknown_type", fmt.Sprintf("unknown message type %q", env.Type))
		}
	}
}

type writeFunc func(ctx context.Context, env *protocol.Envelope) error

func (s *Server) waitForHello(ctx context.Context, conn *websocket.Conn, write writeFunc) (string, error) {
	helloCtx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	_, data, err := conn.Read(helloCtx)
	if err != nil {
		return "", fmt.Errorf("reading hello: %w", err)
	}

	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parsing hello: %w", err)
	}
	if env.Type != protocol.MsgHello {
		return "", fmt.Errorf("expected client.hello, got %s", env.Type)
	}

	var hello protocol.HelloPayload
	if err := env.Decode(&hello); err != nil {
		return "", fmt.Errorf("parsing hello payload: %w", err)
	}
	if hello.Identity == "" {
		return "", fmt.Errorf("identity is required")
	}

	resp, _ := protocol.NewEnvelope(protocol.MsgWelcome, protocol.WelcomePayload{
		Message: fmt.Sprintf("connected as %s", hello.Identity),
	})
	if err := write(ctx, resp); err != nil {
		return "", fmt.Errorf("sending welcome: %w", err)
	}

	return hello.Identity, nil
}

func (s *Server) processTask(ctx context.Context, identity, ref string, req protocol.TaskSubmitPayload, write writeFunc) {
	accepted, _ := protocol.NewEnvelope(protocol.MsgTaskAccepted, protocol.TaskAcceptedPayload{})
	accepted.Ref = ref
	if err := write(ctx, accepted); err != nil {
		return
	}

	attachments := make([]domain.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, domain.Attachment{
			Kind:     domain.AttachmentKind(a.Kind),
			Language: a.Language,
			Content:  a.Content,
		})
	}

	res, err := s.engine.HandleRequest(ctx, identity, req.Input, attachments)
	if err != nil {
		// Only caller cancellation; the connection is going away.
		return
	}

	env, err := protocol.NewEnvelope(protocol.MsgTaskResult, toResultPayload(res))
	if err != nil {
		s.logger.Error("encoding task result failed",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return
	}
	env.Ref = ref

	if err := write(ctx, env); err != nil && ctx.Err() == nil {
		s.logger.Warn("sending task result failed",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
	}
}

func toResultPayload(res *domain.TaskResult) protocol.TaskResultPayload {
	payload := protocol.TaskResultPayload{
		TaskID:    res.TaskID.String(),
		Category:  string(res.Category),
		Narrative: res.Narrative,
		CreatedAt: res.CreatedAt,
	}
	if exec := res.Execution; exec != nil {
		payload.Execution = &protocol.ExecutionPayload{
			Status:     string(exec.Status),
			Stdout:     exec.Stdout,
			Stderr:     exec.Stderr,
			ExitCode:   exec.ExitCode,
			DurationMS: exec.Duration.Milliseconds(),
		}
	}
	if res.Error != nil {
		payload.Error = &protocol.ErrorInfoPayload{
			Code:              string(res.Error.Code),
			Message:           res.Error.Message,
			RetryAfterSeconds: int64(res.Error.RetryAfter / time.Second),
		}
	}
	return payload
}

func (s *Server) writeError(ctx context.Context, write writeFunc, ref, code, message string) {
	env, _ := protocol.NewEnvelope(protocol.MsgError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	})
	env.Ref = ref
	_ = write(ctx, env)
}

func (s *Server) heartbeatLoop(ctx context.Context, identity string, write writeFunc) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env, _ := protocol.NewEnvelope(protocol.MsgPing, nil)
			if err := write(ctx, env); err != nil {
				s.logger.Debug("heartbeat ping failed",
					slog.String("identity", identity),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}
