// Package bridge exposes the control surface of the message bus to external
// clients over a Unix socket. Each client sends newline-delimited JSON
// requests and receives one JSON reply line per request, so a running
// daemon can be driven without contending for the hardware reservation.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gmuxd/bus"
	"gmuxd/errcode"
)

// DefaultSocket is where the daemon listens for control clients.
const DefaultSocket = "/run/gmuxd/control.socket"

// RequestTimeout is the default bound on the wait for a bus reply to a
// forwarded request.
const RequestTimeout = 5 * time.Second

// Config parameterises the bridge. A zero ReplyTimeout selects
// RequestTimeout.
type Config struct {
	Socket       string
	ReplyTimeout time.Duration
	Log          zerolog.Logger
}

// Request is one client line: a control method plus its parameters.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Run listens on the socket and forwards client requests onto the bus as
// gmux/control/<method> messages, writing each reply back as one JSON
// line. It blocks until ctx is cancelled.
func Run(ctx context.Context, conn *bus.Connection, cfg Config) error {
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocket
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = RequestTimeout
	}
	s := &service{conn: conn, log: cfg.Log, socket: cfg.Socket, replyTimeout: cfg.ReplyTimeout}
	return s.run(ctx)
}

type service struct {
	conn         *bus.Connection
	log          zerolog.Logger
	socket       string
	replyTimeout time.Duration

	wg sync.WaitGroup
}

func (s *service) run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socket), 0o755); err != nil {
		s.publishState("error", "socket_dir_failed", err)
		return err
	}
	// A stale socket from an unclean shutdown blocks the bind.
	_ = os.Remove(s.socket)

	l, err := net.Listen("unix", s.socket)
	if err != nil {
		s.publishState("error", "listen_failed", err)
		return err
	}
	s.publishState("up", "listening", nil)

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		c, err := l.Accept()
		if err != nil {
			s.wg.Wait()
			_ = os.Remove(s.socket)
			s.publishState("stopped", "context_cancelled", nil)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleClient(ctx, c)
		}()
	}
}

func (s *service) handleClient(ctx context.Context, c net.Conn) {
	defer c.Close()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	sc := bufio.NewScanner(c)
	wr := bufio.NewWriter(c)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeLine(wr, map[string]any{"ok": false, "error": "bad request: " + err.Error()})
			continue
		}
		if req.Method == "" {
			s.writeLine(wr, map[string]any{"ok": false, "error": "missing method"})
			continue
		}
		s.writeLine(wr, s.forward(ctx, req))
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		s.log.Debug().Err(err).Msg("client read ended")
	}
}

// forward places the request on the bus and waits for the service reply.
// No reply within the bound means the service is wedged or gone, which the
// client sees as busy.
func (s *service) forward(ctx context.Context, req Request) any {
	ctx, cancel := context.WithTimeout(ctx, s.replyTimeout)
	defer cancel()

	var payload any
	if len(req.Params) > 0 {
		payload = []byte(req.Params)
	}
	msg := s.conn.NewMessage(bus.Topic{"gmux", "control", req.Method}, payload, false)
	resp, err := s.conn.RequestWait(ctx, msg)
	if err != nil {
		return map[string]any{
			"ok":    false,
			"code":  string(errcode.Busy),
			"error": "no reply: " + err.Error(),
		}
	}
	return resp.Payload
}

func (s *service) writeLine(wr *bufio.Writer, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{"ok":false,"error":"encode failed"}`)
	}
	wr.Write(raw)
	wr.WriteByte('\n')
	if err := wr.Flush(); err != nil {
		s.log.Debug().Err(err).Msg("client write failed")
	}
}

func (s *service) publishState(level, status string, err error) {
	payload := map[string]any{"level": level, "status": status, "ts_ms": time.Now().UnixMilli()}
	if err != nil {
		payload["error"] = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.Topic{"bridge", "state"}, payload, true))
}
