package acpi

import (
	"bufio"
	"context"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"gmuxd/errcode"
)

// DefaultAcpidSocket is where acpid publishes events to subscribers, one
// space-separated line per event.
const DefaultAcpidSocket = "/var/run/acpid.socket"

// NotifyConfig parameterises a NotifySource. Device selects which event
// lines are forwarded to the handler; an empty string forwards all of them.
type NotifyConfig struct {
	Socket string
	Device string
	Log    zerolog.Logger
}

// NotifySource streams device notifications from the platform event daemon
// and invokes a handler for each one addressed to the configured device.
// The handler runs on the source's own reader goroutine, never on the
// caller's.
type NotifySource struct {
	socket string
	device string
	log    zerolog.Logger

	conn   net.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewNotifySource(cfg NotifyConfig) *NotifySource {
	if cfg.Socket == "" {
		cfg.Socket = DefaultAcpidSocket
	}
	return &NotifySource{socket: cfg.Socket, device: cfg.Device, log: cfg.Log}
}

// Start connects to the event socket and begins dispatching notifications
// to handler. It returns once the connection is established; dispatch
// continues until Stop is called or the daemon closes the socket.
func (s *NotifySource) Start(ctx context.Context, handler func()) error {
	conn, err := net.Dial("unix", s.socket)
	if err != nil {
		return &errcode.E{C: errcode.ResourceUnavailable, Op: "acpi.Notify", Msg: "dial " + s.socket, Err: err}
	}
	ctx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			conn.Close()
		}()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if s.device != "" && !strings.Contains(line, s.device) {
				continue
			}
			s.log.Debug().Str("event", line).Msg("device notification")
			handler()
		}
		if err := sc.Err(); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("notification stream ended")
		}
	}()
	return nil
}

// Stop tears down the connection and waits for the reader goroutine to
// exit. Safe to call if Start never succeeded.
func (s *NotifySource) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
