// Package gmuxsvc exposes a gmux device over the message bus. It owns the
// retained state topics and serialises every control method through the
// device.
package gmuxsvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"gmuxd/bus"
	"gmuxd/drivers/gmux"
	"gmuxd/errcode"
	"gmuxd/platform/pci"
)

// Device is the slice of the driver surface the service drives.
type Device interface {
	Version() gmux.Version
	MaxBrightness() uint32
	ActiveDisplay() (gmux.Role, error)
	SwitchTo(role gmux.Role) error
	SwitchDDC(role gmux.Role) error
	SetPower(role gmux.Role, target gmux.PowerState) error
	Brightness() (uint32, error)
	SetBrightness(v uint32) error
	Suspend() error
	Resume() error
}

// Options carries the service collaborators beyond the device itself.
type Options struct {
	Log  zerolog.Logger
	GPUs []pci.GPU
}

// Run services control requests until ctx is cancelled. It subscribes to
// gmux/control/<method> for requests and gmux/event/notify for the echo the
// daemon publishes after each hardware notification, and keeps gmux/state
// and gmux/gpus retained.
func Run(ctx context.Context, conn *bus.Connection, dev Device, opts Options) {
	s := &service{conn: conn, dev: dev, log: opts.Log, gpus: opts.GPUs}
	s.loop(ctx)
}

type service struct {
	conn *bus.Connection
	dev  Device
	log  zerolog.Logger
	gpus []pci.GPU

	// discrete power as last commanded; the hardware has no readback for it
	power gmux.PowerState
}

func (s *service) loop(ctx context.Context) {
	ctrlSub := s.conn.Subscribe(bus.Topic{"gmux", "control", "+"})
	notifySub := s.conn.Subscribe(bus.Topic{"gmux", "event", "notify"})
	defer s.conn.Unsubscribe(ctrlSub)
	defer s.conn.Unsubscribe(notifySub)

	s.power = gmux.PowerOn
	s.publishGPUs()
	s.publishState()

	for {
		select {
		case <-ctx.Done():
			s.conn.Publish(s.conn.NewMessage(bus.Topic{"gmux", "state"}, nil, true))
			return

		case msg := <-ctrlSub.Channel():
			if len(msg.Topic) < 3 {
				continue
			}
			method, ok := msg.Topic[2].(string)
			if !ok {
				s.replyErr(msg, errcode.InvalidTopic, "control method must be a string token")
				continue
			}
			s.handleControl(msg, method)

		case <-notifySub.Channel():
			s.publishState()
		}
	}
}

func (s *service) handleControl(msg *bus.Message, method string) {
	switch method {
	case "status":
		s.replyOK(msg, s.statusPayload())

	case "switch":
		var p struct {
			Target  string `json:"target"`
			DDCOnly bool   `json:"ddc_only"`
		}
		if err := decodeJSON(msg.Payload, &p); err != nil {
			s.replyErr(msg, errcode.InvalidPayload, err.Error())
			return
		}
		role, ok := gmux.ParseRole(p.Target)
		if !ok {
			s.replyErr(msg, errcode.InvalidParams, "unknown target "+p.Target)
			return
		}
		var err error
		if p.DDCOnly {
			err = s.dev.SwitchDDC(role)
		} else {
			err = s.dev.SwitchTo(role)
		}
		if err != nil {
			s.replyErr(msg, errcode.Of(err), err.Error())
			return
		}
		s.log.Info().Str("target", role.String()).Bool("ddc_only", p.DDCOnly).Msg("switched")
		s.publishState()
		s.replyOK(msg, map[string]any{"active": role.String()})

	case "power":
		var p struct {
			State string `json:"state"`
		}
		if err := decodeJSON(msg.Payload, &p); err != nil {
			s.replyErr(msg, errcode.InvalidPayload, err.Error())
			return
		}
		target, ok := gmux.ParsePowerState(p.State)
		if !ok {
			s.replyErr(msg, errcode.InvalidParams, "unknown power state "+p.State)
			return
		}
		if err := s.dev.SetPower(gmux.RoleDiscrete, target); err != nil {
			s.replyErr(msg, errcode.Of(err), err.Error())
			return
		}
		s.power = target
		s.log.Info().Str("state", target.String()).Msg("discrete power set")
		s.publishState()
		s.replyOK(msg, map[string]any{"power": target.String()})

	case "brightness":
		var p struct {
			Value *uint32 `json:"value"`
		}
		if err := decodeJSON(msg.Payload, &p); err != nil || p.Value == nil {
			s.replyErr(msg, errcode.InvalidPayload, "missing value")
			return
		}
		if err := s.dev.SetBrightness(*p.Value); err != nil {
			s.replyErr(msg, errcode.Of(err), err.Error())
			return
		}
		s.publishState()
		s.replyOK(msg, map[string]any{"value": *p.Value})

	case "get_brightness":
		v, err := s.dev.Brightness()
		if err != nil {
			s.replyErr(msg, errcode.Of(err), err.Error())
			return
		}
		s.replyOK(msg, map[string]any{"value": v, "max": s.dev.MaxBrightness()})

	case "suspend":
		if err := s.dev.Suspend(); err != nil {
			s.replyErr(msg, errcode.Of(err), err.Error())
			return
		}
		s.replyOK(msg, nil)

	case "resume":
		if err := s.dev.Resume(); err != nil {
			s.replyErr(msg, errcode.Of(err), err.Error())
			return
		}
		s.publishState()
		s.replyOK(msg, nil)

	default:
		s.replyErr(msg, errcode.Unsupported, "unknown method "+method)
	}
}

func (s *service) statusPayload() map[string]any {
	p := map[string]any{
		"version": s.dev.Version().String(),
		"power":   s.power.String(),
		"max":     s.dev.MaxBrightness(),
		"ts_ms":   time.Now().UnixMilli(),
	}
	if role, err := s.dev.ActiveDisplay(); err == nil {
		p["active"] = role.String()
	}
	if v, err := s.dev.Brightness(); err == nil {
		p["brightness"] = v
	}
	return p
}

func (s *service) publishState() {
	s.conn.Publish(s.conn.NewMessage(bus.Topic{"gmux", "state"}, s.statusPayload(), true))
}

// publishGPUs classifies each enumerated controller into its switching role
// and retains the result for clients that want to know which driver owns
// which side of the mux.
func (s *service) publishGPUs() {
	list := make([]map[string]any, 0, len(s.gpus))
	for _, g := range s.gpus {
		list = append(list, map[string]any{
			"address": g.Address,
			"vendor":  g.Vendor,
			"device":  g.Device,
			"driver":  g.Driver,
			"role":    gmux.Classify(g.Vendor, g.Device).String(),
		})
	}
	s.conn.Publish(s.conn.NewMessage(bus.Topic{"gmux", "gpus"}, list, true))
}

func (s *service) replyOK(req *bus.Message, extra map[string]any) {
	if len(req.ReplyTo) == 0 {
		return
	}
	m := map[string]any{"ok": true}
	for k, v := range extra {
		m[k] = v
	}
	s.conn.Reply(req, m, false)
}

func (s *service) replyErr(req *bus.Message, code errcode.Code, detail string) {
	s.log.Warn().Str("code", string(code)).Str("detail", detail).Msg("control request failed")
	if len(req.ReplyTo) == 0 {
		return
	}
	s.conn.Reply(req, map[string]any{"ok": false, "code": string(code), "error": detail}, false)
}

func decodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}
