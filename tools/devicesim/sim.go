package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity/ids"
	v1 "github.com/tkmdevelopers/auto.tm-main-sub000/shared/contracts/device/v1"
)

const maxReadBytes = 1 << 20

type simConfig struct {
	URL      string
	Origin   string
	Secret   string
	DeviceID string
	Region   string

	AckStatus string
	FailEvery int
	AckDelay  time.Duration

	StatusInterval time.Duration
	StepTimeout    time.Duration

	Once bool
}

func defaultSimConfig() simConfig {
	return simConfig{
		URL:            "ws://127.0.0.1:8080/device/ws",
		DeviceID:       "devicesim-1",
		Region:         "default",
		AckStatus:      v1.AckDelivered,
		AckDelay:       200 * time.Millisecond,
		StatusInterval: 30 * time.Second,
		StepTimeout:    7 * time.Second,
	}
}

func (c simConfig) validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	switch c.AckStatus {
	case v1.AckSent, v1.AckDelivered, v1.AckFailed:
	default:
		return fmt.Errorf("unknown ack status %q", c.AckStatus)
	}
	if c.FailEvery < 0 {
		return errors.New("fail-every must be >= 0")
	}
	if c.StatusInterval <= 0 || c.StepTimeout <= 0 {
		return errors.New("intervals must be positive")
	}
	return nil
}

type simulator struct {
	cfg simConfig
	log *slog.Logger

	deviceKey string
	received  int
	acked     int
}

func newSimulator(cfg simConfig, log *slog.Logger) *simulator {
	return &simulator{cfg: cfg, log: log}
}

// ackStatusFor returns the status to report for the n-th send (1-based).
func (s *simulator) ackStatusFor(n int) (status, errText string) {
	if s.cfg.FailEvery > 0 && n%s.cfg.FailEvery == 0 {
		return v1.AckFailed, "simulated failure"
	}
	if s.cfg.AckStatus == v1.AckFailed {
		return v1.AckFailed, "simulated failure"
	}
	return s.cfg.AckStatus, ""
}

// runOnce holds one connection until it fails or ctx ends. With cfg.Once
// it returns nil after the first acknowledged send.
func (s *simulator) runOnce(ctx context.Context) error {
	conn, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if err := s.register(ctx, conn); err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.statusLoop(connCtx, conn)
	}()
	defer wg.Wait()
	defer cancel()

	for {
		env, err := s.read(connCtx, conn)
		if err != nil {
			return err
		}
		switch env.Type {
		case v1.TypeSend:
			var p v1.SendPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return fmt.Errorf("decode send: %w", err)
			}
			if err := s.handleSend(connCtx, conn, p); err != nil {
				return err
			}
			if s.cfg.Once {
				return nil
			}
		case v1.TypePing:
			s.log.Debug("devicesim.ping")
		case v1.TypeError:
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			s.log.Warn("devicesim.gateway_error", "code", p.Code, "message", p.Message)
		default:
			s.log.Debug("devicesim.ignored", "type", env.Type)
		}
	}
}

func (s *simulator) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(s.cfg.Origin) != "" {
		h.Set("Origin", s.cfg.Origin)
	}
	conn, resp, err := websocket.Dial(dialCtx, s.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol")
		return nil, fmt.Errorf("subprotocol mismatch: got %q", got)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn, nil
}

func (s *simulator) register(ctx context.Context, conn *websocket.Conn) error {
	err := s.write(ctx, conn, v1.TypeRegister, v1.RegisterPayload{
		AuthToken: s.cfg.Secret,
		Region:    s.cfg.Region,
		DeviceID:  s.cfg.DeviceID,
	})
	if err != nil {
		return err
	}

	stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()
	for {
		env, err := s.read(stepCtx, conn)
		if err != nil {
			return fmt.Errorf("await register_ack: %w", err)
		}
		if env.Type != v1.TypeRegisterAck {
			continue
		}
		var ack v1.RegisterAckPayload
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			return fmt.Errorf("decode register_ack: %w", err)
		}
		if !ack.Success {
			return fmt.Errorf("registration rejected: %s", ack.Message)
		}
		s.deviceKey = ack.DeviceKey
		s.log.Info("devicesim.registered", "device_key", ack.DeviceKey, "region", s.cfg.Region)
		return nil
	}
}

func (s *simulator) handleSend(ctx context.Context, conn *websocket.Conn, p v1.SendPayload) error {
	s.received++
	s.log.Info("devicesim.sms", "correlation_id", p.CorrelationID, "phone", p.Phone, "text", p.Text)

	if s.cfg.AckDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.AckDelay):
		}
	}

	status, errText := s.ackStatusFor(s.received)
	if err := s.write(ctx, conn, v1.TypeAck, v1.AckPayload{
		CorrelationID: p.CorrelationID,
		Status:        status,
		Error:         errText,
	}); err != nil {
		return err
	}
	s.acked++
	s.log.Info("devicesim.ack", "correlation_id", p.CorrelationID, "status", status)
	return nil
}

func (s *simulator) statusLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(s.cfg.StatusInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			battery, signal, pending := 87, 4, 0
			err := s.write(ctx, conn, v1.TypeStatus, v1.StatusPayload{
				BatteryLevel:   &battery,
				SignalStrength: &signal,
				PendingCount:   &pending,
			})
			if err != nil {
				s.log.Debug("devicesim.status.fail", "err", err)
				return
			}
		}
	}
}

func (s *simulator) read(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, fmt.Errorf("bad json: %w", err)
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, fmt.Errorf("bad envelope: %w", err)
	}
	return env, nil
}

func (s *simulator) write(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: now, Payload: raw})
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, b)
}
