package gateway

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity/ids"
	v1 "github.com/tkmdevelopers/auto.tm-main-sub000/shared/contracts/device/v1"

	"github.com/coder/websocket"
)

// Registration states for one connection.
const (
	regPending int32 = iota
	regDone
	regExpired
)

var errRegisterRejected = errors.New("registration rejected")

// ServeHTTP adapter so the gateway can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades a device connection and runs it until disconnect.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("gateway.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("gateway.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("gateway.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	dev, err := g.register(ctx, conn, rl, r.RemoteAddr)
	if err != nil {
		return
	}

	var closeOnce sync.Once

	// shutdown is idempotent. dev.Send is never closed; detach runs first so
	// no new request can be routed here.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if g.detach(dev) {
				g.log.Info("gateway.device.disconnected", "device_key", dev.Key, "region", dev.Region, "reason", reason)
			}
			dev.stop()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-dev.Done():
				return
			case env := <-dev.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("gateway.write.fail", "device_key", dev.Key, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-dev.Done():
				return
			case <-t.C:
				now := g.now()
				p, _ := json.Marshal(v1.PingPayload{ServerTS: now})
				_ = dev.enqueue(newEnvelope(v1.TypePing, p, now))

				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("gateway.ping.fail", "device_key", dev.Key, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		env, err := g.readNext(ctx, conn)

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(dev, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("gateway.read.fail", "device_key", dev.Key, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(g.now()) {
			g.trySendError(dev, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(dev, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeAck:
			var p v1.AckPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				g.trySendError(dev, "bad_payload", "invalid ack payload")
				continue readLoop
			}
			if err := p.Validate(); err != nil {
				g.trySendError(dev, "bad_payload", err.Error())
				continue readLoop
			}
			g.HandleAck(dev.Key, p)

		case v1.TypeStatus:
			var p v1.StatusPayload
			if len(env.Payload) > 0 {
				if err := json.Unmarshal(env.Payload, &p); err != nil {
					g.trySendError(dev, "bad_payload", "invalid status payload")
					continue readLoop
				}
			}
			g.touch(dev, &p)

		case v1.TypeRegister:
			g.trySendError(dev, "already_registered", "device already registered")

		default:
			g.trySendError(dev, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// register runs the Unregistered phase: it reads until a valid register
// arrives or RegisterGrace elapses. Writes go straight to conn because no
// writer goroutine exists yet.
func (g *Gateway) register(ctx context.Context, conn *websocket.Conn, rl *RateLimiter, remote string) (*Device, error) {
	var state atomic.Int32

	grace := time.AfterFunc(g.cfg.RegisterGrace, func() {
		if !state.CompareAndSwap(regPending, regExpired) {
			return
		}
		g.log.Info("gateway.register.timeout", "remote", remote, "grace", g.cfg.RegisterGrace.String())
		_ = conn.Close(websocket.StatusPolicyViolation, "registration timeout")
	})
	defer grace.Stop()

	reject := func(code websocket.StatusCode, msg, reason string) error {
		g.writeRegisterAck(ctx, conn, v1.RegisterAckPayload{Success: false, Message: msg})
		g.log.Info("gateway.register.rejected", "remote", remote, "reason", reason)
		_ = conn.Close(code, msg)
		return errRegisterRejected
	}

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			if classifyReadErr(err) == readErrBadJSON {
				g.writeError(ctx, conn, "bad_json", "invalid JSON")
				continue
			}
			return nil, err
		}

		if !rl.Allow(g.now()) {
			_ = conn.Close(websocket.StatusPolicyViolation, "rate limited")
			return nil, errRegisterRejected
		}
		if err := env.Validate(); err != nil {
			g.writeError(ctx, conn, "bad_envelope", err.Error())
			continue
		}
		if env.Type != v1.TypeRegister {
			g.writeError(ctx, conn, "not_registered", "register first")
			continue
		}

		var p v1.RegisterPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, reject(websocket.StatusPolicyViolation, "invalid payload", "bad_payload")
			}
		}

		if g.cfg.SharedSecret != "" &&
			subtle.ConstantTimeCompare([]byte(p.AuthToken), []byte(g.cfg.SharedSecret)) != 1 {
			return nil, reject(websocket.StatusPolicyViolation, "invalid auth token", "bad_secret")
		}

		key := strings.TrimSpace(p.DeviceID)
		if len(key) > maxDeviceKeyLen {
			return nil, reject(websocket.StatusPolicyViolation, "device_id too long", "bad_device_id")
		}
		if key == "" {
			key = randomDeviceKey()
		}
		region := strings.TrimSpace(p.Region)
		if region == "" {
			region = g.cfg.DefaultRegion
		}

		if !state.CompareAndSwap(regPending, regDone) {
			return nil, errRegisterRejected
		}

		dev := newDevice(key, region, g.cfg.SendQueueSize, g.now())
		dev.closeConn = func(reason string) {
			go func() { _ = conn.Close(websocket.StatusGoingAway, reason) }()
		}

		// The ack is written before attach so it always precedes the first send.
		if err := g.writeRegisterAck(ctx, conn, v1.RegisterAckPayload{Success: true, Message: "registered", DeviceKey: key}); err != nil {
			return nil, err
		}

		replaced, err := g.attach(dev)
		if err != nil {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			return nil, err
		}
		if replaced != nil {
			g.log.Info("gateway.device.replaced", "device_key", key)
			replaced.Close("replaced by newer connection")
		}

		g.log.Info("gateway.device.registered", "device_key", key, "region", region, "remote", remote)
		return dev, nil
	}
}

func (g *Gateway) writeRegisterAck(ctx context.Context, conn *websocket.Conn, p v1.RegisterAckPayload) error {
	b, _ := json.Marshal(p)
	return writeEnvelope(ctx, conn, newEnvelope(v1.TypeRegisterAck, b, g.now()), g.cfg.WriteTimeout)
}

func (g *Gateway) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	b, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = writeEnvelope(ctx, conn, newEnvelope(v1.TypeError, b, g.now()), g.cfg.WriteTimeout)
}

func (g *Gateway) trySendError(dev *Device, code, msg string) {
	b, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = dev.enqueue(newEnvelope(v1.TypeError, b, g.now()))
}

func randomDeviceKey() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return ids.MustULID(time.Now().UTC())
	}
	return "dev-" + hex.EncodeToString(b)
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	id, _ := ids.NewULID(ts)
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: payload,
	}
}

// readNext reads one envelope, bounded by ReadIdleTimeout when it is set.
func (g *Gateway) readNext(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	if g.cfg.ReadIdleTimeout <= 0 {
		return readEnvelope(ctx, conn)
	}
	readCtx, cancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
	defer cancel()
	return readEnvelope(readCtx, conn)
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}
