package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	v1 "github.com/tkmdevelopers/auto.tm-main-sub000/shared/contracts/device/v1"

	"github.com/google/uuid"
)

// pendingRequest is owned by Gateway.pending and destroyed by exactly one of
// HandleAck, the timer, or Close.
type pendingRequest struct {
	req    Request
	device *Device
	sentAt time.Time
	timer  *time.Timer
	ticket *Ticket
}

// Gateway is the device registry plus the pending-request table.
type Gateway struct {
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	// originPatterns feed websocket.Accept so its host check agrees with enforceOrigin.
	originPatterns []string

	mu      sync.Mutex
	devices map[string]*Device
	pending map[string]*pendingRequest
	closed  bool
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides time.Now; timers still use real time.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New constructs a Gateway. Zero config fields take defaults.
func New(cfg Config, log *slog.Logger, opts ...Option) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{
		cfg:     cfg.withDefaults(),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		devices: make(map[string]*Device),
		pending: make(map[string]*pendingRequest),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.originPatterns = deriveOriginPatterns(g.cfg.AllowedOrigins)
	return g
}

// Config returns the effective configuration.
func (g *Gateway) Config() Config { return g.cfg }

// SendSMS pushes req to a device and returns a Ticket that resolves exactly once.
//
// When no device is connected, the queue of the chosen device is full, or the
// gateway is closed, the returned Ticket is already resolved as failed and
// Accepted is false. Otherwise the request is pending until the device acks
// or AckTimeout elapses.
func (g *Gateway) SendSMS(ctx context.Context, req Request) *Ticket {
	if strings.TrimSpace(req.CorrelationID) == "" {
		req.CorrelationID = uuid.NewString()
	}
	t := newTicket(req.CorrelationID)
	now := g.now()

	fail := func(err error, deviceKey string) *Ticket {
		res := Resolution{
			CorrelationID: req.CorrelationID,
			LinkedID:      req.LinkedID,
			DeviceKey:     deviceKey,
			Status:        StatusFailed,
			Error:         err.Error(),
			Err:           err,
			At:            now,
		}
		t.DeviceKey = deviceKey
		t.deliver(res)
		g.metrics.observeResolution(res, false)
		g.log.Warn("gateway.dispatch.rejected",
			"correlation_id", req.CorrelationID,
			"linked_id", req.LinkedID,
			"device_key", deviceKey,
			"reason", err.Error(),
		)
		return t
	}

	if err := ctx.Err(); err != nil {
		return fail(err, "")
	}
	if len([]rune(req.Text)) > maxSMSChars || strings.TrimSpace(req.Phone) == "" {
		return fail(ErrInvalidRequest, "")
	}

	payload, err := json.Marshal(v1.SendPayload{
		CorrelationID: req.CorrelationID,
		Phone:         req.Phone,
		Text:          req.Text,
	})
	if err != nil {
		return fail(err, "")
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return fail(ErrGatewayClosed, "")
	}
	if _, dup := g.pending[req.CorrelationID]; dup {
		g.mu.Unlock()
		return fail(ErrDuplicateCorrelation, "")
	}

	dev := g.pickDeviceLocked(req.Phone, req.Region)
	if dev == nil {
		g.mu.Unlock()
		return fail(ErrNoDeviceAvailable, "")
	}

	if !dev.enqueue(newEnvelope(v1.TypeSend, payload, now)) {
		g.mu.Unlock()
		return fail(ErrDeviceQueueFull, dev.Key)
	}

	p := &pendingRequest{req: req, device: dev, sentAt: now, ticket: t}
	id := req.CorrelationID
	p.timer = time.AfterFunc(g.cfg.AckTimeout, func() { g.expire(id, p) })
	g.pending[id] = p
	dev.inflight++
	t.Accepted = true
	t.DeviceKey = dev.Key
	nDev, nPend := len(g.devices), len(g.pending)
	g.mu.Unlock()

	g.metrics.setCounts(nDev, nPend)
	g.log.Info("gateway.dispatch.pushed",
		"correlation_id", id,
		"linked_id", req.LinkedID,
		"device_key", dev.Key,
		"region", dev.Region,
	)
	return t
}

// HandleAck resolves the pending request named by ack.
// It returns false, dropping the ack, when no such request is pending or it
// was pushed to a different device.
func (g *Gateway) HandleAck(deviceKey string, ack v1.AckPayload) bool {
	if err := ack.Validate(); err != nil {
		g.metrics.observeDroppedAck()
		return false
	}
	now := g.now()

	g.mu.Lock()
	p, ok := g.pending[ack.CorrelationID]
	if !ok || p.device.Key != deviceKey {
		g.mu.Unlock()
		g.metrics.observeDroppedAck()
		g.log.Info("gateway.ack.dropped", "correlation_id", ack.CorrelationID, "device_key", deviceKey, "known", ok)
		return false
	}
	g.removeLocked(ack.CorrelationID, p)
	p.device.lastActivity = now
	nDev, nPend := len(g.devices), len(g.pending)
	g.mu.Unlock()

	res := Resolution{
		CorrelationID: ack.CorrelationID,
		LinkedID:      p.req.LinkedID,
		DeviceKey:     deviceKey,
		Status:        Status(ack.Status),
		At:            now,
		Latency:       now.Sub(p.sentAt),
	}
	if res.Status == StatusFailed {
		res.Err = ErrDeviceFailed
		res.Error = strings.TrimSpace(ack.Error)
		if res.Error == "" {
			res.Error = ErrDeviceFailed.Error()
		}
	}
	p.ticket.deliver(res)

	g.metrics.setCounts(nDev, nPend)
	g.metrics.observeResolution(res, true)
	g.log.Info("gateway.ack.resolved",
		"correlation_id", ack.CorrelationID,
		"linked_id", p.req.LinkedID,
		"device_key", deviceKey,
		"status", res.Status,
		"latency_ms", res.Latency.Milliseconds(),
	)
	return true
}

// expire is the timer path. It is a no-op if an ack already won.
func (g *Gateway) expire(id string, p *pendingRequest) {
	g.mu.Lock()
	cur, ok := g.pending[id]
	if !ok || cur != p {
		g.mu.Unlock()
		return
	}
	g.removeLocked(id, p)
	nDev, nPend := len(g.devices), len(g.pending)
	g.mu.Unlock()

	res := Resolution{
		CorrelationID: id,
		LinkedID:      p.req.LinkedID,
		DeviceKey:     p.device.Key,
		Status:        StatusFailed,
		Error:         ErrDispatchTimeout.Error(),
		Err:           ErrDispatchTimeout,
		At:            g.now(),
		Latency:       g.cfg.AckTimeout,
	}
	p.ticket.deliver(res)

	g.metrics.setCounts(nDev, nPend)
	g.metrics.observeResolution(res, false)
	g.log.Warn("gateway.dispatch.timeout",
		"correlation_id", id,
		"linked_id", p.req.LinkedID,
		"device_key", p.device.Key,
	)
}

// removeLocked deletes a pending entry. Caller holds g.mu.
func (g *Gateway) removeLocked(id string, p *pendingRequest) {
	delete(g.pending, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.device.inflight > 0 {
		p.device.inflight--
	}
}

// attach registers dev under its key. A device already holding the key is
// returned so the caller can close it.
func (g *Gateway) attach(dev *Device) (replaced *Device, err error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrGatewayClosed
	}
	replaced = g.devices[dev.Key]
	g.devices[dev.Key] = dev
	nDev, nPend := len(g.devices), len(g.pending)
	g.mu.Unlock()

	g.metrics.setCounts(nDev, nPend)
	return replaced, nil
}

// detach removes dev if it is still the registered device for its key.
// In-flight requests for it resolve through their timers.
func (g *Gateway) detach(dev *Device) bool {
	g.mu.Lock()
	cur, ok := g.devices[dev.Key]
	removed := ok && cur == dev
	if removed {
		delete(g.devices, dev.Key)
	}
	nDev, nPend := len(g.devices), len(g.pending)
	g.mu.Unlock()

	if removed {
		g.metrics.setCounts(nDev, nPend)
	}
	return removed
}

// touch records device activity and an optional status snapshot.
func (g *Gateway) touch(dev *Device, status *v1.StatusPayload) {
	now := g.now()
	g.mu.Lock()
	dev.lastActivity = now
	if status != nil {
		dev.status = *status
	}
	g.mu.Unlock()
}

// Devices returns a snapshot of registered devices ordered by key.
func (g *Gateway) Devices() []DeviceInfo {
	g.mu.Lock()
	out := make([]DeviceInfo, 0, len(g.devices))
	for _, d := range g.devices {
		out = append(out, DeviceInfo{
			Key:            d.Key,
			Region:         d.Region,
			ConnectedAt:    d.ConnectedAt,
			LastActivity:   d.lastActivity,
			InFlight:       d.inflight,
			QueueDepth:     len(d.Send),
			BatteryLevel:   d.status.BatteryLevel,
			SignalStrength: d.status.SignalStrength,
			PendingCount:   d.status.PendingCount,
		})
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// DeviceCount returns the number of registered devices.
func (g *Gateway) DeviceCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.devices)
}

// PendingCount returns the number of requests awaiting an ack.
func (g *Gateway) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Close rejects new work, fails every pending request with ErrGatewayClosed
// and disconnects all devices. Idempotent.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true

	pend := make([]*pendingRequest, 0, len(g.pending))
	for id, p := range g.pending {
		g.removeLocked(id, p)
		pend = append(pend, p)
	}
	devs := make([]*Device, 0, len(g.devices))
	for k, d := range g.devices {
		delete(g.devices, k)
		devs = append(devs, d)
	}
	g.mu.Unlock()

	now := g.now()
	for _, p := range pend {
		res := Resolution{
			CorrelationID: p.req.CorrelationID,
			LinkedID:      p.req.LinkedID,
			DeviceKey:     p.device.Key,
			Status:        StatusFailed,
			Error:         ErrGatewayClosed.Error(),
			Err:           ErrGatewayClosed,
			At:            now,
		}
		p.ticket.deliver(res)
		g.metrics.observeResolution(res, false)
	}
	for _, d := range devs {
		d.Close("server shutting down")
	}
	g.metrics.setCounts(0, 0)
	g.log.Info("gateway.closed", "failed_pending", len(pend), "devices", len(devs))
}
