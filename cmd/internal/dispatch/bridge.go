package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/gateway"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/otp"

	"github.com/google/uuid"
)

// Sender is the gateway surface the bridge uses.
type Sender interface {
	SendSMS(ctx context.Context, req gateway.Request) *gateway.Ticket
}

// StatusRecorder persists dispatch progress for a code.
type StatusRecorder interface {
	SetDispatchStatus(ctx context.Context, now time.Time, id string, status otp.DispatchStatus, providerMessageID string) error
}

// Message is one code to deliver.
type Message struct {
	Phone  string
	Code   string
	OTPID  string
	Region string
}

// Result describes the hand-off to the gateway. Accepted=false means the
// failure has already been recorded.
type Result struct {
	CorrelationID string
	DeviceKey     string
	Accepted      bool
}

// Bridge connects the OTP lifecycle to the device gateway.
type Bridge struct {
	cfg    Config
	tmpl   *template.Template
	sender Sender
	status StatusRecorder
	sink   EventSink
	log    *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithSink sets the event sink (default NopSink).
func WithSink(s EventSink) Option {
	return func(b *Bridge) {
		if s != nil {
			b.sink = s
		}
	}
}

// NewBridge parses the template and wires the collaborators.
func NewBridge(cfg Config, sender Sender, status StatusRecorder, opts ...Option) (*Bridge, error) {
	if sender == nil || status == nil {
		return nil, fmt.Errorf("%w: sender and status recorder required", ErrConfig)
	}
	if strings.TrimSpace(cfg.Template) == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.StatusWriteTimeout <= 0 {
		cfg.StatusWriteTimeout = defaultStatusWriteTimeout
	}

	tmpl, err := template.New("sms").Option("missingkey=error").Parse(cfg.Template)
	if err != nil {
		return nil, fmt.Errorf("%w: sms template: %v", ErrConfig, err)
	}
	if err := tmpl.Execute(&strings.Builder{}, TemplateData{Code: "00000", TTLMinutes: 1}); err != nil {
		return nil, fmt.Errorf("%w: sms template: %v", ErrConfig, err)
	}

	b := &Bridge{
		cfg:    cfg,
		tmpl:   tmpl,
		sender: sender,
		status: status,
		sink:   NopSink{},
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Render produces the SMS text for code.
func (b *Bridge) Render(code string) (string, error) {
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, TemplateData{Code: code, TTLMinutes: ttlMinutes(b.cfg.CodeTTL)}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// SendOTP hands msg to the gateway and marks the code pending. The final
// status is written asynchronously when the gateway resolves the request.
func (b *Bridge) SendOTP(ctx context.Context, msg Message) (Result, error) {
	if strings.TrimSpace(msg.Phone) == "" || msg.Code == "" || strings.TrimSpace(msg.OTPID) == "" {
		return Result{}, ErrInvalidMessage
	}

	text, err := b.Render(msg.Code)
	if err != nil {
		return Result{}, fmt.Errorf("render sms: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Result{}, ErrClosed
	}
	b.wg.Add(1)
	b.mu.Unlock()

	corrID := uuid.NewString()
	tk := b.sender.SendSMS(ctx, gateway.Request{
		CorrelationID: corrID,
		Phone:         msg.Phone,
		Text:          text,
		Region:        msg.Region,
		LinkedID:      msg.OTPID,
	})

	b.writeStatus(msg.OTPID, otp.DispatchPending, corrID)

	go func() {
		defer b.wg.Done()
		b.await(tk, msg)
	}()

	b.log.Info("dispatch.sms.queued",
		"otp_id", msg.OTPID,
		"correlation_id", corrID,
		"phone", otp.MaskPhone(msg.Phone),
		"accepted", tk.Accepted,
		"device_key", tk.DeviceKey,
	)
	return Result{CorrelationID: corrID, DeviceKey: tk.DeviceKey, Accepted: tk.Accepted}, nil
}

// await blocks until the ticket resolves. The gateway bounds every ticket
// with its ack timeout, so this always returns.
func (b *Bridge) await(tk *gateway.Ticket, msg Message) {
	res := <-tk.Done()

	status := resolutionStatus(res)
	b.writeStatus(msg.OTPID, status, res.CorrelationID)

	ev := Event{
		OTPID:         msg.OTPID,
		CorrelationID: res.CorrelationID,
		DeviceKey:     res.DeviceKey,
		Status:        string(status),
		Error:         res.Error,
		PhoneMasked:   otp.MaskPhone(msg.Phone),
		Region:        msg.Region,
		LatencyMS:     res.Latency.Milliseconds(),
		At:            res.At,
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.StatusWriteTimeout)
	defer cancel()
	if err := b.sink.Publish(ctx, ev); err != nil {
		b.log.Warn("dispatch.event.publish.fail", "otp_id", msg.OTPID, "correlation_id", res.CorrelationID, "err", err)
	}

	if status == otp.DispatchFailed {
		b.log.Warn("dispatch.sms.failed", "otp_id", msg.OTPID, "correlation_id", res.CorrelationID, "reason", res.Error)
		return
	}
	b.log.Info("dispatch.sms.resolved", "otp_id", msg.OTPID, "correlation_id", res.CorrelationID, "status", status)
}

func resolutionStatus(res gateway.Resolution) otp.DispatchStatus {
	switch res.Status {
	case gateway.StatusSent:
		return otp.DispatchSent
	case gateway.StatusDelivered:
		return otp.DispatchDelivered
	default:
		return otp.DispatchFailed
	}
}

// writeStatus is best effort; the code stays verifiable either way.
func (b *Bridge) writeStatus(otpID string, status otp.DispatchStatus, correlationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.StatusWriteTimeout)
	defer cancel()
	if err := b.status.SetDispatchStatus(ctx, b.now(), otpID, status, correlationID); err != nil {
		b.log.Warn("dispatch.status.write.fail", "otp_id", otpID, "status", status, "err", err)
	}
}

// Close stops accepting messages, waits for outstanding resolutions (or ctx)
// and closes the sink.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.sink.Close()
}
