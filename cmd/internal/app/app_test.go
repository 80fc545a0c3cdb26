package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/coder/websocket"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/otp"
	v1 "github.com/tkmdevelopers/auto.tm-main-sub000/shared/contracts/device/v1"
)

const testDeviceSecret = "device-secret"

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTOTM_ENV_FILE", "")
	t.Setenv("AUTOTM_DATABASE_URL", "")
	t.Setenv("AUTOTM_SESSION_STORE", SessionStoreMemory)
	t.Setenv("AUTOTM_KAFKA_BROKERS", "")
	t.Setenv("AUTOTM_TOKEN_HMAC_KEY", "")
	t.Setenv("AUTOTM_PASETO_V4_SECRET_KEY_HEX", paseto.NewV4AsymmetricSecretKey().ExportHex())
	t.Setenv("AUTOTM_OTP_ARGON2_MEMORY_KIB", "1024")
	t.Setenv("AUTOTM_OTP_ARGON2_ITERATIONS", "1")
	t.Setenv("AUTOTM_OTP_TEST_NUMBERS_ENABLED", "true")
	t.Setenv("AUTOTM_GATEWAY_SHARED_SECRET", testDeviceSecret)
	t.Setenv("AUTOTM_GATEWAY_ACK_TIMEOUT", "5s")
}

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *httptest.Server) {
	t.Helper()
	setTestEnv(t)

	cfg := LoadConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(ctx)
	})
	return a, srv
}

func get(t *testing.T, rawURL string) (int, string) {
	t.Helper()
	resp, err := http.Get(rawURL)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func postJSON(t *testing.T, rawURL string, body any) (int, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(rawURL, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", rawURL, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func connectDevice(t *testing.T, baseURL, deviceID string) *websocket.Conn {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/device/ws"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })

	writeDeviceEnvelope(t, conn, v1.TypeRegister, v1.RegisterPayload{AuthToken: testDeviceSecret, DeviceID: deviceID, Region: "ashgabat"})
	env := readDeviceEnvelope(t, conn, v1.TypeRegisterAck)
	var ack v1.RegisterAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil || !ack.Success {
		t.Fatalf("register failed: %+v err=%v", ack, err)
	}
	return conn
}

func writeDeviceEnvelope(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: typ, TS: time.Now().UTC(), Payload: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readDeviceEnvelope(t *testing.T, conn *websocket.Conn, typ string) v1.Envelope {
	t.Helper()
	for i := 0; i < 8; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, b, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env v1.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("no %q envelope", typ)
	return v1.Envelope{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestApp_ProbesAndMetrics(t *testing.T) {
	_, srv := newTestApp(t, nil)

	if code, body := get(t, srv.URL+"/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Fatalf("/healthz: %d %q", code, body)
	}
	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusOK {
		t.Fatalf("/readyz: %d", code)
	}

	code, body := get(t, srv.URL+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("/metrics: %d", code)
	}
	for _, want := range []string{"autotm_gateway_devices_connected", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s", want)
		}
	}

	code, body = get(t, srv.URL+"/gateway/devices")
	if code != http.StatusOK || !strings.Contains(body, `"devices":[]`) {
		t.Fatalf("/gateway/devices: %d %s", code, body)
	}
}

func TestApp_ReadinessRequiresDevice(t *testing.T) {
	a, srv := newTestApp(t, func(c *Config) { c.ReadinessRequireDevice = true })

	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without devices, got %d", code)
	}

	connectDevice(t, srv.URL, "phone-ready")
	waitFor(t, "device registration", func() bool { return a.gw.DeviceCount() == 1 })

	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusOK {
		t.Fatalf("expected 200 with a device, got %d", code)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	_, srv := newTestApp(t, func(c *Config) { c.ReadinessRequireDB = true })
	if code, _ := get(t, srv.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without DB, got %d", code)
	}
}

var codePattern = regexp.MustCompile(`code: (\d+)`)

func TestApp_OTPLoginThroughDevice(t *testing.T) {
	a, srv := newTestApp(t, nil)

	conn := connectDevice(t, srv.URL, "phone-1")
	waitFor(t, "device registration", func() bool { return a.gw.DeviceCount() == 1 })

	code, body := postJSON(t, srv.URL+"/auth/otp/send", map[string]string{"phone": "+99365123456", "purpose": "login"})
	if code != http.StatusOK {
		t.Fatalf("send: %d %s", code, body)
	}
	var sent struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &sent); err != nil || sent.RequestID == "" {
		t.Fatalf("bad send response %s: %v", body, err)
	}

	env := readDeviceEnvelope(t, conn, v1.TypeSend)
	var push v1.SendPayload
	if err := json.Unmarshal(env.Payload, &push); err != nil {
		t.Fatalf("decode send: %v", err)
	}
	if push.Phone != "+99365123456" {
		t.Fatalf("phone=%q", push.Phone)
	}
	m := codePattern.FindStringSubmatch(push.Text)
	if m == nil {
		t.Fatalf("no code in %q", push.Text)
	}
	writeDeviceEnvelope(t, conn, v1.TypeAck, v1.AckPayload{CorrelationID: push.CorrelationID, Status: v1.AckDelivered})

	waitFor(t, "dispatch status", func() bool {
		c, err := a.otp.Get(context.Background(), sent.RequestID)
		return err == nil && c.DispatchStatus == otp.DispatchDelivered && c.ProviderMessageID == push.CorrelationID
	})

	code, body = postJSON(t, srv.URL+"/auth/otp/verify", map[string]string{"phone": "+99365123456", "code": m[1], "purpose": "login"})
	if code != http.StatusOK {
		t.Fatalf("verify: %d %s", code, body)
	}
	var verified struct {
		Valid   bool   `json:"valid"`
		UserID  string `json:"user_id"`
		Session struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"session"`
	}
	if err := json.Unmarshal(body, &verified); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !verified.Valid || verified.UserID == "" || verified.Session.RefreshToken == "" {
		t.Fatalf("unexpected verify response: %s", body)
	}

	code, body = postJSON(t, srv.URL+"/auth/refresh", map[string]string{"refresh_token": verified.Session.RefreshToken})
	if code != http.StatusOK {
		t.Fatalf("refresh: %d %s", code, body)
	}
}

func TestApp_SendWithoutDeviceStillVerifies(t *testing.T) {
	a, srv := newTestApp(t, nil)

	code, body := postJSON(t, srv.URL+"/auth/otp/send", map[string]string{"phone": "+99361999999"})
	if code != http.StatusOK {
		t.Fatalf("send: %d %s", code, body)
	}
	if a.gw.PendingCount() != 0 {
		t.Fatalf("test numbers must not reach the gateway")
	}

	code, body = postJSON(t, srv.URL+"/auth/otp/verify", map[string]string{"phone": "+99361999999", "code": "12345"})
	if code != http.StatusOK {
		t.Fatalf("verify: %d %s", code, body)
	}
}

func TestNew_RejectsUnknownSessionStore(t *testing.T) {
	setTestEnv(t)
	cfg := LoadConfig()
	cfg.SessionStore = "etcd"
	if _, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected error for unknown session store")
	}
}

func TestNew_ReturnsSubsystemConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{name: "otp ttl", key: "AUTOTM_OTP_TTL", val: "garbage"},
		{name: "gateway ack timeout", key: "AUTOTM_GATEWAY_ACK_TIMEOUT", val: "garbage"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setTestEnv(t)
			t.Setenv(tc.key, tc.val)

			a, err := New(context.Background(), LoadConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
			if a != nil {
				t.Fatalf("expected nil app on error")
			}
		})
	}
}
