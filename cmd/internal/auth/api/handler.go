package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/identity"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/auth/session"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/dispatch"
	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/otp"
)

// OTPSender hands an issued code to the delivery path.
type OTPSender interface {
	SendOTP(ctx context.Context, msg dispatch.Message) (dispatch.Result, error)
}

// Deps are the services behind the auth endpoints. Sender may be nil, in
// which case codes are issued but never delivered.
type Deps struct {
	OTP      *otp.Service
	Sender   OTPSender
	Users    identity.Store
	Sessions *session.Service
	Auditor  Auditor

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Handler wires HTTP auth endpoints to the OTP, identity and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	otp      *otp.Service
	sender   OTPSender
	users    identity.Store
	sessions *session.Service
	auditor  Auditor

	clock func() time.Time
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, deps Deps) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if deps.OTP == nil || deps.Users == nil || deps.Sessions == nil {
		return nil, errors.New("authapi: otp, users and sessions are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		otp:      deps.OTP,
		sender:   deps.Sender,
		users:    deps.Users,
		sessions: deps.Sessions,
		auditor:  deps.Auditor,
		clock:    deps.Now,
	}
	if h.auditor == nil {
		h.auditor = NewMemoryAuditor()
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/otp/send", h.handleOTPSend)
	mux.HandleFunc("/auth/otp/verify", h.handleOTPVerify)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
}

func (h *Handler) now() time.Time { return h.clock().UTC() }

// ---- handlers ----

func (h *Handler) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req otpSendRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	purpose, ok := parsePurpose(req.Purpose)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	blocked, retry, err := h.checkSendThrottle(ctx, ip, now)
	if err != nil {
		h.log.Error("auth.otp.send.throttle_check.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if blocked {
		h.audit(ctx, actionOTPRateLimited, "", ip, ua, map[string]any{"scope": "ip"})
		writeRateLimited(w, retry, "rate_limited", "too many code requests")
		return
	}

	issued, err := h.otp.Create(ctx, now, otp.CreateInput{
		Phone:    req.Phone,
		Purpose:  purpose,
		Region:   strings.TrimSpace(req.Region),
		Metadata: map[string]string{"ip": ipString(ip)},
	})
	if err != nil {
		var rlErr *otp.RateLimitError
		switch {
		case errors.Is(err, otp.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_phone", "invalid phone number")
		case errors.As(err, &rlErr):
			h.audit(ctx, actionOTPRateLimited, "", ip, ua, map[string]any{"scope": "phone"})
			writeRateLimited(w, rlErr.RetryAfter, "rate_limited", "too many code requests")
		default:
			h.log.Error("auth.otp.send.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.dispatch(ctx, issued)
	h.audit(ctx, actionOTPSent, "", ip, ua, map[string]any{
		"otp_id":  issued.ID,
		"phone":   otp.MaskPhone(issued.Phone),
		"purpose": string(issued.Purpose),
	})

	writeJSON(w, http.StatusOK, otpSendResponse{
		RequestID: issued.ID,
		Phone:     issued.Phone,
		ExpiresAt: issued.ExpiresAt,
	})
}

// dispatch never fails the request: the code is stored and verifiable
// whatever happens to delivery.
func (h *Handler) dispatch(ctx context.Context, issued otp.Issued) {
	if issued.IsTestNumber {
		h.log.Info("auth.otp.send.test_number", "otp_id", issued.ID, "phone", otp.MaskPhone(issued.Phone))
		return
	}
	if h.sender == nil {
		h.log.Warn("auth.otp.send.no_sender", "otp_id", issued.ID)
		return
	}
	res, err := h.sender.SendOTP(ctx, dispatch.Message{
		Phone:  issued.Phone,
		Code:   issued.Code,
		OTPID:  issued.ID,
		Region: issued.Region,
	})
	if err != nil {
		h.log.Warn("auth.otp.dispatch.fail", "otp_id", issued.ID, "err", err)
		return
	}
	h.log.Debug("auth.otp.dispatch.accepted",
		"otp_id", issued.ID,
		"correlation_id", res.CorrelationID,
		"device_key", res.DeviceKey,
		"accepted", res.Accepted,
	)
}

func (h *Handler) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req otpVerifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	purpose, ok := parsePurpose(req.Purpose)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	blocked, retry, err := h.checkVerifyLockout(ctx, ip, now)
	if err != nil {
		h.log.Error("auth.otp.verify.lockout_check.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if blocked {
		writeRateLimited(w, retry, "locked_out", "too many failed attempts")
		return
	}

	res, err := h.otp.Verify(ctx, now, otp.VerifyInput{Phone: req.Phone, Code: req.Code, Purpose: purpose})
	if err != nil {
		h.writeVerifyFailure(ctx, w, err, ip, ua)
		return
	}
	h.audit(ctx, actionOTPVerified, "", ip, ua, map[string]any{
		"otp_id":  res.CodeID,
		"purpose": string(purpose),
	})

	resp := otpVerifyResponse{Valid: true, Message: "verified"}
	if !purpose.IssuesSession() {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	user, created, err := h.users.UpsertByPhone(ctx, res.Phone, now)
	if err != nil {
		// The code is already consumed; a retry will see not_found.
		h.log.Error("auth.otp.verify.user_upsert.fail",
			"err", err,
			"otp_id", res.CodeID,
			"otp_consumed", true,
			"conflict", identity.IsConflict(err),
		)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	pair, err := h.sessions.Issue(ctx, now, user.ID)
	if err != nil {
		h.log.Error("auth.otp.verify.session_issue.fail",
			"err", err,
			"user_id", user.ID,
			"otp_id", res.CodeID,
			"otp_consumed", true,
		)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.audit(ctx, actionSessionIssued, user.ID, ip, ua, map[string]any{"new_user": created})

	resp.UserID = user.ID
	resp.NewUser = created
	sess := toSessionResponse(pair)
	resp.Session = &sess
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeVerifyFailure(ctx context.Context, w http.ResponseWriter, err error, ip net.IP, ua string) {
	var reason string
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, otp.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid phone or code")
		return
	case errors.Is(err, otp.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, otp.ErrExpired):
		reason = "expired"
	case errors.Is(err, otp.ErrMaxAttemptsExceeded):
		reason = "max_attempts"
		status = http.StatusTooManyRequests
	case errors.Is(err, otp.ErrInvalid):
		reason = "invalid"
	default:
		h.log.Error("auth.otp.verify.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, actionOTPVerifyFailed, "", ip, ua, map[string]any{"reason": reason})

	resp := otpVerifyResponse{Valid: false, Message: verifyMessage(reason), Reason: reason}
	if n, ok := otp.AttemptsRemaining(err); ok {
		resp.AttemptsRemaining = &n
	}
	writeJSON(w, status, resp)
}

func verifyMessage(reason string) string {
	switch reason {
	case "not_found":
		return "no active code for this phone"
	case "expired":
		return "code expired"
	case "max_attempts":
		return "too many attempts, request a new code"
	default:
		return "invalid code"
	}
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refreshToken := bearerToken(r)
	if refreshToken == "" {
		var req refreshRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
				return
			}
		}
		refreshToken = strings.TrimSpace(req.RefreshToken)
	}
	if refreshToken == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing refresh token")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	pair, err := h.sessions.Refresh(ctx, now, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrTokenReuseDetected):
			h.audit(ctx, actionRefreshReuse, "", ip, ua, nil)
		case errors.Is(err, session.ErrTokenInvalid),
			errors.Is(err, session.ErrTokenExpired),
			errors.Is(err, session.ErrNoSession):
			h.audit(ctx, actionRefreshRejected, "", ip, ua, map[string]any{"reason": err.Error()})
		default:
			h.log.Error("auth.refresh.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
		return
	}

	h.audit(ctx, actionRefreshSuccess, "", ip, ua, nil)
	writeJSON(w, http.StatusOK, toSessionResponse(pair))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.sessions.Logout(ctx, claims.Subject); err != nil {
		h.log.Error("auth.logout.fail", "err", err, "user_id", claims.Subject)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.audit(ctx, actionLogout, claims.Subject, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), nil)
	writeJSON(w, http.StatusOK, logoutResponse{LoggedOut: true})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Claims, bool) {
	tok := bearerToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.Claims{}, false
	}
	claims, err := h.sessions.ValidateAccess(r.Context(), h.now(), tok)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.Claims{}, false
	}
	return claims, true
}

func toSessionResponse(p session.Pair) sessionResponse {
	return sessionResponse{
		AccessToken:      p.AccessToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

// parsePurpose defaults an empty purpose to login.
func parsePurpose(raw string) (otp.Purpose, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return otp.PurposeLogin, true
	}
	p := otp.Purpose(raw)
	return p, p.Valid()
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
