package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tkmdevelopers/auto.tm-main-sub000/cmd/internal/gateway"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/readyz", a.handleReady)

	if a.reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{Registry: a.reg}))
	}

	mux.Handle("/device/ws", a.gw)
	mux.HandleFunc("/gateway/devices", a.handleDevices)

	a.auth.Register(mux)

	return WithRequestLogging(mux, a.log)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if a.pool != nil {
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.db.not_ready", "err", err)
			return
		}
	}
	if a.cfg.ReadinessRequireDevice && a.gw.DeviceCount() == 0 {
		http.Error(w, "no device registered", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

type devicesResponse struct {
	Count   int                  `json:"count"`
	Pending int                  `json:"pending"`
	Devices []gateway.DeviceInfo `json:"devices"`
}

func (a *App) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	devices := a.gw.Devices()
	if devices == nil {
		devices = []gateway.DeviceInfo{}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(devicesResponse{
		Count:   len(devices),
		Pending: a.gw.PendingCount(),
		Devices: devices,
	})
}
