package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/scribe/internal/relay"
	"github.com/snarg/scribe/internal/synth"
)

// StoreChecker is the part of the transcript store the health check uses.
type StoreChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Relay         *RelayHealth      `json:"relay,omitempty"`
	Synth         *synth.QueueStats `json:"synth,omitempty"`
}

type RelayHealth struct {
	ActivePairs int              `json:"active_pairs"`
	Pairs       []relay.PairInfo `json:"pairs"`
}

type HealthHandler struct {
	store     StoreChecker
	mqtt      MQTTStatus
	relay     RelayStatus
	synth     SynthStatus
	version   string
	startTime time.Time
}

func NewHealthHandler(store StoreChecker, mqtt MQTTStatus, relay RelayStatus, synth SynthStatus, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		store:     store,
		mqtt:      mqtt,
		relay:     relay,
		synth:     synth,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// Store check
	if h.store == nil {
		checks["store"] = "not_configured"
	} else if err := h.store.HealthCheck(r.Context()); err != nil {
		checks["store"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	if h.relay != nil {
		resp.Relay = &RelayHealth{ActivePairs: h.relay.Active(), Pairs: h.relay.Pairs()}
	}
	if h.synth != nil {
		stats := h.synth.Stats()
		resp.Synth = &stats
		switch {
		case stats.FragmentsDropped > 0:
			checks["synth"] = "fragments_dropped"
			if status == "healthy" {
				status = "degraded"
			}
		case stats.Failed > 0:
			checks["synth"] = "errors"
		default:
			checks["synth"] = "ok"
		}
	}

	WriteJSON(w, httpStatus, resp)
}

// PlatformStatus is the liveness probe. It reports the process is up and
// does not touch dependencies.
func PlatformStatus(w http.ResponseWriter, r *http.Request) {
	WritePlatform(w, http.StatusOK, "All systems operational", nil)
}

// NotFound answers unknown routes with the platform envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WritePlatform(w, http.StatusNotFound, "API not found", nil)
}
