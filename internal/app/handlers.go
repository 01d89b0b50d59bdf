package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/large-farva/flight-arbiter/internal/mission"
	"github.com/large-farva/flight-arbiter/internal/store"
)

// maxBodyBytes bounds POST bodies. The largest is a waypoint mission.
const maxBodyBytes = 1 << 20

// envelope is the part of every operator command the router needs. The rest
// of the frame travels to the controller untouched.
type envelope struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		a.handleHealthDetailed(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "flight-arbiter",
		"version":        Version,
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"link_kind":      a.cfg.Link.Kind,
		"ws_clients":     a.wsHub.Clients(),
		"status":         a.ctrl.Status(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	})
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg)
}

// handleSummaries lists persisted mission summaries, newest first.
func (a *App) handleSummaries(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		jsonError(w, "summary store not configured", http.StatusServiceUnavailable)
		return
	}
	if id := r.URL.Query().Get("mission_id"); id != "" {
		sum, err := a.store.Summary(r.Context(), id)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, store.ErrNotFound) {
				code = http.StatusNotFound
			}
			jsonError(w, err.Error(), code)
			return
		}
		writeJSON(w, http.StatusOK, sum)
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	sums, err := a.store.Summaries(r.Context(), limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": sums})
}

// handleCommand accepts one operator command envelope and answers with the
// controller's reply. Rejected commands come back as 422 with the same body
// shape so clients only parse one type.
func (a *App) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	env, err := parseEnvelope(body)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	reply := a.ctrl.Submit(r.Context(), mission.Command{Type: env.Type, ID: env.ID, Payload: body})
	code := http.StatusOK
	if reply.Status != mission.StatusOK {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, reply)
}

// handleSimFault injects a fault into the built-in simulated vehicle.
func (a *App) handleSimFault(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if a.vehicle == nil {
		jsonError(w, "fault injection needs the sim link", http.StatusConflict)
		return
	}

	var req struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.vehicle.Inject(req.Kind, req.Value); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": fmt.Sprintf("injected %s", req.Kind),
	})
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{}
	allOK := true

	st := a.ctrl.Status()
	if st.Link.Connected {
		checks["link"] = map[string]any{"ok": true, "kind": a.cfg.Link.Kind}
	} else {
		checks["link"] = map[string]any{"ok": false, "kind": a.cfg.Link.Kind, "error": "vehicle link down"}
		allOK = false
	}

	// Telemetry is only judged while the link is up; a down link already
	// fails above.
	if st.Link.Connected {
		limit := a.cfg.Safety.ConnectionTimeoutSeconds
		switch age := st.Link.HeartbeatAgeSeconds; {
		case age == nil:
			checks["telemetry"] = map[string]any{"ok": false, "error": "no telemetry received"}
			allOK = false
		case *age > limit:
			checks["telemetry"] = map[string]any{"ok": false, "age_s": *age, "error": "telemetry stale"}
			allOK = false
		default:
			checks["telemetry"] = map[string]any{"ok": true, "age_s": *age}
		}
	}

	if a.store != nil {
		if a.storeErr != nil {
			checks["store"] = map[string]any{"ok": false, "error": a.storeErr.Error()}
			allOK = false
		} else {
			c := map[string]any{"ok": true, "path": a.cfg.Storage.Path}
			if du := diskUsage(filepath.Dir(a.cfg.Storage.Path)); du != nil {
				c["disk"] = du
			}
			checks["store"] = c
		}
	}

	// Config file readable.
	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

// ---------------------------------------------------------------------------
// WebSocket commands
// ---------------------------------------------------------------------------

// dispatchFrame answers a command frame read from a WebSocket client. Frames
// that are not command envelopes get an error reply rather than silence.
func (a *App) dispatchFrame(ctx context.Context, msg []byte) any {
	env, err := parseEnvelope(msg)
	if err != nil {
		return mission.Reply{Status: mission.StatusError, ID: env.ID, Detail: err.Error()}
	}
	return a.ctrl.Submit(ctx, mission.Command{Type: env.Type, ID: env.ID, Payload: msg})
}

func parseEnvelope(b []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("invalid command frame: %w", err)
	}
	if env.Type == "" {
		return env, errors.New("command frame missing type")
	}
	return env, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}
