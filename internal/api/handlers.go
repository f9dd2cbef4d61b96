package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dokzlo13/ringflash/internal/capability"
	"github.com/dokzlo13/ringflash/internal/chime"
	"github.com/dokzlo13/ringflash/internal/eventbus"
	"github.com/dokzlo13/ringflash/internal/flash"
	"github.com/dokzlo13/ringflash/internal/ring"
	"github.com/dokzlo13/ringflash/internal/targets"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// legacy service names kept for existing automations
var serviceAliases = map[string]string{
	"sonos_doorbell_chime":      "chime",
	"sonos_doorbell_chime_py":   "chime",
	"shelves_flash":             "flash",
	"shelves_doorbell_flash_py": "flash",
	"doorbell_ring":             "ring",
	"doorbell_ring_py":          "ring",
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) flash(w http.ResponseWriter, r *http.Request) {
	var body FlashParams
	if !decode(w, r, &body) {
		return
	}

	req, err := body.Request()
	if err != nil {
		writeInvalidTargets(w, err)
		return
	}

	report, err := s.deps.Flasher.Flash(r.Context(), req)
	if err != nil {
		status, code := http.StatusInternalServerError, "flash_failed"
		switch {
		case errors.Is(err, flash.ErrNoUsableTargets):
			status, code = http.StatusUnprocessableEntity, "no_usable_targets"
		case errors.Is(err, flash.ErrSuppressed):
			status, code = http.StatusConflict, "suppressed"
		case errors.Is(err, flash.ErrPreempted):
			status, code = http.StatusConflict, "preempted"
		}
		writeJSON(w, status, map[string]any{
			"error":  map[string]any{"code": code, "message": err.Error()},
			"report": flashReport(report),
		})
		return
	}
	writeJSON(w, http.StatusOK, flashReport(report))
}

func (s *Server) chime(w http.ResponseWriter, r *http.Request) {
	var body ChimeParams
	if !decode(w, r, &body) {
		return
	}

	req, err := body.Request()
	if err != nil {
		writeInvalidTargets(w, err)
		return
	}

	report, err := s.deps.Chimer.Chime(r.Context(), req)
	if err != nil {
		status, code := http.StatusInternalServerError, "chime_failed"
		if errors.Is(err, chime.ErrNoPlayers) {
			status, code = http.StatusUnprocessableEntity, "no_players"
		}
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chimeReport(report))
}

// ring queues a run on the event bus and answers 202, or runs it inline
// with ?wait=true. An inline run outlives the request.
func (s *Server) ring(w http.ResponseWriter, r *http.Request) {
	var body RingParams
	if !decode(w, r, &body) {
		return
	}
	params, err := body.Params(Source)
	if err != nil {
		writeInvalidTargets(w, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		out := s.deps.Ringer.Ring(context.WithoutCancel(r.Context()), params)
		writeJSON(w, http.StatusOK, outcome(out))
		return
	}

	queued := s.deps.Bus.Publish(eventbus.Event{
		Type:   eventbus.EventRing,
		Source: Source,
		Data:   map[string]any{"params": params},
	})
	if queued == 0 {
		writeError(w, http.StatusServiceUnavailable, "not_queued", "Ring request could not be queued")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func (s *Server) service(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	switch serviceAliases[alias] {
	case "chime":
		s.chime(w, r)
	case "flash":
		s.flash(w, r)
	case "ring":
		s.ring(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown_service", "Unknown service "+alias)
	}
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	in := targets.None()
	if raw := strings.TrimSpace(r.URL.Query().Get("targets")); raw != "" {
		in = targets.FromString(raw)
	}

	set, err := s.deps.Flasher.Resolve(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadGateway, "resolve_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, targetSet(set))
}

func (s *Server) runs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusNotFound, "ledger_disabled", "Run ledger is not enabled")
		return
	}

	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	entries, err := s.deps.Runs.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ledger_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": entries})
}

func (s *Server) guard(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Ringer.Guard().State()
	resp := map[string]any{
		"held":         st.Held,
		"cooldown_ms":  st.Cooldown.Milliseconds(),
		"remaining_ms": st.Remaining.Milliseconds(),
	}
	if !st.LastRun.IsZero() {
		resp["last_run"] = st.LastRun.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads an optional JSON body; an empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_payload", "Invalid JSON payload")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeInvalidTargets(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "invalid_targets", err.Error())
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func flashReport(r *flash.Report) map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"targets":     nonNil(r.Targets),
		"missing":     nonNil(r.Missing),
		"unsupported": nonNil(r.Unsupported),
		"color":       r.Color.String(),
		"brightness":  r.Brightness,
		"pulses":      r.Pulses,
		"snapshot":    r.Snapshot,
		"restored":    r.Restored,
		"failures":    r.Failures,
	}
}

func chimeReport(r *chime.Report) map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"players":     nonNil(r.Players),
		"media_url":   r.MediaURL,
		"volume":      r.Volume,
		"duration_ms": r.Duration.Milliseconds(),
		"failures":    r.Failures,
	}
}

func outcome(out ring.Outcome) map[string]any {
	resp := map[string]any{
		"run_id":      out.RunID,
		"source":      out.Source,
		"status":      out.Status,
		"started_at":  out.StartedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms": out.Duration().Milliseconds(),
	}
	if out.SkipReason != "" {
		resp["skip_reason"] = out.SkipReason
	}
	if out.Flash != nil {
		resp["flash"] = flashReport(out.Flash)
	}
	if out.FlashErr != nil {
		resp["flash_error"] = out.FlashErr.Error()
	}
	if out.Chime != nil {
		resp["chime"] = chimeReport(out.Chime)
	}
	if out.ChimeErr != nil {
		resp["chime_error"] = out.ChimeErr.Error()
	}
	return resp
}

func targetSet(set capability.TargetSet) map[string]any {
	list := make([]map[string]any, 0, len(set.Targets))
	for _, t := range set.Targets {
		item := map[string]any{"id": string(t.Ref), "tier": t.Tier.String()}
		if t.Tier == capability.TierColor {
			item["encoding"] = t.Encoding.String()
		}
		list = append(list, item)
	}
	return map[string]any{
		"targets":     list,
		"missing":     nonNil(set.Missing),
		"unsupported": nonNil(set.Unsupported),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
