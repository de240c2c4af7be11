package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ernie/teamwatch/internal/domain"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// internalError logs err and writes a generic 500
func (r *Router) internalError(w http.ResponseWriter, req *http.Request, err error) {
	r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// handleGetSessions returns a tenant's sessions, newest first
func (r *Router) handleGetSessions(w http.ResponseWriter, req *http.Request) {
	tr, err := parseTimeRange(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := req.URL.Query()
	sessions, err := r.svc.GetSessions(req.Context(), domain.SessionFilter{
		TenantID: req.PathValue("tenant"),
		ServerID: q.Get("server"),
		PlayerID: q.Get("player"),
		Range:    tr,
		Limit:    parseLimit(req, 100, 1000),
	})
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleGetPlayerStats returns aggregates for one player
func (r *Router) handleGetPlayerStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.svc.GetPlayerStats(req.Context(), req.PathValue("tenant"), req.URL.Query().Get("server"), req.PathValue("player"))
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleGetPositions returns a player's movement in time order
func (r *Router) handleGetPositions(w http.ResponseWriter, req *http.Request) {
	tr, err := parseTimeRange(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := r.svc.GetPositions(req.Context(), req.PathValue("tenant"), req.PathValue("player"), tr)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// handleGetDeaths returns deaths, newest first
func (r *Router) handleGetDeaths(w http.ResponseWriter, req *http.Request) {
	tr, err := parseTimeRange(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := req.URL.Query()
	deaths, err := r.svc.GetDeaths(req.Context(), domain.DeathFilter{
		TenantID: req.PathValue("tenant"),
		ServerID: q.Get("server"),
		PlayerID: q.Get("player"),
		Range:    tr,
		Limit:    parseLimit(req, 100, 1000),
	})
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, deaths)
}

// handleGetTeamStats aggregates the listed players, or everyone with a
// recorded session when no list is given
func (r *Router) handleGetTeamStats(w http.ResponseWriter, req *http.Request) {
	tenantID := req.PathValue("tenant")
	server := req.URL.Query().Get("server")
	players := parseList(req, "players")
	if len(players) == 0 {
		sessions, err := r.svc.GetSessions(req.Context(), domain.SessionFilter{TenantID: tenantID, ServerID: server})
		if err != nil {
			r.internalError(w, req, err)
			return
		}
		seen := make(map[string]bool)
		for _, s := range sessions {
			if !seen[s.PlayerID] {
				seen[s.PlayerID] = true
				players = append(players, s.PlayerID)
			}
		}
	}

	team, err := r.svc.GetTeamStats(req.Context(), tenantID, server, players)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// handleGetServerStats summarizes recent activity on a tenant
func (r *Router) handleGetServerStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.svc.GetServerStats(req.Context(), req.PathValue("tenant"), req.URL.Query().Get("server"), parseDays(req))
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleGetConnections returns the population timeline
func (r *Router) handleGetConnections(w http.ResponseWriter, req *http.Request) {
	tr, err := parseTimeRange(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	timeline, err := r.svc.GetConnectionTimeline(req.Context(), req.PathValue("tenant"), req.URL.Query().Get("server"), tr)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, timeline)
}

// handleGetChat returns chat history, newest first
func (r *Router) handleGetChat(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	messages, err := r.svc.GetChatHistory(req.Context(), domain.ChatFilter{
		TenantID: req.PathValue("tenant"),
		ServerID: q.Get("server"),
		PlayerID: q.Get("player"),
		Limit:    parseLimit(req, 100, 1000),
	})
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// handleGetCommands returns issued commands, newest first
func (r *Router) handleGetCommands(w http.ResponseWriter, req *http.Request) {
	commands, err := r.svc.GetCommandHistory(req.Context(), domain.CommandFilter{
		TenantID: req.PathValue("tenant"),
		ServerID: req.URL.Query().Get("server"),
		Limit:    parseLimit(req, 100, 1000),
	})
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, commands)
}

// SyncChatRequest carries a chat transcript to re-ingest
type SyncChatRequest struct {
	Messages []struct {
		ServerID   string     `json:"server_id"`
		PlayerID   string     `json:"player_id"`
		PlayerName string     `json:"player_name"`
		Message    string     `json:"message"`
		Timestamp  *time.Time `json:"timestamp"`
	} `json:"messages"`
}

// handleSyncChat stores transcript lines not seen before
func (r *Router) handleSyncChat(w http.ResponseWriter, req *http.Request) {
	var body SyncChatRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tenantID := req.PathValue("tenant")
	messages := make([]domain.ChatMessage, 0, len(body.Messages))
	for _, m := range body.Messages {
		if m.Message == "" {
			continue
		}
		msg := domain.ChatMessage{TenantID: tenantID, ServerID: m.ServerID, PlayerID: m.PlayerID, PlayerName: m.PlayerName, Text: m.Message}
		if m.Timestamp != nil {
			msg.Timestamp = m.Timestamp.UTC()
		}
		messages = append(messages, msg)
	}

	synced, skipped := r.svc.SyncChat(req.Context(), messages)
	writeJSON(w, http.StatusOK, map[string]int{"synced": synced, "skipped": skipped})
}

// handleGetReplay returns per-player tracks. Without a range it covers the
// last hour.
func (r *Router) handleGetReplay(w http.ResponseWriter, req *http.Request) {
	tr, err := parseTimeRange(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if tr.From == nil && tr.To == nil {
		tr = domain.Since(time.Now().UTC().Add(-time.Hour))
	}
	tracks, err := r.svc.GetReplay(req.Context(), req.PathValue("tenant"), req.URL.Query().Get("server"), tr)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// handleReset deletes all of a tenant's history
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) {
	n, err := r.control.ResetTenant(req.Context(), req.PathValue("tenant"))
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleGetColors returns display colors for the listed players
func (r *Router) handleGetColors(w http.ResponseWriter, req *http.Request) {
	players := parseList(req, "players")
	if len(players) == 0 {
		writeError(w, http.StatusBadRequest, "players is required")
		return
	}
	if len(players) > 200 {
		writeError(w, http.StatusBadRequest, "too many players")
		return
	}
	colors, err := r.svc.Colors(req.Context(), players)
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, colors)
}

// handleInfo reports database size and recent maintenance
func (r *Router) handleInfo(w http.ResponseWriter, req *http.Request) {
	info, err := r.svc.Info(req.Context())
	if err != nil {
		r.internalError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"database":   info,
		"tracked":    r.control.Tracked(),
		"ws_clients": r.wsHub.ClientCount(),
	})
}

// handleHealth returns server health status
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
