package handlers

import (
	"net/http"
	"strconv"

	"github.com/coshell/coshell/internal/database"
	"github.com/coshell/coshell/internal/logging"
)

const (
	defaultLogLines = 200
	maxLogLines     = 5000

	recentResourceEvents = 50
)

// GetServerLogs returns the tail of the server log together with the most
// recent resource lifecycle events, so an admin sees relay activity next to
// process output.
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := defaultLogLines
	if q := r.URL.Query().Get("lines"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			lines = n
		}
	}
	if lines > maxLogLines {
		lines = maxLogLines
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read server log")
		return
	}

	events, err := database.ListRecentResourceLogs(recentResourceEvents)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load resource events")
		return
	}
	eventList := make([]map[string]interface{}, 0, len(events))
	for i := range events {
		e := &events[i]
		eventList = append(eventList, map[string]interface{}{
			"resource_kind": e.ResourceKind,
			"resource_id":   e.ResourceID,
			"text":          e.Text,
			"created_at":    e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":            content,
		"lines":           lines,
		"resource_events": eventList,
	})
}

// ClearServerLogs truncates the server log file. Resource lifecycle events
// live in the database and are kept.
func ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear server log")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
