package handlers

import (
	"net/http"

	"github.com/coshell/coshell/internal/database"
)

// GetSessionLogs returns the audit lines for the resource behind the
// caller's session.
func GetSessionLogs(w http.ResponseWriter, r *http.Request) {
	m := loadOwnMembership(w, r)
	if m == nil {
		return
	}

	var logs []database.ResourceLog
	err := database.DB.
		Where("resource_kind = ? AND resource_id = ?", m.ResourceKind, m.ResourceID).
		Order("id").
		Find(&logs).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	result := make([]map[string]interface{}, 0, len(logs))
	for _, entry := range logs {
		result = append(result, map[string]interface{}{
			"text":       entry.Text,
			"created_at": entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, result)
}
