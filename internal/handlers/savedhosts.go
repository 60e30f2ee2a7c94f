package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coshell/coshell/internal/crypto"
	"github.com/coshell/coshell/internal/database"
	"github.com/coshell/coshell/internal/middleware"
)

func savedHostResponse(h *database.SavedHost) map[string]interface{} {
	return map[string]interface{}{
		"id":          h.ID,
		"name":        h.Name,
		"hostname":    h.Hostname,
		"ip":          h.IP,
		"port":        h.Port,
		"username":    h.Username,
		"has_key":     h.PrivateKey != "",
		"color":       h.Color,
		"created_at":  h.CreatedAt,
	}
}

func ListSavedHosts(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	var hosts []database.SavedHost
	if err := database.DB.Where("user_id = ?", user.ID).Order("id").Find(&hosts).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	result := make([]map[string]interface{}, 0, len(hosts))
	for i := range hosts {
		result = append(result, savedHostResponse(&hosts[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func CreateSavedHost(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	var body struct {
		Name       string `json:"name"`
		Hostname   string `json:"hostname"`
		IP         string `json:"ip"`
		Port       int    `json:"port"`
		Username   string `json:"username"`
		Password   string `json:"password"`
		PrivateKey string `json:"private_key"`
		Passphrase string `json:"passphrase"`
		Color      string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Hostname == "" && body.IP == "" {
		writeError(w, http.StatusBadRequest, "A hostname or IP is required")
		return
	}
	if body.Port == 0 {
		body.Port = 22
	}
	if body.Name == "" {
		body.Name = body.Hostname
	}

	encPassword, err := crypto.Encrypt(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
		return
	}
	encPassphrase, err := crypto.Encrypt(body.Passphrase)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
		return
	}

	host := &database.SavedHost{
		UserID:     user.ID,
		Name:       body.Name,
		Hostname:   body.Hostname,
		IP:         body.IP,
		Port:       body.Port,
		Username:   body.Username,
		Password:   encPassword,
		PrivateKey: body.PrivateKey,
		Passphrase: encPassphrase,
		Color:      body.Color,
	}
	if err := database.DB.Create(host).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save host")
		return
	}
	writeJSON(w, http.StatusCreated, savedHostResponse(host))
}

func DeleteSavedHost(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid host ID")
		return
	}

	var host database.SavedHost
	if err := database.DB.First(&host, id).Error; err != nil || host.UserID != user.ID {
		writeError(w, http.StatusNotFound, "Saved host not found")
		return
	}

	// Unlink any shell resources still pointing at this record; their next
	// connect falls back to prompting for credentials.
	if err := database.DB.Model(&database.ShellResource{}).
		Where("saved_host_id = ?", host.ID).
		Update("saved_host_id", nil).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to unlink sessions")
		return
	}

	if err := database.DB.Delete(&host).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete host")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
