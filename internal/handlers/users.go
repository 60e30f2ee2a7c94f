package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coshell/coshell/internal/auth"
	"github.com/coshell/coshell/internal/database"
	"github.com/coshell/coshell/internal/middleware"
)

func ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := database.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	result := make([]map[string]interface{}, 0, len(users))
	for i := range users {
		result = append(result, userResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func CreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username        string `json:"username"`
		Password        string `json:"password"`
		Role            string `json:"role"`
		CanUseShell     *bool  `json:"can_use_shell"`
		CanUseDocuments *bool  `json:"can_use_documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	if body.Role == "" {
		body.Role = "user"
	}
	if body.Role != "admin" && body.Role != "user" {
		writeError(w, http.StatusBadRequest, "Role must be 'admin' or 'user'")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user := &database.User{
		Username:        body.Username,
		PasswordHash:    hash,
		Role:            body.Role,
		CanUseShell:     body.CanUseShell == nil || *body.CanUseShell,
		CanUseDocuments: body.CanUseDocuments == nil || *body.CanUseDocuments,
	}
	if err := database.CreateUser(user); err != nil {
		writeError(w, http.StatusConflict, "Username already exists")
		return
	}

	writeJSON(w, http.StatusCreated, userResponse(user))
}

func DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	currentUser := middleware.GetUser(r)
	if currentUser != nil && currentUser.ID == uint(id) {
		writeError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	if err := database.DeleteUser(uint(id)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	// Invalidate all sessions for the deleted user
	SessionStore.DeleteByUserID(uint(id))

	w.WriteHeader(http.StatusNoContent)
}

func UpdateUserCapabilities(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var body struct {
		Role            *string `json:"role"`
		CanUseShell     *bool   `json:"can_use_shell"`
		CanUseDocuments *bool   `json:"can_use_documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updates := map[string]interface{}{}
	if body.Role != nil {
		if *body.Role != "admin" && *body.Role != "user" {
			writeError(w, http.StatusBadRequest, "Role must be 'admin' or 'user'")
			return
		}
		currentUser := middleware.GetUser(r)
		if currentUser != nil && currentUser.ID == uint(id) && *body.Role != "admin" {
			writeError(w, http.StatusBadRequest, "Cannot demote your own account")
			return
		}
		updates["role"] = *body.Role
	}
	if body.CanUseShell != nil {
		updates["can_use_shell"] = *body.CanUseShell
	}
	if body.CanUseDocuments != nil {
		updates["can_use_documents"] = *body.CanUseDocuments
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	if err := database.DB.Model(&database.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ResetUserPassword(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if body.Password == "" {
		writeError(w, http.StatusBadRequest, "Password is required")
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	if err := database.UpdateUserPassword(uint(id), hash); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update password")
		return
	}

	// Invalidate all sessions for this user
	SessionStore.DeleteByUserID(uint(id))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
