package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coshell/coshell/internal/credcache"
	"github.com/coshell/coshell/internal/crypto"
	"github.com/coshell/coshell/internal/database"
	"github.com/coshell/coshell/internal/middleware"
	"github.com/coshell/coshell/internal/relay"
	"github.com/coshell/coshell/internal/sharing"
)

// Reg, Creds and Share are set from main.go during init.
var (
	Reg   *relay.Registry
	Creds *credcache.Cache
	Share *sharing.Service
)

func membershipResponse(m *database.SessionMembership) map[string]interface{} {
	return map[string]interface{}{
		"id":            m.ID,
		"resource_kind": m.ResourceKind,
		"resource_id":   m.ResourceID,
		"name":          m.Name,
		"color":         m.Color,
		"created_at":    m.CreatedAt,
	}
}

// loadOwnMembership resolves the {id} URL parameter to a membership owned by
// the requesting user.
func loadOwnMembership(w http.ResponseWriter, r *http.Request) *database.SessionMembership {
	user := middleware.GetUser(r)
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session ID")
		return nil
	}
	m, err := database.GetMembership(uint(id))
	if err != nil || m.UserID != user.ID {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil
	}
	return m
}

// resourceOwner reports whether the user owns the membership's resource.
func resourceOwner(m *database.SessionMembership, userID uint) (bool, error) {
	switch m.ResourceKind {
	case sharing.KindShell:
		var res database.ShellResource
		if err := database.DB.First(&res, m.ResourceID).Error; err != nil {
			return false, err
		}
		return res.OwnerID == userID, nil
	case sharing.KindDocument:
		var res database.DocumentResource
		if err := database.DB.First(&res, m.ResourceID).Error; err != nil {
			return false, err
		}
		return res.OwnerID == userID, nil
	default:
		return false, fmt.Errorf("unknown resource kind %q", m.ResourceKind)
	}
}

func CreateShellSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if !user.CanUseShell {
		writeError(w, http.StatusForbidden, "Shell sessions are not enabled for this account")
		return
	}

	var body struct {
		Name        string `json:"name"`
		Hostname    string `json:"hostname"`
		IP          string `json:"ip"`
		Port        int    `json:"port"`
		SavedHostID *uint  `json:"saved_host_id"`
		Username    string `json:"username"`
		Password    string `json:"password"`
		PrivateKey  string `json:"private_key"`
		Passphrase  string `json:"passphrase"`
		SaveHost    bool   `json:"save_host"`
		Color       string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Hostname == "" && body.IP == "" && body.SavedHostID == nil {
		writeError(w, http.StatusBadRequest, "A hostname, IP or saved host is required")
		return
	}
	if body.Port == 0 {
		body.Port = 22
	}
	if body.Name == "" {
		body.Name = "Session"
	}

	savedHostID := body.SavedHostID
	if savedHostID != nil {
		var saved database.SavedHost
		if err := database.DB.First(&saved, *savedHostID).Error; err != nil || saved.UserID != user.ID {
			writeError(w, http.StatusNotFound, "Saved host not found")
			return
		}
	} else if body.SaveHost {
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
		saved := &database.SavedHost{
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
		if err := database.DB.Create(saved).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save host")
			return
		}
		savedHostID = &saved.ID
	}

	res := &database.ShellResource{
		ResourceBase: database.ResourceBase{
			Name:    body.Name,
			OwnerID: user.ID,
			Locked:  true,
		},
		Hostname:    body.Hostname,
		IP:          body.IP,
		Port:        body.Port,
		SavedHostID: savedHostID,
	}
	if err := database.DB.Create(res).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	// Form credentials are held briefly so the first attach can connect
	// without re-prompting.
	form := credcache.Credentials{
		Username:   body.Username,
		Password:   body.Password,
		PrivateKey: body.PrivateKey,
		Passphrase: body.Passphrase,
	}
	if !form.IsEmpty() {
		Creds.Set(res.ID, form)
	}

	membership := &database.SessionMembership{
		UserID:       user.ID,
		ResourceKind: sharing.KindShell,
		ResourceID:   res.ID,
		Name:         body.Name,
		Color:        body.Color,
	}
	if err := database.DB.Create(membership).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	database.AddResourceLog(sharing.KindShell, res.ID, fmt.Sprintf("created by %s", user.Username))
	writeJSON(w, http.StatusCreated, membershipResponse(membership))
}

func CreateDocumentSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	if !user.CanUseDocuments {
		writeError(w, http.StatusForbidden, "Document sessions are not enabled for this account")
		return
	}

	var body struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Name == "" {
		body.Name = "Document"
	}

	res := &database.DocumentResource{
		ResourceBase: database.ResourceBase{
			Name:    body.Name,
			OwnerID: user.ID,
			Locked:  true,
		},
	}
	if err := database.DB.Create(res).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create document")
		return
	}

	membership := &database.SessionMembership{
		UserID:       user.ID,
		ResourceKind: sharing.KindDocument,
		ResourceID:   res.ID,
		Name:         body.Name,
		Color:        body.Color,
	}
	if err := database.DB.Create(membership).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create document")
		return
	}

	database.AddResourceLog(sharing.KindDocument, res.ID, fmt.Sprintf("created by %s", user.Username))
	writeJSON(w, http.StatusCreated, membershipResponse(membership))
}

func ListSessions(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	memberships, err := database.ListMemberships(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	result := make([]map[string]interface{}, 0, len(memberships))
	for i := range memberships {
		m := &memberships[i]
		entry := membershipResponse(m)
		if owner, err := resourceOwner(m, user.ID); err == nil {
			entry["owner"] = owner
		}
		result = append(result, entry)
	}
	writeJSON(w, http.StatusOK, result)
}

func RenameSession(w http.ResponseWriter, r *http.Request) {
	m := loadOwnMembership(w, r)
	if m == nil {
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "A name is required")
		return
	}

	if err := database.DB.Model(m).Update("name", body.Name).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to rename session")
		return
	}
	m.Name = body.Name
	writeJSON(w, http.StatusOK, membershipResponse(m))
}

// CloseSession removes the caller's membership. When the caller owns the
// resource, the resource itself is closed: the shared channel is torn down
// and every membership is removed.
func CloseSession(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	m := loadOwnMembership(w, r)
	if m == nil {
		return
	}

	owner, err := resourceOwner(m, user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Database error")
		return
	}

	if !owner {
		if err := database.DB.Delete(m).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to leave session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
		return
	}

	switch m.ResourceKind {
	case sharing.KindShell:
		Reg.CloseShell(m.ResourceID)
		if err := database.DB.Delete(&database.ShellResource{}, m.ResourceID).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to close session")
			return
		}
	case sharing.KindDocument:
		Reg.CloseDocument(m.ResourceID)
		if err := database.DB.Delete(&database.DocumentResource{}, m.ResourceID).Error; err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to close session")
			return
		}
	}

	if err := database.DeleteResourceMemberships(m.ResourceKind, m.ResourceID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to close session")
		return
	}
	database.AddResourceLog(m.ResourceKind, m.ResourceID, fmt.Sprintf("closed by %s", user.Username))
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func EnableSharing(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	m := loadOwnMembership(w, r)
	if m == nil {
		return
	}
	owner, err := resourceOwner(m, user.ID)
	if err != nil || !owner {
		writeError(w, http.StatusForbidden, "Only the owner can share a session")
		return
	}

	key, err := Share.Enable(m.ResourceKind, m.ResourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enable sharing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"share_key": key})
}

func DisableSharing(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)
	m := loadOwnMembership(w, r)
	if m == nil {
		return
	}
	owner, err := resourceOwner(m, user.ID)
	if err != nil || !owner {
		writeError(w, http.StatusForbidden, "Only the owner can share a session")
		return
	}

	if err := Share.Disable(m.ResourceKind, m.ResourceID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to disable sharing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JoinByKey turns a bare share link into a membership. The link carries only
// the key; the resource kind comes from the match.
func JoinByKey(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r)

	var body struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	membership, created, err := Share.JoinByKey(user, body.Key)
	switch {
	case err == nil:
	case err == sharing.ErrPermissionDenied:
		writeError(w, http.StatusForbidden, "This session type is not enabled for your account")
		return
	case err == sharing.ErrKeyNotFound:
		writeError(w, http.StatusNotFound, "Invalid or revoked share link")
		return
	default:
		writeError(w, http.StatusInternalServerError, "Failed to join session")
		return
	}

	if created {
		database.AddResourceLog(membership.ResourceKind, membership.ResourceID, fmt.Sprintf("%s joined by link", user.Username))
	}
	entry := membershipResponse(membership)
	entry["created"] = created
	writeJSON(w, http.StatusOK, entry)
}
