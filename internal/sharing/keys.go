// Package sharing manages join-by-link access to resources: enabling a
// share key, revoking it, and turning a presented key into a membership.
package sharing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/coshell/coshell/internal/database"
)

var (
	// ErrKeyNotFound is returned when a presented key matches no shared
	// resource. Callers must not distinguish revoked from never-existed.
	ErrKeyNotFound = errors.New("share key not found")

	// ErrPermissionDenied is returned when the joining user lacks the
	// capability for the resource kind.
	ErrPermissionDenied = errors.New("permission denied for resource kind")
)

const (
	KindShell    = "shell"
	KindDocument = "document"
)

// Service implements share-key lifecycle over the database.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service {
	return &Service{db: db}
}

// newShareKey returns a 128-character hex token.
func newShareKey() (string, error) {
	raw := make([]byte, 64)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate share key: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Enable turns on sharing for a resource and returns its key. Enabling an
// already-shared resource returns the existing key unchanged, so shared
// links stay valid.
func (s *Service) Enable(kind string, resourceID uint) (string, error) {
	base, model, err := s.loadBase(kind, resourceID)
	if err != nil {
		return "", err
	}
	if base.Shared && base.ShareKey != nil {
		return *base.ShareKey, nil
	}

	key, err := newShareKey()
	if err != nil {
		return "", err
	}
	updates := map[string]any{"shared": true, "share_key": key}
	if err := s.db.Model(model).Where("id = ?", resourceID).Updates(updates).Error; err != nil {
		return "", fmt.Errorf("enable sharing for %s %d: %w", kind, resourceID, err)
	}
	return key, nil
}

// Disable turns off sharing and drops the key. Existing memberships are
// unaffected; only new joins by link stop working.
func (s *Service) Disable(kind string, resourceID uint) error {
	_, model, err := s.loadBase(kind, resourceID)
	if err != nil {
		return err
	}
	updates := map[string]any{"shared": false, "share_key": nil}
	if err := s.db.Model(model).Where("id = ?", resourceID).Updates(updates).Error; err != nil {
		return fmt.Errorf("disable sharing for %s %d: %w", kind, resourceID, err)
	}
	return nil
}

// JoinByKey resolves a presented share key to a membership for the user,
// creating one if this is their first join. A share link carries only the
// key, so the resource kind is discovered from the match and the user's
// capability is checked against it afterwards: an unknown key is not-found
// regardless of what the user may join. Joining twice is idempotent and
// reported through the created flag.
func (s *Service) JoinByKey(user *database.User, key string) (*database.SessionMembership, bool, error) {
	if key == "" {
		return nil, false, ErrKeyNotFound
	}

	kind, resourceID, name, err := s.findByKey(key)
	if err != nil {
		return nil, false, err
	}
	if !s.allowed(user, kind) {
		return nil, false, ErrPermissionDenied
	}

	membership := database.SessionMembership{
		UserID:       user.ID,
		ResourceKind: kind,
		ResourceID:   resourceID,
	}
	result := s.db.
		Where(database.SessionMembership{UserID: user.ID, ResourceKind: kind, ResourceID: resourceID}).
		Attrs(database.SessionMembership{Name: name}).
		FirstOrCreate(&membership)
	if result.Error != nil {
		return nil, false, fmt.Errorf("join %s %d: %w", kind, resourceID, result.Error)
	}
	return &membership, result.RowsAffected > 0, nil
}

func (s *Service) allowed(user *database.User, kind string) bool {
	switch kind {
	case KindShell:
		return user.CanUseShell
	case KindDocument:
		return user.CanUseDocuments
	default:
		return false
	}
}

func (s *Service) loadBase(kind string, resourceID uint) (database.ResourceBase, any, error) {
	switch kind {
	case KindShell:
		var res database.ShellResource
		if err := s.db.First(&res, resourceID).Error; err != nil {
			return database.ResourceBase{}, nil, fmt.Errorf("load shell %d: %w", resourceID, err)
		}
		return res.ResourceBase, &database.ShellResource{}, nil
	case KindDocument:
		var res database.DocumentResource
		if err := s.db.First(&res, resourceID).Error; err != nil {
			return database.ResourceBase{}, nil, fmt.Errorf("load document %d: %w", resourceID, err)
		}
		return res.ResourceBase, &database.DocumentResource{}, nil
	default:
		return database.ResourceBase{}, nil, fmt.Errorf("unknown resource kind %q", kind)
	}
}

// findByKey scans both resource kinds for an active share key.
func (s *Service) findByKey(key string) (string, uint, string, error) {
	var shell database.ShellResource
	err := s.db.Where("share_key = ? AND shared = ?", key, true).First(&shell).Error
	if err == nil {
		return KindShell, shell.ID, shell.Name, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, "", fmt.Errorf("lookup shell share key: %w", err)
	}

	var doc database.DocumentResource
	err = s.db.Where("share_key = ? AND shared = ?", key, true).First(&doc).Error
	if err == nil {
		return KindDocument, doc.ID, doc.Name, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, "", fmt.Errorf("lookup document share key: %w", err)
	}
	return "", 0, "", ErrKeyNotFound
}
