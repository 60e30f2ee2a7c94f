package relay

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/coshell/coshell/internal/credcache"
	"github.com/coshell/coshell/internal/crypto"
	"github.com/coshell/coshell/internal/database"
)

// Target is the resolved connection target for a shell resource. Saved is
// non-nil when the resource links a saved credential record; its secrets
// arrive already decrypted.
type Target struct {
	Host  string
	Port  int
	Saved *credcache.Credentials
}

// Store is the persistence surface the relay needs. The production
// implementation is gorm-backed; tests substitute a fake.
type Store interface {
	// Membership resolves a session id to its resource. Returns ErrNotFound
	// for unknown ids.
	Membership(id uint) (Kind, uint, error)

	// ShellTarget loads host, port and any saved credentials for a shell
	// resource.
	ShellTarget(resourceID uint) (Target, error)

	// AppendShellContent appends a flushed output chunk to the resource's
	// persisted transcript.
	AppendShellContent(resourceID uint, chunk []byte) error

	// ShellContent returns the full persisted transcript.
	ShellContent(resourceID uint) (string, error)

	// DocumentDelta returns the persisted document state, or JSON null when
	// the document has no content yet.
	DocumentDelta(resourceID uint) (json.RawMessage, error)

	// SetDocumentDelta replaces the persisted document state.
	SetDocumentDelta(resourceID uint, delta json.RawMessage) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore wraps a gorm handle in the relay's Store interface.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Membership(id uint) (Kind, uint, error) {
	var m database.SessionMembership
	if err := s.db.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", 0, ErrNotFound
		}
		return "", 0, fmt.Errorf("load membership %d: %w", id, err)
	}
	switch Kind(m.ResourceKind) {
	case KindShell:
		return KindShell, m.ResourceID, nil
	case KindDocument:
		return KindDocument, m.ResourceID, nil
	default:
		return "", 0, fmt.Errorf("membership %d: unknown resource kind %q", id, m.ResourceKind)
	}
}

func (s *gormStore) ShellTarget(resourceID uint) (Target, error) {
	var res database.ShellResource
	if err := s.db.First(&res, resourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Target{}, ErrNotFound
		}
		return Target{}, fmt.Errorf("load shell resource %d: %w", resourceID, err)
	}

	t := Target{Host: res.Hostname, Port: res.Port}
	if t.Host == "" {
		t.Host = res.IP
	}

	if res.SavedHostID != nil {
		var saved database.SavedHost
		if err := s.db.First(&saved, *res.SavedHostID).Error; err != nil {
			return Target{}, fmt.Errorf("load saved host %d: %w", *res.SavedHostID, err)
		}
		// The saved record is authoritative for the endpoint when linked.
		if saved.Hostname != "" {
			t.Host = saved.Hostname
		}
		if saved.Port != 0 {
			t.Port = saved.Port
		}
		password, err := crypto.Decrypt(saved.Password)
		if err != nil {
			return Target{}, fmt.Errorf("decrypt saved host password: %w", err)
		}
		passphrase, err := crypto.Decrypt(saved.Passphrase)
		if err != nil {
			return Target{}, fmt.Errorf("decrypt saved host passphrase: %w", err)
		}
		t.Saved = &credcache.Credentials{
			Username:   saved.Username,
			Password:   password,
			PrivateKey: saved.PrivateKey,
			Passphrase: passphrase,
		}
	}
	return t, nil
}

func (s *gormStore) AppendShellContent(resourceID uint, chunk []byte) error {
	result := s.db.Model(&database.ShellResource{}).
		Where("id = ?", resourceID).
		Update("content", gorm.Expr("content || ?", string(chunk)))
	if result.Error != nil {
		return fmt.Errorf("append shell content %d: %w", resourceID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) ShellContent(resourceID uint) (string, error) {
	var res database.ShellResource
	if err := s.db.Select("content").First(&res, resourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("load shell content %d: %w", resourceID, err)
	}
	return res.Content, nil
}

func (s *gormStore) DocumentDelta(resourceID uint) (json.RawMessage, error) {
	var res database.DocumentResource
	if err := s.db.Select("content").First(&res, resourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load document %d: %w", resourceID, err)
	}
	if res.Content == "" {
		return json.RawMessage("null"), nil
	}
	return json.RawMessage(res.Content), nil
}

func (s *gormStore) SetDocumentDelta(resourceID uint, delta json.RawMessage) error {
	result := s.db.Model(&database.DocumentResource{}).
		Where("id = ?", resourceID).
		Update("content", string(delta))
	if result.Error != nil {
		return fmt.Errorf("update document %d: %w", resourceID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
