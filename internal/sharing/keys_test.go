package sharing

import (
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coshell/coshell/internal/database"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(db), db
}

func createShell(t *testing.T, db *gorm.DB, ownerID uint) *database.ShellResource {
	t.Helper()
	res := &database.ShellResource{
		ResourceBase: database.ResourceBase{Name: "build box", OwnerID: ownerID},
		Hostname:     "build.internal",
		Port:         22,
	}
	if err := db.Create(res).Error; err != nil {
		t.Fatalf("create shell resource: %v", err)
	}
	return res
}

func createUser(t *testing.T, db *gorm.DB, username string, shellOK, docsOK bool) *database.User {
	t.Helper()
	u := &database.User{
		Username:        username,
		PasswordHash:    "x",
		Role:            "user",
		CanUseShell:     shellOK,
		CanUseDocuments: docsOK,
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestEnableGeneratesStableKey(t *testing.T) {
	svc, db := newTestService(t)
	res := createShell(t, db, 1)

	key, err := svc.Enable(KindShell, res.ID)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if len(key) != 128 {
		t.Errorf("key length = %d, want 128 hex chars", len(key))
	}

	again, err := svc.Enable(KindShell, res.ID)
	if err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if again != key {
		t.Error("re-enabling rotated the key; existing links would break")
	}
}

func TestDisableRevokesKey(t *testing.T) {
	svc, db := newTestService(t)
	res := createShell(t, db, 1)
	user := createUser(t, db, "alice", true, true)

	key, err := svc.Enable(KindShell, res.ID)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if err := svc.Disable(KindShell, res.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if _, _, err := svc.JoinByKey(user, key); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("join after revoke: err = %v, want ErrKeyNotFound", err)
	}

	var reloaded database.ShellResource
	if err := db.First(&reloaded, res.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Shared || reloaded.ShareKey != nil {
		t.Errorf("resource still shared after disable: shared=%v key=%v", reloaded.Shared, reloaded.ShareKey)
	}
}

func TestJoinByKeyCreatesMembershipOnce(t *testing.T) {
	svc, db := newTestService(t)
	res := createShell(t, db, 1)
	user := createUser(t, db, "bob", true, true)

	key, err := svc.Enable(KindShell, res.ID)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}

	first, created, err := svc.JoinByKey(user, key)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if !created {
		t.Error("first join reported created=false")
	}
	if first.ResourceID != res.ID || first.ResourceKind != KindShell {
		t.Errorf("membership = %+v", first)
	}
	if first.Name != "build box" {
		t.Errorf("membership name = %q, want resource name", first.Name)
	}

	second, created, err := svc.JoinByKey(user, key)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if created {
		t.Error("rejoin reported created=true")
	}
	if second.ID != first.ID {
		t.Error("rejoin created a second membership")
	}
}

// The link alone identifies the resource: a document key must resolve to a
// document membership with no kind hint from the caller.
func TestJoinByKeyResolvesKindFromKey(t *testing.T) {
	svc, db := newTestService(t)
	doc := &database.DocumentResource{
		ResourceBase: database.ResourceBase{Name: "meeting notes", OwnerID: 1},
	}
	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("create document resource: %v", err)
	}
	user := createUser(t, db, "erin", true, true)

	key, err := svc.Enable(KindDocument, doc.ID)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}

	m, _, err := svc.JoinByKey(user, key)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if m.ResourceKind != KindDocument || m.ResourceID != doc.ID {
		t.Errorf("membership = %+v, want document %d", m, doc.ID)
	}
}

func TestJoinByKeyChecksCapability(t *testing.T) {
	svc, db := newTestService(t)
	res := createShell(t, db, 1)
	user := createUser(t, db, "carol", false, true)

	key, err := svc.Enable(KindShell, res.ID)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, _, err := svc.JoinByKey(user, key); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestJoinByKeyUnknownKey(t *testing.T) {
	svc, db := newTestService(t)
	user := createUser(t, db, "dave", true, true)

	if _, _, err := svc.JoinByKey(user, "deadbeef"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("err = %v, want ErrKeyNotFound", err)
	}
	if _, _, err := svc.JoinByKey(user, ""); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("empty key: err = %v, want ErrKeyNotFound", err)
	}

	// The key is resolved before the capability check, so a user who may
	// join nothing still learns only that the link is dead.
	none := createUser(t, db, "frank", false, false)
	if _, _, err := svc.JoinByKey(none, "deadbeef"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("no-capability unknown key: err = %v, want ErrKeyNotFound", err)
	}
}
