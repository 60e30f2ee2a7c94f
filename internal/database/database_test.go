package database

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB points the package at an in-memory SQLite database.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	prev := DB
	DB = db
	t.Cleanup(func() { DB = prev })
}

func TestSettingsRoundTrip(t *testing.T) {
	setupTestDB(t)

	if _, err := GetSetting("missing"); err == nil {
		t.Error("expected error for missing setting")
	}

	if err := SetSetting("fernet_key", "abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetSetting("fernet_key", "def"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	v, err := GetSetting("fernet_key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "def" {
		t.Errorf("value = %q, want def", v)
	}
}

func TestUserHelpers(t *testing.T) {
	setupTestDB(t)

	u := &User{Username: "alice", PasswordHash: "h", Role: "admin", CanUseShell: true, CanUseDocuments: true}
	if err := CreateUser(u); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &User{Username: "alice", PasswordHash: "h2", Role: "user"}
	if err := CreateUser(dup); err == nil {
		t.Error("duplicate username allowed")
	}

	got, err := GetUserByUsername("alice")
	if err != nil || got.ID != u.ID {
		t.Fatalf("lookup: %v", err)
	}

	admin, err := GetFirstAdmin()
	if err != nil || admin.Username != "alice" {
		t.Errorf("first admin = %v, %v", admin, err)
	}

	count, err := UserCount()
	if err != nil || count != 1 {
		t.Errorf("count = %d, %v", count, err)
	}
}

// Capability flags must survive the insert as written. A gorm column default
// on a bool would swallow explicit false values, so a restricted user could
// never be created.
func TestCreateUserPersistsDisabledCapabilities(t *testing.T) {
	setupTestDB(t)

	u := &User{Username: "restricted", PasswordHash: "h", Role: "user", CanUseShell: false, CanUseDocuments: true}
	if err := CreateUser(u); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := GetUserByID(u.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.CanUseShell {
		t.Error("CanUseShell = true after creating a user with it disabled")
	}
	if !got.CanUseDocuments {
		t.Error("CanUseDocuments lost on create")
	}
}

func TestDeleteUserRemovesMemberships(t *testing.T) {
	setupTestDB(t)

	u := &User{Username: "bob", PasswordHash: "h", Role: "user"}
	if err := CreateUser(u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	m := &SessionMembership{UserID: u.ID, ResourceKind: "shell", ResourceID: 1, Name: "s"}
	if err := DB.Create(m).Error; err != nil {
		t.Fatalf("create membership: %v", err)
	}

	if err := DeleteUser(u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetMembership(m.ID); err == nil {
		t.Error("membership survived user deletion")
	}
}

func TestMembershipUniquePerResource(t *testing.T) {
	setupTestDB(t)

	m := &SessionMembership{UserID: 1, ResourceKind: "shell", ResourceID: 5, Name: "a"}
	if err := DB.Create(m).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &SessionMembership{UserID: 1, ResourceKind: "shell", ResourceID: 5, Name: "b"}
	if err := DB.Create(dup).Error; err == nil {
		t.Error("duplicate membership for the same user and resource allowed")
	}
	// Same resource id under a different kind is a distinct resource.
	other := &SessionMembership{UserID: 1, ResourceKind: "document", ResourceID: 5, Name: "c"}
	if err := DB.Create(other).Error; err != nil {
		t.Errorf("cross-kind membership rejected: %v", err)
	}
}

func TestMembershipHelpers(t *testing.T) {
	setupTestDB(t)

	for _, m := range []SessionMembership{
		{UserID: 1, ResourceKind: "shell", ResourceID: 5, Name: "a"},
		{UserID: 2, ResourceKind: "shell", ResourceID: 5, Name: "b"},
		{UserID: 1, ResourceKind: "document", ResourceID: 9, Name: "c"},
	} {
		m := m
		if err := DB.Create(&m).Error; err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	mine, err := ListMemberships(1)
	if err != nil || len(mine) != 2 {
		t.Errorf("ListMemberships = %d, %v; want 2", len(mine), err)
	}

	count, err := MembershipCount("shell", 5)
	if err != nil || count != 2 {
		t.Errorf("MembershipCount = %d, %v; want 2", count, err)
	}

	if err := DeleteResourceMemberships("shell", 5); err != nil {
		t.Fatalf("delete resource memberships: %v", err)
	}
	count, _ = MembershipCount("shell", 5)
	if count != 0 {
		t.Errorf("memberships remain after resource close: %d", count)
	}
}

func TestShellResourceContentDefault(t *testing.T) {
	setupTestDB(t)

	res := &ShellResource{
		ResourceBase: ResourceBase{Name: "s", OwnerID: 1},
		Hostname:     "h",
		Port:         22,
	}
	if err := DB.Create(res).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	var got ShellResource
	if err := DB.First(&got, res.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Content != "" {
		t.Errorf("content = %q, want empty", got.Content)
	}
	if got.ShareKey != nil || got.Shared {
		t.Error("new resource must not be shared")
	}
}
