package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/coshell/coshell/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := Migrate(DB); err != nil {
		return err
	}

	return nil
}

// Migrate runs the schema migration on the given database handle.
// Split out from Init so tests can migrate an in-memory database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&User{}, &SavedHost{},
		&ShellResource{}, &DocumentResource{},
		&SessionMembership{}, &ResourceLog{}, &Setting{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

// User helpers

func GetUserByUsername(username string) (*User, error) {
	var u User
	if err := DB.Where("username = ?", username).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func GetUserByID(id uint) (*User, error) {
	var u User
	if err := DB.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func CreateUser(user *User) error {
	return DB.Create(user).Error
}

func UpdateUserPassword(id uint, hash string) error {
	return DB.Model(&User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

func ListUsers() ([]User, error) {
	var users []User
	if err := DB.Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func DeleteUser(id uint) error {
	if err := DB.Where("user_id = ?", id).Delete(&SessionMembership{}).Error; err != nil {
		return err
	}
	return DB.Delete(&User{}, id).Error
}

func UserCount() (int64, error) {
	var count int64
	err := DB.Model(&User{}).Count(&count).Error
	return count, err
}

func GetFirstAdmin() (*User, error) {
	var u User
	if err := DB.Where("role = ?", "admin").Order("id").First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Membership helpers

func GetMembership(id uint) (*SessionMembership, error) {
	var m SessionMembership
	if err := DB.First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func ListMemberships(userID uint) ([]SessionMembership, error) {
	var ms []SessionMembership
	if err := DB.Where("user_id = ?", userID).Order("id").Find(&ms).Error; err != nil {
		return nil, err
	}
	return ms, nil
}

// MembershipCount returns how many users have joined a resource.
func MembershipCount(kind string, resourceID uint) (int64, error) {
	var count int64
	err := DB.Model(&SessionMembership{}).
		Where("resource_kind = ? AND resource_id = ?", kind, resourceID).
		Count(&count).Error
	return count, err
}

// DeleteResourceMemberships removes all memberships referencing a resource.
// Used when the resource itself is closed.
func DeleteResourceMemberships(kind string, resourceID uint) error {
	return DB.Where("resource_kind = ? AND resource_id = ?", kind, resourceID).
		Delete(&SessionMembership{}).Error
}

// AddResourceLog appends an audit line for a resource.
func AddResourceLog(kind string, resourceID uint, text string) error {
	return DB.Create(&ResourceLog{
		ResourceKind: kind,
		ResourceID:   resourceID,
		Text:         text,
	}).Error
}

// ListRecentResourceLogs returns the newest audit lines across all
// resources, newest first.
func ListRecentResourceLogs(limit int) ([]ResourceLog, error) {
	var logs []ResourceLog
	if err := DB.Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
