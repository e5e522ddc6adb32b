package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tablevault/core"
	"tablevault/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AdminSeed is one administrator account in the seed file. Either Password
// or PasswordHash may be set; when both are empty a password is generated
// and printed once.
type AdminSeed struct {
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

// SeedFile is the layout of the admin seed YAML.
type SeedFile struct {
	Admins []AdminSeed `yaml:"admins"`
}

// SeedUserStore is what seeding needs from the primary store.
type SeedUserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
	CreateUser(ctx context.Context, u *core.User) error
}

// SeedBackup receives a copy of every created admin.
type SeedBackup interface {
	Save(ctx context.Context, collection, id string, doc interface{}) error
}

// LoadSeedFile reads and validates an admin seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seeds SeedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}

	for i, a := range seeds.Admins {
		if storage.NormalizeEmail(a.Email) == "" || !strings.Contains(a.Email, "@") {
			return nil, fmt.Errorf("seed admin %d: invalid email %q", i, a.Email)
		}
		if a.Password != "" && a.PasswordHash != "" {
			return nil, fmt.Errorf("seed admin %s: set password or password_hash, not both", a.Email)
		}
	}
	return &seeds, nil
}

// SeedAdmins creates the administrators listed in seeds. Accounts whose
// email already exists are left untouched. It returns how many were created.
func SeedAdmins(ctx context.Context, users SeedUserStore, backup SeedBackup, seeds *SeedFile, cost int, sugar *zap.SugaredLogger) (int, error) {
	if seeds == nil {
		return 0, nil
	}

	created := 0
	for _, a := range seeds.Admins {
		email := storage.NormalizeEmail(a.Email)

		_, err := users.GetUserByEmail(ctx, email)
		if err == nil {
			sugar.Infow("Admin already exists, skipping", "email", email)
			continue
		}
		if !errors.Is(err, core.ErrUserNotFound) {
			return created, fmt.Errorf("failed to look up %s: %w", email, err)
		}

		hash := a.PasswordHash
		if hash == "" {
			password := a.Password
			if password == "" {
				password, err = GenerateSecurePassword(24)
				if err != nil {
					return created, err
				}
				fmt.Printf("Generated password for %s: %s\n", email, password)
				fmt.Println("Store it now; it will not be shown again.")
			}
			raw, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return created, fmt.Errorf("failed to hash password for %s: %w", email, err)
			}
			hash = string(raw)
		}

		u := &core.User{
			ID:           uuid.NewString(),
			Email:        email,
			Name:         a.Name,
			PasswordHash: hash,
			IsAdmin:      true,
			CreatedAt:    time.Now().UTC(),
		}
		if err := users.CreateUser(ctx, u); err != nil {
			return created, fmt.Errorf("failed to create admin %s: %w", email, err)
		}
		if backup != nil {
			if err := backup.Save(ctx, storage.CollectionUsers, u.ID, u); err != nil {
				sugar.Warnw("Failed to back up seeded admin", "email", email, "error", err)
			}
		}
		created++
		sugar.Infow("Admin created", "email", email, "id", u.ID)
	}
	return created, nil
}
