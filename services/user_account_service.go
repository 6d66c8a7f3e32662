package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"user-management-api/config"
	"user-management-api/models"
	"user-management-api/utils"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserAccountService is the per-row user creation primitive. Lookup is by
// exact email; an existing user gets name/role updated in place (email is
// immutable here), a missing one is created.
type UserAccountService struct {
	db        *gorm.DB
	avatarDir string
	client    *http.Client

	// sendMail is swappable in tests; defaults to config.SendMail.
	sendMail func(to []string, subject, html string) error
}

func NewUserAccountService(db *gorm.DB) *UserAccountService {
	if db == nil {
		db = config.DB
	}
	return &UserAccountService{
		db:        db,
		avatarDir: filepath.Join("uploads", "avatars"),
		client:    &http.Client{Timeout: 30 * time.Second},
		sendMail:  config.SendMail,
	}
}

func (s *UserAccountService) CreateOrUpdate(ctx context.Context, input *AccountInput) (bool, error) {
	if input == nil {
		return false, errors.New("input is nil")
	}

	var existing models.User
	err := s.db.WithContext(ctx).
		Where("email = ? AND delete_at IS NULL", input.Email).
		First(&existing).Error
	switch {
	case err == nil:
		if err := s.update(ctx, &existing, input); err != nil {
			return false, err
		}
		return false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := s.create(ctx, input); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("lookup user %s: %w", input.Email, err)
	}
}

func (s *UserAccountService) update(ctx context.Context, user *models.User, input *AccountInput) error {
	updates := map[string]interface{}{
		"full_name": input.FullName,
		"role":      input.Role,
		"update_at": time.Now(),
	}
	// An existing user keeps their password unless the row supplies one.
	if input.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", input.Email, err)
		}
		updates["password"] = string(hashed)
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("user_id = ?", user.UserID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("update user %s: %w", input.Email, err)
	}

	if input.AvatarURL != "" {
		go s.resolveAvatar(user.UserID, input.AvatarURL)
	}
	return nil
}

func (s *UserAccountService) create(ctx context.Context, input *AccountInput) error {
	password := input.Password
	generated := false
	if password == "" {
		var err error
		password, err = utils.GenerateRandomPassword()
		if err != nil {
			return fmt.Errorf("generate password for %s: %w", input.Email, err)
		}
		generated = true
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", input.Email, err)
	}

	now := time.Now()
	user := models.User{
		FullName: input.FullName,
		Email:    input.Email,
		Role:     input.Role,
		Password: string(hashed),
		CreateAt: &now,
		UpdateAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return fmt.Errorf("create user %s: %w", input.Email, err)
	}

	if generated {
		// Send-once credential: handed to the welcome mail and discarded,
		// never persisted in clear or logged.
		go s.sendWelcome(input.FullName, input.Email, password)
	}
	if input.AvatarURL != "" {
		go s.resolveAvatar(user.UserID, input.AvatarURL)
	}
	return nil
}

func (s *UserAccountService) sendWelcome(name, email, password string) {
	subject := "Your account has been created"
	html := fmt.Sprintf(
		"<p>Hello %s,</p><p>An account has been created for you. Sign in with <b>%s</b> and the temporary password <b>%s</b>, then change it.</p>",
		name, email, password,
	)
	if err := s.sendMail([]string{email}, subject, html); err != nil {
		log.Printf("failed to send welcome email to %s: %v", email, err)
	}
}

// resolveAvatar downloads the avatar in the background. Failures are logged
// only; they never affect the row outcome.
func (s *UserAccountService) resolveAvatar(userID uint, rawURL string) {
	resp, err := s.client.Get(rawURL)
	if err != nil {
		log.Printf("failed to fetch avatar for user %d: %v", userID, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("failed to fetch avatar for user %d: status %d", userID, resp.StatusCode)
		return
	}

	if err := os.MkdirAll(s.avatarDir, 0o755); err != nil {
		log.Printf("failed to create avatar directory: %v", err)
		return
	}
	name := utils.GenerateUniqueFilename(filepath.Base(rawURL))
	dstPath := filepath.Join(s.avatarDir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		log.Printf("failed to store avatar for user %d: %v", userID, err)
		return
	}
	defer dst.Close()
	if _, err := io.Copy(dst, resp.Body); err != nil {
		log.Printf("failed to store avatar for user %d: %v", userID, err)
		return
	}

	if err := s.db.Model(&models.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"avatar_path": dstPath, "update_at": time.Now()}).Error; err != nil {
		log.Printf("failed to record avatar for user %d: %v", userID, err)
	}
}
