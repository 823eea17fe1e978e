package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

type AuthManager struct {
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
}

// UserStore is the slice of the repository the auth layer needs.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	DeleteUser(ctx context.Context, username string) error
	UpdateUserPassword(ctx context.Context, username string, passwordHash string) error
	UpdateUserLastLogin(ctx context.Context, username string, at time.Time) error
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := normalizeUsername(req.Username)
	user, err := a.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !user.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	now := time.Now().UTC()
	if err := a.userStore.UpdateUserLastLogin(ctx, username, now); err != nil {
		log.Printf("[auth] WARN: failed to stamp last login for %s: %v", username, err)
	}

	expiresAt := now.Add(a.tokenTTL)
	token, err := a.sign(username, user.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Username:    username,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Register creates a self-service account with the employee role.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.User, error) {
	return a.createAccount(ctx, domain.UserCreateRequest{
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
		Email:    req.Email,
		Role:     domain.RoleEmployee,
	})
}

// CreateUser creates an account with an explicit role. Role enforcement on
// the caller happens at the route layer.
func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleEmployee
	}
	if !domain.IsValidRole(role) {
		return domain.User{}, fmt.Errorf("unknown role %q: %w", role, store.ErrInvalidInput)
	}
	req.Role = role
	return a.createAccount(ctx, req)
}

func (a *AuthManager) createAccount(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	username := normalizeUsername(req.Username)
	if len(username) < 4 {
		return domain.User{}, fmt.Errorf("username must be at least 4 characters: %w", store.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.User{}, fmt.Errorf("username must not contain spaces: %w", store.ErrInvalidInput)
	}
	if err := validatePassword(req.Password); err != nil {
		return domain.User{}, err
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password")
	}

	created, err := a.userStore.CreateUser(ctx, domain.UserAccount{
		ID:           xid.New("USR"),
		Username:     username,
		PasswordHash: passwordHash,
		FullName:     strings.TrimSpace(req.FullName),
		Email:        strings.TrimSpace(req.Email),
		Role:         req.Role,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, fmt.Errorf("username already exists: %w", store.ErrConflict)
		}
		return domain.User{}, err
	}
	return toUser(*created), nil
}

func (a *AuthManager) GetUser(ctx context.Context, username string) (domain.User, error) {
	account, err := a.userStore.GetUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return domain.User{}, err
	}
	return toUser(*account), nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.User, error) {
	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, toUser(account))
	}
	return users, nil
}

func (a *AuthManager) UpdateUser(ctx context.Context, username string, req domain.UserUpdateRequest) (domain.User, error) {
	account, err := a.userStore.GetUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return domain.User{}, err
	}

	updated := *account
	if req.FullName != nil {
		updated.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Email != nil {
		updated.Email = strings.TrimSpace(*req.Email)
	}
	if req.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*req.Role))
		if !domain.IsValidRole(role) {
			return domain.User{}, fmt.Errorf("unknown role %q: %w", role, store.ErrInvalidInput)
		}
		updated.Role = role
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := a.userStore.UpdateUser(ctx, updated)
	if err != nil {
		return domain.User{}, err
	}
	return toUser(*saved), nil
}

func (a *AuthManager) DeleteUser(ctx context.Context, username string) error {
	return a.userStore.DeleteUser(ctx, normalizeUsername(username))
}

// ChangePassword verifies the caller's current password before replacing it.
func (a *AuthManager) ChangePassword(ctx context.Context, username string, req domain.PasswordChangeRequest) error {
	account, err := a.userStore.GetUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return err
	}
	if !verifyPassword(account.PasswordHash, req.OldPassword) {
		return fmt.Errorf("current password is incorrect: %w", store.ErrInvalidInput)
	}
	if err := validatePassword(req.NewPassword); err != nil {
		return err
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}
	return a.userStore.UpdateUserPassword(ctx, account.Username, hash)
}

// ResetPassword replaces a password without the old one. Admin only at the
// route layer.
func (a *AuthManager) ResetPassword(ctx context.Context, username string, newPassword string) error {
	account, err := a.userStore.GetUserByUsername(ctx, normalizeUsername(username))
	if err != nil {
		return err
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}
	return a.userStore.UpdateUserPassword(ctx, account.Username, hash)
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "warungpos",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func toUser(account domain.UserAccount) domain.User {
	return domain.User{
		ID:          account.ID,
		Username:    account.Username,
		FullName:    account.FullName,
		Email:       account.Email,
		Role:        account.Role,
		Active:      account.Active,
		LastLoginAt: account.LastLoginAt,
		CreatedAt:   account.CreatedAt,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func validatePassword(password string) error {
	if strings.TrimSpace(password) == "" || len(password) < 6 {
		return fmt.Errorf("password must be at least 6 characters: %w", store.ErrInvalidInput)
	}
	return nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
