package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"civicfix-be/models"
	"civicfix-be/store"
	authUtils "civicfix-be/utils"
)

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AccountService registers users, issues tokens and resolves tokens back to
// users.
type AccountService struct {
	users  store.UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAccountService(users store.UserStore, secret string, ttl time.Duration) *AccountService {
	return &AccountService{users: users, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Register creates a regular user. The role is never taken from input.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	return s.create(ctx, in, models.RoleUser)
}

func (s *AccountService) create(ctx context.Context, in RegisterInput, role models.Role) (*models.User, error) {
	now := timestamp(s.now())
	user := &models.User{
		ID:        primitive.NewObjectID(),
		Name:      in.Name,
		Email:     in.Email,
		Password:  in.Password,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := user.HashPassword(); err != nil {
		return nil, err
	}
	if err := s.users.InsertUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, newError(ErrEmailTaken, "User with this email already exists", err)
		}
		return nil, err
	}
	return user, nil
}

// Login checks credentials and returns the user with a signed token.
func (s *AccountService) Login(ctx context.Context, in LoginInput) (*models.User, string, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateStruct(in); err != nil {
		return nil, "", err
	}
	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", newError(ErrInvalidCredentials, "Invalid credentials", nil)
		}
		return nil, "", err
	}
	if !user.ComparePassword(in.Password) {
		return nil, "", newError(ErrInvalidCredentials, "Invalid credentials", nil)
	}
	token, err := authUtils.GenerateToken(user.ID.Hex(), s.secret, s.ttl)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Authenticate resolves a token to its stored user, so role changes apply
// without reissuing tokens.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*models.User, error) {
	userID, err := authUtils.ParseToken(token, s.secret)
	if err != nil {
		return nil, newError(ErrUnauthenticated, "Invalid authorization token", err)
	}
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, newError(ErrUnauthenticated, "Invalid token claims", err)
	}
	user, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrUnauthenticated, "User not found", err)
		}
		return nil, err
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap admin unless the email is already
// registered. It is a no-op when email is empty.
func (s *AccountService) EnsureAdmin(ctx context.Context, name, email, password string) error {
	if email == "" {
		return nil
	}
	in := RegisterInput{Name: name, Email: strings.ToLower(strings.TrimSpace(email)), Password: password}
	if in.Name == "" {
		in.Name = "Admin"
	}
	if err := validateStruct(in); err != nil {
		return err
	}
	if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if _, err := s.create(ctx, in, models.RoleAdmin); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil
		}
		return err
	}
	log.Printf("Created admin user %s", in.Email)
	return nil
}
