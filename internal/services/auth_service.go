package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"securechat/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Handshake rejection categories. The websocket handler maps these to
// a closed connection before any event exchange is permitted.
var (
	ErrMissingToken = errors.New("authentication token required")
	ErrExpiredToken = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

const tokenTTL = 24 * time.Hour

type IUserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

type TokenRepository interface {
	IsRevoked(ctx context.Context, tokenHash string) (bool, error)
	Revoke(ctx context.Context, tokenHash string, expiration time.Duration) error
}

// Identity is the payload carried by a verified token and bound to a
// session at connect time.
type Identity struct {
	UserID string
	Email  string
}

type AuthService struct {
	userRepo  IUserRepository
	hasher    IHasher
	tokenRepo TokenRepository
	jwtKey    []byte
	logger    *slog.Logger
}

func NewAuthService(repo IUserRepository, hasher IHasher, tokenRepo TokenRepository, jwtKey []byte, logger *slog.Logger) *AuthService {
	return &AuthService{userRepo: repo, hasher: hasher, tokenRepo: tokenRepo, jwtKey: jwtKey, logger: logger}
}

func (s *AuthService) Register(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		s.logger.Warn("missing required fields in registration")
		return errors.New("email and password are required")
	}

	s.logger.Debug("attempting user registration", "email", email)

	existingUser, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existingUser != nil {
		s.logger.Warn("email already registered", "email", email)
		return errors.New("email already registered")
	}

	hashedPassword, err := s.hasher.GenerateFromPassword([]byte(password), s.hasher.DefaultCost())
	if err != nil {
		s.logger.Error("password hashing failed", "error", err)
		return errors.New("registration failed")
	}

	user := models.NewUser(uuid.New().String(), email, string(hashedPassword))
	if err := s.userRepo.CreateUser(ctx, user); err != nil {
		s.logger.Warn("user creation failed", "error", err)
		return errors.New("registration failed")
	}

	s.logger.Info("user registered successfully", "email", email)
	return nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		s.logger.Warn("empty email or password")
		return "", errors.New("email and password are required")
	}

	s.logger.Debug("attempting login", "email", email)

	user, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		s.logger.Warn("user lookup failed", "email", email, "error", err)
		return "", errors.New("invalid credentials")
	}
	if user == nil {
		s.logger.Warn("user not found", "email", email)
		return "", errors.New("invalid credentials")
	}

	if err := s.hasher.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		s.logger.Warn("invalid password", "email", email)
		return "", errors.New("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": user.ID,
		"email":  user.Email,
		"exp":    time.Now().Add(tokenTTL).Unix(),
	})

	tokenString, err := token.SignedString(s.jwtKey)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		return "", errors.New("authentication failed")
	}

	s.logger.Info("login successful", "email", email)
	return tokenString, nil
}

// ValidateToken verifies signature, expiry and revocation, and
// returns the identity the token carries.
func (s *AuthService) ValidateToken(ctx context.Context, tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	hash := sha256.Sum256([]byte(tokenString))
	tokenHash := hex.EncodeToString(hash[:])

	isRevoked, err := s.tokenRepo.IsRevoked(ctx, tokenHash)
	if err != nil {
		s.logger.Error("token revocation check failed", "error", err)
		return Identity{}, err
	}
	if isRevoked {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			s.logger.Warn("token expired")
			return Identity{}, ErrExpiredToken
		}
		s.logger.Warn("token parsing failed", "error", err)
		return Identity{}, ErrInvalidToken
	}

	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	userID, ok := claims["userId"].(string)
	if !ok || userID == "" {
		return Identity{}, ErrInvalidToken
	}
	email, _ := claims["email"].(string)

	s.logger.Debug("token validated", "userID", userID)
	return Identity{UserID: userID, Email: email}, nil
}

func (s *AuthService) RevokeToken(ctx context.Context, tokenString string, expiration time.Duration) error {
	hash := sha256.Sum256([]byte(tokenString))
	tokenHash := hex.EncodeToString(hash[:])
	return s.tokenRepo.Revoke(ctx, tokenHash, expiration)
}
