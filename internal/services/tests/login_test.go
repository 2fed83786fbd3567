package services_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"securechat/app/tests"
	"securechat/internal/handlers"
	"securechat/internal/models"
	"securechat/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const JwtKey = "test_key"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogin_TableDriven(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var ts = []struct {
		name         string
		requestBody  map[string]interface{}
		setupMocks   func(*tests.MockUserRepository, *tests.MockHasher)
		expectedCode int
		expectedBody string
		checkToken   bool
	}{
		{
			name: "Successful login",
			requestBody: map[string]interface{}{
				"email":    "valid@example.com",
				"password": "correctpassword",
			},
			setupMocks: func(mur *tests.MockUserRepository, mph *tests.MockHasher) {
				hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("correctpassword"), bcrypt.DefaultCost)

				user := &models.User{
					ID:       "user-1",
					Email:    "valid@example.com",
					Password: string(hashedPassword),
				}
				mur.On("GetUserByEmail", mock.Anything, "valid@example.com").Return(user, nil)
				mph.On("CompareHashAndPassword", []byte(user.Password), []byte("correctpassword")).Return(nil)
			},
			expectedCode: http.StatusOK,
			checkToken:   true,
		},
		{
			name: "User not found",
			requestBody: map[string]interface{}{
				"email":    "nonexistent@example.com",
				"password": "password",
			},
			setupMocks: func(mur *tests.MockUserRepository, mph *tests.MockHasher) {
				mur.On("GetUserByEmail", mock.Anything, "nonexistent@example.com").Return((*models.User)(nil), nil)
			},
			expectedCode: http.StatusUnauthorized,
			expectedBody: "invalid credentials",
		},
		{
			name: "Wrong password",
			requestBody: map[string]interface{}{
				"email":    "valid@example.com",
				"password": "wrongpassword",
			},
			setupMocks: func(mur *tests.MockUserRepository, mph *tests.MockHasher) {
				hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("correctpassword"), bcrypt.DefaultCost)
				user := &models.User{
					ID:       "user-1",
					Email:    "valid@example.com",
					Password: string(hashedPassword),
				}
				mur.On("GetUserByEmail", mock.Anything, "valid@example.com").Return(user, nil)
				mph.On("CompareHashAndPassword", []byte(user.Password), []byte("wrongpassword")).Return(bcrypt.ErrMismatchedHashAndPassword)
			},
			expectedCode: http.StatusUnauthorized,
			expectedBody: "invalid credentials",
		},
		{
			name: "Missing fields",
			requestBody: map[string]interface{}{
				"email": "valid@example.com",
			},
			setupMocks:   func(mur *tests.MockUserRepository, mph *tests.MockHasher) {},
			expectedCode: http.StatusUnauthorized,
			expectedBody: "email and password are required",
		},
	}

	for _, tt := range ts {
		t.Run(tt.name, func(t *testing.T) {
			userRepo := new(tests.MockUserRepository)
			hasher := new(tests.MockHasher)
			tokenRepo := new(tests.MockTokenRepository)
			tt.setupMocks(userRepo, hasher)

			service := services.NewAuthService(userRepo, hasher, tokenRepo, []byte(JwtKey), discardLogger())
			handler := handlers.NewAuthHandler(service, discardLogger())

			eng := gin.New()
			eng.POST("/api/auth/login", handler.Login)

			req := tests.CreateTestRequest("/api/auth/login", http.MethodPost, tt.requestBody)
			rr := tests.ExecuteHandler(eng, req)

			assert.Equal(t, tt.expectedCode, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

			if tt.expectedBody != "" {
				assert.Equal(t, tt.expectedBody, body["error"])
			}
			if tt.checkToken {
				assert.NotEmpty(t, body["token"])
			}

			userRepo.AssertExpectations(t)
			hasher.AssertExpectations(t)
		})
	}
}

func TestValidateToken_RejectionCategories(t *testing.T) {
	makeToken := func(key string, exp time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"userId": "user-1",
			"email":  "valid@example.com",
			"exp":    exp.Unix(),
		})
		signed, err := token.SignedString([]byte(key))
		require.NoError(t, err)
		return signed
	}

	var ts = []struct {
		name        string
		token       string
		revoked     bool
		expectedErr error
	}{
		{
			name:        "Missing token",
			token:       "",
			expectedErr: services.ErrMissingToken,
		},
		{
			name:        "Expired token",
			token:       makeToken(JwtKey, time.Now().Add(-time.Hour)),
			expectedErr: services.ErrExpiredToken,
		},
		{
			name:        "Foreign signature",
			token:       makeToken("other_key", time.Now().Add(time.Hour)),
			expectedErr: services.ErrInvalidToken,
		},
		{
			name:        "Revoked token",
			token:       makeToken(JwtKey, time.Now().Add(time.Hour)),
			revoked:     true,
			expectedErr: services.ErrInvalidToken,
		},
	}

	for _, tt := range ts {
		t.Run(tt.name, func(t *testing.T) {
			userRepo := new(tests.MockUserRepository)
			hasher := new(tests.MockHasher)
			tokenRepo := new(tests.MockTokenRepository)
			if tt.token != "" {
				tokenRepo.On("IsRevoked", mock.Anything, mock.Anything).Return(tt.revoked, nil)
			}

			service := services.NewAuthService(userRepo, hasher, tokenRepo, []byte(JwtKey), discardLogger())

			_, err := service.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestValidateToken_ReturnsIdentity(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "user-42",
		"email":  "someone@example.com",
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(JwtKey))
	require.NoError(t, err)

	tokenRepo := new(tests.MockTokenRepository)
	tokenRepo.On("IsRevoked", mock.Anything, mock.Anything).Return(false, nil)

	service := services.NewAuthService(new(tests.MockUserRepository), new(tests.MockHasher), tokenRepo, []byte(JwtKey), discardLogger())

	identity, err := service.ValidateToken(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "user-42", identity.UserID)
	assert.Equal(t, "someone@example.com", identity.Email)
}
