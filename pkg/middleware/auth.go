package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"read-library-backend/pkg/logger"
	"read-library-backend/pkg/models"
	"read-library-backend/pkg/utils"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	UserContextKey ContextKey = "user"
	userHolderKey  ContextKey = "user_holder"
)

// userHolder lets RequestLogger see the user that Auth resolves further down the chain.
type userHolder struct {
	userID string
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey, h)
}

// ErrNotAuthenticated is returned by RequireUser when no user is in the context.
var ErrNotAuthenticated = errors.New("user not authenticated")

// TokenValidator checks a bearer access token.
type TokenValidator interface {
	ValidateAccessToken(token string) (*models.TokenClaims, error)
}

// Auth JWT认证中间件，只接受 access token
func Auth(tokens TokenValidator, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				return
			}

			tokenString, ok := bearerToken(authHeader)
			if !ok {
				utils.WriteUnauthorizedResponse(w, "Invalid authorization header format")
				return
			}

			claims, err := tokens.ValidateAccessToken(tokenString)
			if err != nil {
				log.Debug("Rejected bearer token",
					logger.String("path", r.URL.Path),
					logger.Error(err),
				)
				utils.WriteUnauthorizedResponse(w, "Invalid or expired token")
				return
			}

			user := claims.User()
			if h, ok := r.Context().Value(userHolderKey).(*userHolder); ok {
				h.userID = user.ID
			}
			ctx := WithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithUser 将用户信息放入context
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserFromContext 从context中获取用户信息
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok && user != nil
}

// RequireUser 要求用户必须已认证的辅助函数
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return user, nil
}
