package middleware

import (
	"errors"
	"fmt"
	"strings"

	"phishnot_server/pkg/apperr"
	"phishnot_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthConfig configures bearer-token resolution of the caller's user id.
type AuthConfig struct {
	Secret string
	// DevHeader, when set, is trusted as the user id if no token is present.
	// Only wired outside production.
	DevHeader string
}

// JWTAuth verifies an HS256 bearer token and stores the user id from its
// user_id (or sub) claim in Locals("user_id") and the request context.
func JWTAuth(cfg AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			if cfg.DevHeader != "" {
				if id, err := uuid.Parse(c.Get(cfg.DevHeader)); err == nil && id != uuid.Nil {
					return setUser(c, id)
				}
			}
			return apperr.Unauthorized("missing authorization")
		}

		if cfg.Secret == "" {
			return apperr.Unauthorized("token authentication is not configured")
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		})
		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			if errors.Is(err, jwt.ErrTokenExpired) {
				return apperr.TokenExpired()
			}
			return apperr.InvalidToken("invalid token")
		}

		userID, err := userIDFromClaims(claims)
		if err != nil {
			return apperr.InvalidToken(err.Error())
		}
		return setUser(c, userID)
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func userIDFromClaims(claims jwt.MapClaims) (uuid.UUID, error) {
	for _, key := range []string{"user_id", "sub"} {
		raw, ok := claims[key].(string)
		if !ok || raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			return uuid.Nil, fmt.Errorf("claim %s is not a user id", key)
		}
		return id, nil
	}
	return uuid.Nil, errors.New("token carries no user id")
}

func setUser(c *fiber.Ctx, userID uuid.UUID) error {
	c.Locals("user_id", userID)
	c.SetUserContext(logger.ContextWithUserID(c.UserContext(), userID))
	return c.Next()
}
