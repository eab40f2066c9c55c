package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/reportmill/internal/database"
	"github.com/reportmill/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

var jwtSecret []byte

var ErrUnauthenticated = errors.New("unauthenticated")

// Configure sets the JWT signing secret. Called once at startup, before
// the server starts accepting requests.
func Configure(secret string) {
	jwtSecret = []byte(secret)
}

type Claims struct {
	UserID uint
	Role   models.Role
	jwt.StandardClaims
}

func GenerateToken(user *models.User) (string, error) {
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(24 * time.Hour).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// UserFromRequest resolves the bearer token on the request to an active
// user. Used by the auth middleware and by handlers with an optional
// operator path (the download gateway).
func UserFromRequest(c *gin.Context) (*models.User, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, ErrUnauthenticated
	}

	token := strings.TrimPrefix(header, "Bearer ")
	claims := &Claims{}

	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, ErrUnauthenticated
	}

	var user models.User
	if err := database.GetDB().First(&user, claims.UserID).Error; err != nil {
		return nil, ErrUnauthenticated
	}
	if !user.IsActive {
		return nil, ErrUnauthenticated
	}
	return &user, nil
}

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := UserFromRequest(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Set("role", string(user.Role))
		c.Next()
	}
}

func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString("role")
		for _, role := range roles {
			if string(role) == userRole {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		c.Abort()
	}
}
