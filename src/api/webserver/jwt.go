package webserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTMiddleware validates the bearer token issued by the identity
// service and exposes the actor's id, client and role to handlers.
func JWTMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		tok, err := jwt.Parse(h[7:], func(t *jwt.Token) (interface{}, error) { return secret, nil },
			jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !tok.Valid {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		uid, _ := claims["uid"].(float64)
		cid, _ := claims["cid"].(float64)
		role, _ := claims["role"].(string)
		c.Set("uid", uint64(uid))
		c.Set("cid", uint64(cid))
		c.Set("role", role)
		c.Next()
	}
}

func actorFrom(c *gin.Context) (uid, cid uint64, role string) {
	uid, _ = c.MustGet("uid").(uint64)
	cid, _ = c.MustGet("cid").(uint64)
	role, _ = c.MustGet("role").(string)
	return uid, cid, role
}
