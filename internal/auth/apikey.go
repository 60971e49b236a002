package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// subjectCtxKey is the Gin context key used to store the authenticated subject ID.
const subjectCtxKey = "subject_id"

// APIKeyMiddleware maps X-API-Key to the acting subject. Visibility queries
// are evaluated for that subject.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		subjectID, ok := keys[apiKey]
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(subjectCtxKey, subjectID)
		c.Next()
	}
}

// RequireSubjects rejects requests whose subject is not in allowed.
func RequireSubjects(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		set[s] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := set[SubjectID(c)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// SubjectID returns the authenticated subject ID from the request context.
func SubjectID(c *gin.Context) string {
	v, _ := c.Get(subjectCtxKey)
	s, _ := v.(string)
	return s
}
