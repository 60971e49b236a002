package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", APIKeyMiddleware(map[string]string{"k-admin": "root", "k-user": "u-1"}))
	g.GET("/whoami", func(c *gin.Context) { c.String(http.StatusOK, SubjectID(c)) })
	g.GET("/admin", RequireSubjects([]string{"root"}), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, key, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newRouter()

	assert.Equal(t, http.StatusUnauthorized, do(r, "", "/whoami").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "wrong", "/whoami").Code)

	w := do(r, "k-user", "/whoami")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-1", w.Body.String())
}

func TestRequireSubjects(t *testing.T) {
	r := newRouter()
	assert.Equal(t, http.StatusForbidden, do(r, "k-user", "/admin").Code)
	assert.Equal(t, http.StatusNoContent, do(r, "k-admin", "/admin").Code)
}
