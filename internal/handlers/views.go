package handlers

import (
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/salesview/internal/auth"
	"github.com/PratikDhanave/salesview/internal/models"
	"github.com/PratikDhanave/salesview/internal/view"
)

// Views is the read side served over HTTP.
type Views struct {
	Users         view.Reader[view.UserProfile]
	Opportunities view.Reader[view.Opportunity]
	Activities    view.Reader[view.Activity]
	// Admins may query on behalf of any subject.
	Admins []string
}

// RegisterViewRoutes registers the serving-path endpoints.
//
// GET /users/:externalID
// GET /opportunities?visible_to=&include_inactive=
// GET /opportunities/:externalID
// GET /activities?visible_to=&include_inactive=
// GET /activities/:externalID
//
// Opportunities and activities are filtered by the visible-to set; a record
// the caller cannot see, or one that was soft deleted, is reported as not
// found. include_inactive is an admin-only audit switch. User profiles are
// directory data readable by any authenticated subject.
func RegisterViewRoutes(r gin.IRoutes, v Views) {
	r.GET("/users/:externalID", func(c *gin.Context) {
		u, err := v.Users.Get(c.Request.Context(), c.Param("externalID"))
		if writeGetError(c, err) {
			return
		}
		c.JSON(http.StatusOK, u)
	})

	r.GET("/opportunities", func(c *gin.Context) {
		listVisible(c, v, v.Opportunities)
	})
	r.GET("/opportunities/:externalID", func(c *gin.Context) {
		getVisible(c, v.Opportunities)
	})

	r.GET("/activities", func(c *gin.Context) {
		listVisible(c, v, v.Activities)
	})
	r.GET("/activities/:externalID", func(c *gin.Context) {
		getVisible(c, v.Activities)
	})
}

// subjectFor resolves the subject a query runs for. Only admins may ask on
// behalf of someone else.
func subjectFor(c *gin.Context, admins []string, requested string) (string, bool) {
	caller := auth.SubjectID(c)
	if requested == "" || requested == caller {
		return caller, true
	}
	if slices.Contains(admins, caller) {
		return requested, true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "cannot query on behalf of another subject"})
	return "", false
}

func listVisible[T view.Document](c *gin.Context, v Views, r view.Reader[T]) {
	subject, ok := subjectFor(c, v.Admins, c.Query("visible_to"))
	if !ok {
		return
	}
	includeInactive := c.Query("include_inactive") == "true"
	if includeInactive && !slices.Contains(v.Admins, auth.SubjectID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "include_inactive requires an admin subject"})
		return
	}
	docs, err := r.List(c.Request.Context(), view.Query{
		VisibleTo:  subject,
		ActiveOnly: !includeInactive,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "view query failed"})
		return
	}
	c.JSON(http.StatusOK, models.NewList(subject, docs))
}

func getVisible[T view.Document](c *gin.Context, r view.Reader[T]) {
	doc, err := r.Get(c.Request.Context(), c.Param("externalID"))
	if writeGetError(c, err) {
		return
	}
	if !doc.IsActive() || !slices.Contains(doc.Viewers(), auth.SubjectID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func writeGetError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, view.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "view read failed"})
	}
	return true
}
