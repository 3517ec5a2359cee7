package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/tabsplit/internal/auth"
)

const (
	// SessionCookie carries the signed viewer session.
	SessionCookie = "tabsplit_session"

	// viewerNameKey is the gin context key for the viewer's name.
	viewerNameKey = "viewer_name"
	// viewerReceiptKey is the gin context key for the session's receipt.
	viewerReceiptKey = "viewer_receipt"
)

// ViewerName extracts the session's viewer name from the gin context.
// Returns empty string if the request carried no valid session.
func ViewerName(c *gin.Context) string {
	return c.GetString(viewerNameKey)
}

// ViewerReceipt extracts the receipt the session was issued for.
func ViewerReceipt(c *gin.Context) string {
	return c.GetString(viewerReceiptKey)
}

// ViewerSession validates the session cookie if present and stores the
// viewer identity in the context. Requests without a session pass
// through; handlers that need one use RequireViewer.
func ViewerSession(sessions *auth.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token != "" {
			if claims, err := sessions.Verify(token); err == nil {
				c.Set(viewerNameKey, claims.Name)
				c.Set(viewerReceiptKey, claims.ReceiptID)
			}
		}
		c.Next()
	}
}

// RequireViewer rejects requests whose session is missing, invalid, or
// issued for a different receipt than the one in the URL.
func RequireViewer() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := ViewerName(c)
		if name == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": auth.ErrMissingSession.Error(),
			})
			return
		}
		if slug := c.Param("slug"); slug != "" && ViewerReceipt(c) != slug {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "session was issued for a different receipt",
			})
			return
		}
		c.Next()
	}
}

// sessionToken reads the session from the cookie, falling back to a
// Bearer token for non-browser clients.
func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
