package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fenwick-ai/ragchat-core/internal/platform/ctxutil"
)

const headerUserID = "X-User-Id"

// AttachRequestContext resolves the caller's identity and attaches it to
// the request context. Token verification and session issuance are out of
// scope for this service (ctxutil.RequestData's own doc comment); an
// upstream gateway is assumed to have already authenticated the caller and
// forwards their user id in X-User-Id.
func AttachRequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := uuid.Parse(c.GetHeader(headerUserID))
		ctx := ctxutil.WithRequestData(c.Request.Context(), &ctxutil.RequestData{UserID: userID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
