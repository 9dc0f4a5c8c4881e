package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/controller"
	"github.com/autsav/backgroundRemover/internal/logging"
	"github.com/autsav/backgroundRemover/internal/session"
)

const (
	// SessionCookie holds the signed session token.
	SessionCookie = "bgr_session"

	requestIDHeader    = "X-Request-ID"
	clientRequestIDKey = "clientRequestID"
	controllerKey      = "sessionController"
)

// RequestID assigns a server-side request identifier. An inbound
// X-Request-ID is kept only as a log field.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, id := logging.EnsureRequestID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, id)
		if inbound := strings.TrimSpace(c.GetHeader(requestIDHeader)); inbound != "" {
			c.Set(clientRequestIDKey, inbound)
		}
		c.Next()
	}
}

// RequestLogger writes one structured line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	logger = logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", logging.RequestIDFrom(c.Request.Context())),
		}
		if inbound := c.GetString(clientRequestIDKey); inbound != "" {
			fields = append(fields, zap.String("client_request_id", inbound))
		}
		if sid := logging.SessionIDFrom(c.Request.Context()); sid != "" {
			fields = append(fields, zap.String("session_id", sid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Error("request completed", fields...)
			return
		}
		logger.Info("request completed", fields...)
	}
}

// SessionMiddleware resolves the caller's controller from the session cookie,
// minting a new session when the cookie is absent or invalid. A token past
// half its lifetime is re-issued for the same session.
func SessionMiddleware(manager *session.Manager, signer *session.TokenSigner, cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := ""
		refresh := true
		if raw, err := c.Cookie(SessionCookie); err == nil {
			if claims, err := signer.Verify(raw); err == nil {
				id = claims.SessionID
				refresh = signer.NeedsRefresh(claims)
			}
		}
		if id == "" {
			id = session.NewID()
		}

		if refresh {
			token, err := signer.Issue(id)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unable to start session"})
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, token, int(cfg.SessionTTL.Seconds()), "/", "", cfg.SecureCookie, true)
		}

		ctx := logging.ContextWithSessionID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)

		ctrl, err := manager.Get(ctx, id)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unable to load session"})
			return
		}
		c.Set(controllerKey, ctrl)
		c.Next()
	}
}

func sessionController(c *gin.Context) *controller.Controller {
	return c.MustGet(controllerKey).(*controller.Controller)
}
