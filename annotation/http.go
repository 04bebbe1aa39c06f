package annotation

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lewtec/labelhub/internal/domain"
	"go.uber.org/zap"
)

// HTTPLogger logs one line per request with its status and latency
func HTTPLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		initialTime := time.Now()
		path := c.Request.URL.Path
		c.Next()
		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(initialTime)),
		}
		if user := currentUser(c); user != "" {
			fields = append(fields, zap.String("user", user))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Error("http", fields...)
		case status >= 400:
			logger.Warn("http", fields...)
		default:
			logger.Info("http", fields...)
		}
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Accept-Language", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// statusOf maps an error kind to the response status
func statusOf(err error) int {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindInvalidArgument:
		return http.StatusBadRequest
	case domain.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindStorageOperationFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func reason(err error) string {
	var derr *domain.Error
	if errors.As(err, &derr) && derr.Msg != "" {
		return derr.Msg
	}
	return err.Error()
}

// jsonError writes {"error": message}
func jsonError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// respondError writes the localized error body for err. Unknown failures hide their detail.
func respondError(c *gin.Context, err error) {
	c.Error(err)
	status := statusOf(err)
	var message string
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		message = localize(c, "not_found")
	case domain.KindForbidden:
		message = localize(c, "forbidden")
	case domain.KindInvalidArgument:
		message = localize(c, "bad_request", reason(err))
	case domain.KindStorageUnavailable:
		message = localize(c, "storage_unavailable", reason(err))
	case domain.KindStorageOperationFailed:
		message = localize(c, "storage_failed", reason(err))
	case domain.KindTransactionFailure:
		message = localize(c, "save_failed")
	default:
		message = localize(c, "internal_error")
	}
	jsonError(c, status, message)
}

// bind decodes the JSON body into dst, answering 400 on failure
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		jsonError(c, http.StatusBadRequest, localize(c, "invalid_body", err.Error()))
		return false
	}
	return true
}
