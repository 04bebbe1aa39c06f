package annotation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lewtec/labelhub/internal/domain"
	"go.uber.org/zap"
)

// handleImage streams the bytes of one image. Errors are plain localized text with
// the status taxonomy the image tags expect; a failing remote status is echoed.
func (a *App) handleImage(c *gin.Context) {
	id := c.Param("id")
	obj, err := a.Images.Fetch(c.Request.Context(), currentUser(c), id)
	if err != nil {
		c.Error(err)
		status, message := a.imageError(c, err)
		c.String(status, message)
		return
	}
	defer obj.Body.Close()

	c.Header("Cache-Control", "public, max-age=31536000")
	c.DataFromReader(http.StatusOK, obj.Size, obj.ContentType, obj.Body, nil)
}

func (a *App) imageError(c *gin.Context, err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound, localize(c, "image_not_found")
	case domain.KindForbidden:
		return http.StatusForbidden, localize(c, "image_forbidden")
	case domain.KindInvalidArgument:
		return http.StatusBadRequest, localize(c, "image_bad_request", reason(err))
	case domain.KindStorageUnavailable:
		return http.StatusBadRequest, localize(c, "image_storage_unavailable")
	case domain.KindStorageOperationFailed:
		status := domain.StatusOf(err)
		if status == 0 {
			status = http.StatusInternalServerError
		}
		return status, localize(c, "image_remote_failed", reason(err))
	}
	a.logger.Error("serving image failed", zap.String("image", c.Param("id")), zap.Error(err))
	return http.StatusInternalServerError, localize(c, "internal_error")
}
