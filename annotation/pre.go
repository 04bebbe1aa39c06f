package annotation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lewtec/labelhub/internal/domain"
	"github.com/lewtec/labelhub/internal/service"
)

type preResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// handlePreAnnotation accepts a machine transcription guarded by the invite code
func (a *App) handlePreAnnotation(c *gin.Context) {
	var in service.PreAnnotationSubmission
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, preResponse{Message: localize(c, "invalid_body", err.Error())})
		return
	}
	view, err := a.Annotations.SubmitPreAnnotation(c.Request.Context(), in)
	if err != nil {
		c.Error(err)
		status := statusOf(err)
		var message string
		switch domain.KindOf(err) {
		case domain.KindForbidden:
			message = localize(c, "invite_code_wrong")
		case domain.KindNotFound:
			message = localize(c, "image_not_found")
		case domain.KindInvalidArgument:
			message = localize(c, "invalid_body", reason(err))
		default:
			message = localize(c, "internal_error")
		}
		c.JSON(status, preResponse{Message: message})
		return
	}
	c.JSON(http.StatusOK, preResponse{Success: true, Message: localize(c, "pre_annotation_received"), ID: view.ID})
}
