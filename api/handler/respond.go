package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/picketline/models"
)

// respondError maps an error to its HTTP status and writes a structured JSON
// error response. Errors without a code are reported as internal.
func respondError(c *gin.Context, err error) {
	var pe *models.PicketError
	if !errors.As(err, &pe) {
		pe = models.NewPicketError(models.ErrCodeInternal, err.Error(), err)
	}
	c.JSON(models.HTTPStatusForCode(pe.Code), models.ErrorResponse{
		Success: false,
		Error:   pe.ToDetail(),
	})
}

// badRequest reports a binding or validation failure.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Success: false,
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeInvalidInput,
			Message: err.Error(),
		},
	})
}
