package handlers

import (
	"quickbite/internal/apperr"

	"github.com/gin-gonic/gin"
)

// respondError maps a classified service error onto the wire.
func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"error": err.Error(),
		"code":  apperr.KindOf(err).String(),
	})
}
