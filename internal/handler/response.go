package handler

import (
	"lipa/internal/apperr"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(apperr.HTTPStatus(err), gin.H{"success": false, "message": apperr.PublicMessage(err)})
}
