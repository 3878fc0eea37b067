package middleware

import (
	"errors"
	"net/http"

	"elevate-engine/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error attached to the gin context as a structured
// error body. Domain errors carry their own status; anything else is an
// internal error with the message withheld.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(err.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": "internal error",
			},
		})
	}
}
