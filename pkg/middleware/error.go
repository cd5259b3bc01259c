package middleware

import (
	"errors"

	"laxhq-progression/pkg/errutil"

	"github.com/gin-gonic/gin"
)

func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(last.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		internal := errutil.BaseError{Code: errutil.StatusInternal, Message: last.Error()}
		c.JSON(internal.Code.HTTPStatus(), internal.JSON())
	}
}
