package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/FanTMS/digital-symbiosis-sub000/internal/http/response"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/logger"
	"github.com/FanTMS/digital-symbiosis-sub000/internal/pkg/apperror"
)

// ErrorHandler отвечает на ошибки, добавленные через c.Error, если ответ ещё не отправлен.
// Внутренние ошибки логируются и маскируются.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		fields := logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}
		switch apperror.CodeOf(err) {
		case "", apperror.ErrCodeInternal, apperror.ErrCodeInvalidState, apperror.ErrCodeStorage:
			logger.Log.WithError(err).WithFields(fields).Error("request error")
		default:
			logger.Log.WithError(err).WithFields(fields).Debug("request rejected")
		}

		response.Error(c, err)
	}
}
