package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var registerTagNames sync.Once

// useJSONFieldNames makes validator report fields by their wire name.
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		engine.RegisterTagNameFunc(wireFieldName)
	})
}

func wireFieldName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}

type errorEnvelope struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// writeError renders err as the error envelope. Internal failures are logged
// and, outside development, reported with a generic message.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	apiErr := apierr.As(err)
	message := apiErr.Message
	if apiErr.Status >= http.StatusInternalServerError && apiErr.Code == apierr.CodeInternal {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		if h.development {
			message = err.Error()
		}
	}
	c.AbortWithStatusJSON(apiErr.Status, errorEnvelope{
		Error:   message,
		Code:    string(apiErr.Code),
		Details: apiErr.Details,
	})
}

// bindingError converts a gin binding failure into a validation error.
func bindingError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make([]apierr.FieldError, 0, len(validationErrs))
		for _, fieldErr := range validationErrs {
			fields = append(fields, apierr.FieldError{Field: fieldErr.Field(), Message: validationMessage(fieldErr)})
		}
		return apierr.Validation("Invalid request payload", fields...)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return apierr.Validation("Invalid request payload", apierr.FieldError{
			Field:   typeErr.Field,
			Message: "must be of type " + typeErr.Type.String(),
		})
	}
	if errors.Is(err, io.EOF) {
		return apierr.Validation("Request body is required")
	}
	return apierr.Validation("Malformed request payload")
}

func validationMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fieldErr.Param()
	case "max":
		return "must be at most " + fieldErr.Param()
	case "gt":
		return "must be greater than " + fieldErr.Param()
	case "lte":
		return "must be at most " + fieldErr.Param()
	default:
		return "is invalid"
	}
}

func (h *httpHandler) bindJSON(c *gin.Context, target any) bool {
	if err := c.ShouldBindJSON(target); err != nil {
		h.writeError(c, bindingError(err))
		return false
	}
	return true
}

// RejectRateLimited renders the rate limiter's 429 response.
func RejectRateLimited(c *gin.Context, _ time.Duration) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorEnvelope{
		Error: "Too many requests, please try again later",
		Code:  string(apierr.CodeRateLimited),
	})
}
