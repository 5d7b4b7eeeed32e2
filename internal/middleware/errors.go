package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadforge/mission-service/internal/apperr"
)

// ErrorBody is the error object every route responds with.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse maps err to a status and the error envelope. Untyped
// errors become a generic 500 so internal text is not leaked.
func NewErrorResponse(err error) (int, ErrorResponse) {
	ae, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{Error: ErrorBody{
			Code:    string(apperr.CodeInternal),
			Message: "internal error",
		}}
	}
	msg := ae.Message
	if ae.Kind == apperr.KindStore && ae.Err != nil {
		msg = ae.Message + ": " + ae.Err.Error()
	}
	return ae.HTTPStatus(), ErrorResponse{Error: ErrorBody{
		Code:    string(ae.Code),
		Message: msg,
		Details: ae.Details,
	}}
}

// AbortWithError writes the error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	status, body := NewErrorResponse(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
