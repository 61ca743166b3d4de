package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error    string `json:"error"`
	Received *int   `json:"received,omitempty"`
	Expected *int   `json:"expected,omitempty"`
	Missing  []int  `json:"missing,omitempty"`
}

// statusFor maps domain errors to HTTP status codes. Unknown errors are 500.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrIncompleteUpload):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrAlreadyRunning),
		errors.Is(err, common.ErrStatusConflict),
		errors.Is(err, common.ErrInvalidTransition),
		errors.Is(err, common.ErrPreconditionFailed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	var incomplete *common.IncompleteUploadError
	if errors.As(err, &incomplete) {
		resp.Received = &incomplete.Received
		resp.Expected = &incomplete.Expected
		resp.Missing = incomplete.Missing
	}

	if code == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		resp.Error = common.ErrInternal.Error()
	}

	c.AbortWithStatusJSON(code, resp)
}
