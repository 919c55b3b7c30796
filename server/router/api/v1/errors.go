package v1

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/JohnV2002/Finja-AI-Ecosystem/ai/observability/logging"
	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/errcode"
)

type errorDetail struct {
	Code    errcode.Code `json:"code"`
	Message string       `json:"message"`
}

type errorResponse struct {
	Error errorDetail `json:"error"`
}

// HTTPErrorHandler renders every error as {"error": {"code", "message"}}.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, detail := describeError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("request failed",
			"code", detail.Code,
			"error", err,
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Error: detail})
	}
	if err != nil {
		logging.FromContext(c.Request().Context()).Warn("failed to write error response", "error", err)
	}
}

func describeError(err error) (int, errorDetail) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorDetail{Code: codeForStatus(he.Code), Message: fmt.Sprint(he.Message)}
	}

	var ce *errcode.Error
	if errors.As(err, &ce) {
		return errcode.HTTPStatus(ce), errorDetail{Code: ce.Code, Message: ce.Message}
	}
	return http.StatusInternalServerError, errorDetail{Code: errcode.CodeInternal, Message: "internal server error"}
}

func codeForStatus(status int) errcode.Code {
	switch status {
	case http.StatusBadRequest, http.StatusMethodNotAllowed, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return errcode.CodeInvalidArgument
	case http.StatusUnauthorized:
		return errcode.CodeUnauthorized
	case http.StatusForbidden:
		return errcode.CodeForbidden
	case http.StatusNotFound:
		return errcode.CodeNotFound
	case http.StatusTooManyRequests:
		return errcode.CodeRateLimited
	default:
		return errcode.CodeInternal
	}
}

// bind decodes the request body into v, reporting malformed input as a
// validation error.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return errcode.InvalidArgument("invalid request body: %v", he.Message)
		}
		return errcode.InvalidArgument("invalid request body: %v", err)
	}
	return nil
}
