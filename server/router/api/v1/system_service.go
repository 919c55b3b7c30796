package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/version"
)

type healthResponse struct {
	OK   bool   `json:"ok"`
	Time string `json:"time"`
}

// Health is the unauthenticated liveness check. It touches nothing.
func (*APIV1Service) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		OK:   true,
		Time: time.Now().UTC().Format(time.RFC3339),
	})
}

// Version reports the running build.
func (s *APIV1Service) Version(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"version":       version.GetCurrentVersion(s.Profile.Mode),
		"record_format": version.RecordFormat,
	})
}
