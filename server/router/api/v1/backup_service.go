package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type restoreRequest struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
}

type restoreResponse struct {
	Restored bool `json:"restored"`
	Items    int  `json:"items"`
}

// BackupNow handles POST /backup_now.
func (s *APIV1Service) BackupNow(c echo.Context) error {
	var req userRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	path, err := s.Backup.BackupUser(c.Request().Context(), req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"archive_path": path})
}

// BackupAllNow handles POST /backup_all_now. A partial run is an error.
func (s *APIV1Service) BackupAllNow(c echo.Context) error {
	archives, err := s.Backup.BackupAll(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string][]string{"archives": archives})
}

// Restore handles POST /restore.
func (s *APIV1Service) Restore(c echo.Context) error {
	var req restoreRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := s.Backup.Restore(c.Request().Context(), req.UserID, req.Date)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, restoreResponse{Restored: true, Items: n})
}

// ListBackups handles GET /backups?user_id.
func (s *APIV1Service) ListBackups(c echo.Context) error {
	archives, err := s.Backup.ListArchives(c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"archives": archives})
}
