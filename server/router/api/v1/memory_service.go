package v1

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/JohnV2002/Finja-AI-Ecosystem/internal/errcode"
	"github.com/JohnV2002/Finja-AI-Ecosystem/server/service/memory"
	"github.com/JohnV2002/Finja-AI-Ecosystem/store"
)

type addMemoryRequest struct {
	UserID    string            `json:"user_id"`
	Text      string            `json:"text"`
	Bank      string            `json:"bank"`
	Meta      map[string]string `json:"meta"`
	Tags      []string          `json:"tags"`
	ExpiresAt *time.Time        `json:"expires_at"`
}

type addMemoriesRequest struct {
	UserID string   `json:"user_id"`
	Items  []string `json:"items"`
	Bank   string   `json:"bank"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

type extractMemoriesRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type pruneRequest struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
}

// AddMemory handles POST /add_memory. Soft rejections are 200 responses.
func (s *APIV1Service) AddMemory(c echo.Context) error {
	var req addMemoryRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := s.Memory.AddMemory(c.Request().Context(), &memory.AddRequest{
		UserID:    req.UserID,
		Text:      req.Text,
		Bank:      req.Bank,
		Meta:      req.Meta,
		Tags:      req.Tags,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// AddMemories handles POST /add_memories and answers one outcome per item.
func (s *APIV1Service) AddMemories(c echo.Context) error {
	var req addMemoriesRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	outcomes, err := s.Memory.AddMemories(c.Request().Context(), req.UserID, req.Items, req.Bank)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, outcomes)
}

// GetMemories handles GET /get_memories?user_id&bank&query&limit.
func (s *APIV1Service) GetMemories(c echo.Context) error {
	find := &store.FindMemoryItem{
		UserID: c.QueryParam("user_id"),
		Query:  strings.TrimSpace(c.QueryParam("query")),
	}
	if raw := c.QueryParam("bank"); raw != "" {
		bank, err := store.ParseBank(raw)
		if err != nil {
			return errcode.InvalidArgument("%v", err)
		}
		find.Bank = &bank
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return errcode.InvalidArgument("limit must be an integer, got %q", raw)
		}
		find.Limit = limit
	}

	items, err := s.Memory.GetMemories(c.Request().Context(), find)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*store.MemoryItem{}
	}
	return c.JSON(http.StatusOK, items)
}

// DeleteUserMemories handles POST /delete_user_memories. Confirmation is the
// caller's job; the call itself deletes unconditionally.
func (s *APIV1Service) DeleteUserMemories(c echo.Context) error {
	var req userRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := s.Memory.DeleteUserMemories(c.Request().Context(), req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

// ExtractMemories handles POST /extract_memories.
func (s *APIV1Service) ExtractMemories(c echo.Context) error {
	var req extractMemoriesRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := s.Memory.ExtractMemories(c.Request().Context(), req.UserID, req.Message)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// MemoryStats handles GET /memory_stats?user_id.
func (s *APIV1Service) MemoryStats(c echo.Context) error {
	stats, err := s.Memory.Stats(c.Request().Context(), c.QueryParam("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// Prune handles POST /prune.
func (s *APIV1Service) Prune(c echo.Context) error {
	var req pruneRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	result, err := s.Memory.Prune(c.Request().Context(), req.UserID, req.Amount)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
