package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"chatui/db"
	"chatui/llm"
	"chatui/utils"
)

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	api := s.echo.Group("/api")

	api.GET("/conversations", s.handleListConversations)
	api.POST("/conversations", s.handleCreateConversation)
	api.DELETE("/conversations", s.handleDeleteAllConversations)
	api.POST("/conversations/import", s.handleImportConversation)
	api.PUT("/conversations/:id", s.handleUpdateConversation)
	api.DELETE("/conversations/:id", s.handleDeleteConversation)
	api.GET("/conversations/:id/messages", s.handleListMessages)
	api.POST("/conversations/:id/messages", s.handleAddMessage)
	api.POST("/conversations/:id/chat", s.handleSend)
	api.POST("/conversations/:id/title", s.handleGenerateTitle)
	api.GET("/conversations/:id/export", s.handleExport)

	api.POST("/chat", s.handleChat)

	api.GET("/settings", s.handleGetSettings)
	api.POST("/settings", s.handleSaveSettings)

	api.GET("/models", s.handleListAllModels)
	api.GET("/models/:provider", s.handleListModels)

	api.GET("/search", s.handleSearch)
	api.GET("/stats", s.handleStats)
	api.POST("/stats/vacuum", s.handleVacuum)
}

type messageResponse struct {
	Message string `json:"message"`
}

type conversationRequest struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type addMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sendRequest struct {
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
}

type chatResponse struct {
	Content string `json:"content"`
}

type deleteAllResponse struct {
	Message              string `json:"message"`
	DeletedConversations int64  `json:"deletedConversations"`
	DeletedMessages      int64  `json:"deletedMessages"`
}

type statsResponse struct {
	*db.DBStats
	Usage *db.UsageStats `json:"usage"`
}

// conversationID parses the :id path parameter
func conversationID(c echo.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, utils.NewValidationError("id", "invalid conversation id %q", raw)
	}
	return id, nil
}

// bind decodes the JSON body, reporting malformed input as a validation error
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return utils.NewValidationError("body", "invalid request body")
	}
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListConversations(c echo.Context) error {
	convs, err := s.db.ListConversations(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(c echo.Context) error {
	var req conversationRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	conv, err := s.chat.CreateConversation(c.Request().Context(), req.Title, req.Provider, req.Model)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleUpdateConversation(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	var req conversationRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := s.chat.UpdateConversation(c.Request().Context(), id, req.Title, req.Provider, req.Model); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "Conversation updated successfully"})
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}

	if err := s.db.DeleteConversation(c.Request().Context(), id); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", "conversation_id", id)
	return c.JSON(http.StatusOK, messageResponse{Message: "Conversation deleted successfully"})
}

func (s *Server) handleDeleteAllConversations(c echo.Context) error {
	counts, err := s.db.DeleteAllConversations(c.Request().Context())
	if err != nil {
		return err
	}
	s.logger.Info("all conversations deleted",
		"conversations", counts.Conversations,
		"messages", counts.Messages,
	)
	return c.JSON(http.StatusOK, deleteAllResponse{
		Message:              "All conversations deleted successfully",
		DeletedConversations: counts.Conversations,
		DeletedMessages:      counts.Messages,
	})
}

func (s *Server) handleListMessages(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}

	msgs, err := s.db.ListMessages(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleAddMessage(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	var req addMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	msg, err := s.chat.AddMessage(c.Request().Context(), id, req.Role, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) handleSend(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	var req sendRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	turn, err := s.chat.Send(c.Request().Context(), id, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, turn)
}

func (s *Server) handleGenerateTitle(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}

	conv, err := s.chat.GenerateTitle(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleExport(c echo.Context) error {
	id, err := conversationID(c)
	if err != nil {
		return err
	}
	format, err := utils.ParseExportFormat(c.QueryParam("format"))
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	conv, err := s.db.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := s.db.ListMessages(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	var buf bytes.Buffer
	if err := utils.WriteExport(&buf, format, utils.NewConversationExport(conv, msgs, now)); err != nil {
		return err
	}

	filename := utils.GenerateExportFilename(conv.Title, format, now)
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (s *Server) handleImportConversation(c echo.Context) error {
	conv, err := utils.ImportConversation(c.Request().Context(), s.db, c.Request().Body)
	if err != nil {
		return err
	}
	s.logger.Info("conversation imported", "conversation_id", conv.ID)
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	content, err := s.chat.Complete(c.Request().Context(), req.Provider, req.Model, req.Messages)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, chatResponse{Content: content})
}

func (s *Server) handleGetSettings(c echo.Context) error {
	current, err := s.settings.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, current)
}

func (s *Server) handleSaveSettings(c echo.Context) error {
	var req db.Settings
	if err := bind(c, &req); err != nil {
		return err
	}

	if err := s.settings.Save(c.Request().Context(), req); err != nil {
		return err
	}
	s.logger.Info("settings saved", "default_provider", req.DefaultProvider)
	return c.JSON(http.StatusOK, messageResponse{Message: "Settings saved successfully"})
}

func (s *Server) handleListModels(c echo.Context) error {
	list, err := s.chat.ListModels(c.Request().Context(), c.Param("provider"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleListAllModels(c echo.Context) error {
	lists, err := s.chat.ListAllModels(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lists)
}

func (s *Server) handleSearch(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return utils.NewValidationError("q", "must not be empty")
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return utils.NewValidationError("limit", "invalid limit %q", raw)
		}
		limit = n
	}

	results, err := s.db.SearchMessages(c.Request().Context(), query, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleStats(c echo.Context) error {
	ctx := c.Request().Context()
	stats, err := s.db.GetStats(ctx)
	if err != nil {
		return err
	}
	usage, err := s.db.GetUsageStats(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statsResponse{DBStats: stats, Usage: usage})
}

// handleVacuum compacts the database file and returns the refreshed statistics
func (s *Server) handleVacuum(c echo.Context) error {
	ctx := c.Request().Context()
	s.logger.Info("starting database vacuum")
	if err := s.db.Vacuum(ctx); err != nil {
		return err
	}

	stats, err := s.db.GetStats(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("database vacuum completed", "db_size_bytes", stats.DBSizeBytes)
	return c.JSON(http.StatusOK, stats)
}
