package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/molarewaju77/ScanMed-sub001/internal/apperrors"
	"github.com/molarewaju77/ScanMed-sub001/internal/chat"
	"github.com/molarewaju77/ScanMed-sub001/internal/scan"
	"github.com/molarewaju77/ScanMed-sub001/internal/storage"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Language       string `json:"language"`
}

type chatResponse struct {
	Reply          string `json:"reply"`
	ReplyHTML      string `json:"reply_html"`
	ConversationID string `json:"conversation_id,omitempty"`
	Degraded       bool   `json:"degraded"`
}

type conversationSummary struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Preview   string     `json:"preview"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type listResponse struct {
	Conversations []conversationSummary `json:"conversations"`
}

type scanResponse struct {
	Analysis     string `json:"analysis"`
	AnalysisHTML string `json:"analysis_html"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": s.chat.Provider(),
	})
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.Validation("invalid request body")
	}

	result, err := s.chat.SendMessage(c.Request().Context(), chat.SendRequest{
		OwnerID:        ownerID(c),
		ConversationID: req.ConversationID,
		Text:           req.Text,
		Language:       req.Language,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, chatResponse{
		Reply:          result.Reply,
		ReplyHTML:      s.renderMarkdown(result.Reply),
		ConversationID: result.ConversationID,
		Degraded:       result.Degraded,
	})
}

func (s *Server) handleListConversations(c echo.Context) error {
	includeDeleted := false
	if raw := c.QueryParam("include_deleted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return apperrors.Validation("include_deleted must be true or false")
		}
		includeDeleted = v
	}

	convs, err := s.chat.ListConversations(c.Request().Context(), ownerID(c), includeDeleted)
	if err != nil {
		return err
	}

	resp := listResponse{Conversations: make([]conversationSummary, 0, len(convs))}
	for _, conv := range convs {
		resp.Conversations = append(resp.Conversations, summarize(conv))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetConversation(c echo.Context) error {
	conv, err := s.chat.GetConversation(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(c echo.Context) error {
	if err := s.chat.DeleteConversation(c.Request().Context(), ownerID(c), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRestoreConversation(c echo.Context) error {
	conv, err := s.chat.RestoreConversation(c.Request().Context(), ownerID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summarize(conv))
}

func (s *Server) handleScan(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return apperrors.Validation("image file is required")
	}
	src, err := file.Open()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "image file could not be read", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, scan.MaxUploadBytes+1))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "image file could not be read", err)
	}

	mimeType := file.Header.Get(echo.HeaderContentType)
	if mimeType == "" || mimeType == echo.MIMEOctetStream {
		mimeType = http.DetectContentType(data)
	}

	analysis, err := s.chat.AnalyzeScan(c.Request().Context(), chat.ScanRequest{
		OwnerID:  ownerID(c),
		Image:    data,
		MIMEType: mimeType,
		Prompt:   c.FormValue("prompt"),
		Language: c.FormValue("language"),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, scanResponse{
		Analysis:     analysis,
		AnalysisHTML: s.renderMarkdown(analysis),
	})
}

// renderMarkdown converts a reply to HTML. Raw HTML in the reply is escaped.
func (s *Server) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &buf); err != nil {
		s.logger.Warn("failed to render markdown", "error", err)
		return ""
	}
	return buf.String()
}

func summarize(conv *storage.Conversation) conversationSummary {
	return conversationSummary{
		ID:        conv.ID,
		Title:     conv.Title,
		Preview:   conv.Preview,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		DeletedAt: conv.DeletedAt,
	}
}

// handleError maps application errors to HTTP statuses.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := s.errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "status", status, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, map[string]errorBody{"error": body})
	}
	if err != nil {
		s.logger.Error("failed to write error response", "error", err)
	}
}

func (s *Server) errorResponse(err error) (int, errorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, errorBody{Code: http.StatusText(he.Code), Message: msg}
	}

	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodeValidation:
		return http.StatusBadRequest, errorBody{Code: string(code), Message: apperrors.MessageOf(err)}
	case apperrors.CodeNotFound:
		return http.StatusNotFound, errorBody{Code: string(code), Message: apperrors.MessageOf(err)}
	case apperrors.CodeInvalidState:
		return http.StatusConflict, errorBody{Code: string(code), Message: apperrors.MessageOf(err)}
	case apperrors.CodeProvider:
		return http.StatusBadGateway, errorBody{Code: string(code), Message: "the assistant is unavailable, please try again later"}
	default:
		return http.StatusInternalServerError, errorBody{Code: string(apperrors.CodeInternal), Message: "internal error"}
	}
}
