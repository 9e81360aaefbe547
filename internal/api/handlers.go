package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nhle/mailgateway/internal/gateway"
	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/source"
	"github.com/nhle/mailgateway/internal/store"
)

const (
	maxHoursAgo = 168
	maxLimit    = 100
	minQueryLen = 2
	dateLayout  = "2006-01-02"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type retrieveResponse struct {
	Message string      `json:"message"`
	Emails  interface{} `json:"emails"`
}

type listResponse struct {
	Count  int                   `json:"count"`
	Total  int                   `json:"total"`
	Skip   int                   `json:"skip"`
	Limit  int                   `json:"limit"`
	Emails []model.StoredMessage `json:"emails"`
}

type searchResponse struct {
	Count  int                   `json:"count"`
	Emails []model.StoredMessage `json:"emails"`
}

type historyResponse struct {
	Count int             `json:"count"`
	Runs  []model.SyncRun `json:"runs"`
}

type attachmentData struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Content     string `json:"content"`
}

func (s *Server) sendEmail(c echo.Context) error {
	var params gateway.SendParams
	if err := c.Bind(&params); err != nil {
		return err
	}

	if err := s.gw.SendEmail(c.Request().Context(), params); err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:  "success",
		Message: "Email accepted for delivery",
	})
}

func (s *Server) retrieveEmails(c echo.Context) error {
	hoursAgo := 24
	var forceRefresh, unreadOnly bool
	err := echo.QueryParamsBinder(c).
		Int("hours_ago", &hoursAgo).
		Bool("force_refresh", &forceRefresh).
		Bool("unread_only", &unreadOnly).
		BindError()
	if err != nil {
		return err
	}
	if hoursAgo < 1 || hoursAgo > maxHoursAgo {
		return s.fail(c, &source.ValidationError{
			Field:   "hours_ago",
			Message: fmt.Sprintf("must be between 1 and %d", maxHoursAgo),
		})
	}

	ctx := c.Request().Context()
	lookback := time.Duration(hoursAgo) * time.Hour

	if forceRefresh {
		msgs, err := s.gw.SyncNow(ctx, lookback)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, retrieveResponse{
			Message: fmt.Sprintf("Retrieved %d emails", len(msgs)),
			Emails:  msgs,
		})
	}

	msgs, err := s.gw.MessagesSince(ctx, s.now().Add(-lookback), unreadOnly)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, retrieveResponse{
		Message: fmt.Sprintf("Retrieved %d emails from database", len(msgs)),
		Emails:  msgs,
	})
}

func (s *Server) listEmails(c echo.Context) error {
	limit, skip, sortOrder := 20, 0, -1
	sortBy := "received_at"
	var unreadOnly bool
	var sender, dateFrom, dateTo string
	err := echo.QueryParamsBinder(c).
		Int("limit", &limit).
		Int("skip", &skip).
		String("sort_by", &sortBy).
		Int("sort_order", &sortOrder).
		Bool("unread_only", &unreadOnly).
		String("sender", &sender).
		String("date_from", &dateFrom).
		String("date_to", &dateTo).
		BindError()
	if err != nil {
		return err
	}
	if limit < 1 || limit > maxLimit {
		return s.fail(c, &source.ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxLimit)})
	}
	if skip < 0 {
		return s.fail(c, &source.ValidationError{Field: "skip", Message: "must not be negative"})
	}

	filter := store.MessageFilter{
		UnreadOnly: unreadOnly,
		SortBy:     sortBy,
		SortDesc:   sortOrder < 0,
		Limit:      limit,
		Offset:     skip,
	}
	if sender != "" {
		filter.Sender = &sender
	}
	if raw := c.QueryParam("has_attachments"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return s.fail(c, &source.ValidationError{Field: "has_attachments", Message: "must be a boolean"})
		}
		filter.HasAttachments = &v
	}
	if dateFrom != "" {
		from, err := time.Parse(dateLayout, dateFrom)
		if err != nil {
			return s.fail(c, &source.ValidationError{Field: "date_from", Message: "must be YYYY-MM-DD"})
		}
		filter.ReceivedFrom = &from
	}
	if dateTo != "" {
		to, err := time.Parse(dateLayout, dateTo)
		if err != nil {
			return s.fail(c, &source.ValidationError{Field: "date_to", Message: "must be YYYY-MM-DD"})
		}
		// Inclusive of the whole day.
		to = to.Add(24*time.Hour - time.Nanosecond)
		filter.ReceivedTo = &to
	}

	ctx := c.Request().Context()
	msgs, err := s.gw.ListMessages(ctx, filter)
	if err != nil {
		return s.fail(c, err)
	}
	total, err := s.gw.CountMessages(ctx, filter)
	if err != nil {
		return s.fail(c, err)
	}

	return c.JSON(http.StatusOK, listResponse{
		Count:  len(msgs),
		Total:  total,
		Skip:   skip,
		Limit:  limit,
		Emails: nonNil(msgs),
	})
}

func (s *Server) searchEmails(c echo.Context) error {
	var q string
	limit := 20
	err := echo.QueryParamsBinder(c).
		String("q", &q).
		Int("limit", &limit).
		BindError()
	if err != nil {
		return err
	}
	if len([]rune(q)) < minQueryLen {
		return s.fail(c, &source.ValidationError{
			Field:   "q",
			Message: fmt.Sprintf("must be at least %d characters", minQueryLen),
		})
	}
	if limit < 1 || limit > maxLimit {
		return s.fail(c, &source.ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", maxLimit)})
	}

	msgs, err := s.gw.SearchMessages(c.Request().Context(), q, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, searchResponse{Count: len(msgs), Emails: nonNil(msgs)})
}

func (s *Server) emailStats(c echo.Context) error {
	stats, err := s.gw.Stats(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) syncHistory(c echo.Context) error {
	limit := 20
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return err
	}

	runs, err := s.gw.SyncHistory(c.Request().Context(), limit)
	if err != nil {
		return s.fail(c, err)
	}
	if runs == nil {
		runs = []model.SyncRun{}
	}
	return c.JSON(http.StatusOK, historyResponse{Count: len(runs), Runs: runs})
}

func (s *Server) emailDetail(c echo.Context) error {
	msg, err := s.gw.GetMessage(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *Server) attachment(c echo.Context) error {
	att, err := s.gw.GetAttachmentContent(c.Request().Context(), c.Param("id"), c.Param("attachment_id"))
	if err != nil {
		return s.fail(c, err)
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:  "success",
		Message: "Attachment retrieved successfully",
		Data: attachmentData{
			Name:        att.Name,
			ContentType: contentType,
			Size:        len(att.Content),
			Content:     base64.StdEncoding.EncodeToString(att.Content),
		},
	})
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, s.gw.Health(c.Request().Context()))
}

func (s *Server) graphHealth(c echo.Context) error {
	msg, err := s.gw.TestConnection(c.Request().Context())
	if err != nil {
		return s.fail(c, fmt.Errorf("connection to provider failed: %w", err))
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:  "ok",
		Message: msg,
		Data:    map[string]time.Time{"timestamp": s.now().UTC()},
	})
}

// fail writes err as a JSON error with a status derived from its kind.
func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case source.IsValidationError(err):
		return http.StatusBadRequest
	case gateway.IsNotFound(err), source.StatusCode(err) == http.StatusNotFound:
		return http.StatusNotFound
	case source.IsAuthError(err), source.IsRemoteAPIError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// handleError renders echo's own errors (unknown routes, bind failures) in
// the same JSON shape as handler errors.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	msg := err.Error()
	var be *echo.BindingError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &be):
		status = be.Code
		msg = fmt.Sprintf("invalid %s: %v", be.Field, be.Message)
	case errors.As(err, &he):
		status = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("unhandled error")
	}

	if err := c.JSON(status, errorResponse{Error: msg}); err != nil {
		s.logger.Error().Err(err).Msg("writing error response")
	}
}

func nonNil(msgs []model.StoredMessage) []model.StoredMessage {
	if msgs == nil {
		return []model.StoredMessage{}
	}
	return msgs
}
