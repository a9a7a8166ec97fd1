package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/mailgate/internal/graph"
	"github.com/teemow/mailgate/internal/logging"
	"github.com/teemow/mailgate/internal/mailerr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error      string `json:"error"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"status_code"`
}

// UserResponse is the body of GET /api/v1/user.
type UserResponse struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	Email             string `json:"email"`
	UserPrincipalName string `json:"user_principal_name"`
	TenantID          string `json:"tenant_id"`
}

// AddressResponse is a named mailbox.
type AddressResponse struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// MessageResponse is one inbox entry.
type MessageResponse struct {
	ID         string          `json:"id"`
	From       AddressResponse `json:"from"`
	Subject    string          `json:"subject"`
	ReceivedAt time.Time       `json:"received_at"`
	Preview    string          `json:"preview"`
	IsRead     bool            `json:"is_read"`
}

// InboxResponse is the body of GET /api/v1/emails/inbox.
type InboxResponse struct {
	Messages   []MessageResponse `json:"messages"`
	TotalCount int               `json:"total_count"`
	HasMore    bool              `json:"has_more"`
}

// SendRequest is the body of POST /api/v1/emails/send.
type SendRequest struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	BodyType  string `json:"body_type"`
}

// SendResponse acknowledges an accepted message.
type SendResponse struct {
	Status  string `json:"status"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TokenResponse is the body of GET /api/v1/auth/token.
type TokenResponse struct {
	HasValidToken bool       `json:"has_valid_token"`
	Scopes        []string   `json:"scopes"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	TenantID      string     `json:"tenant_id"`
	Refreshable   bool       `json:"refreshable"`
}

func (s *APIServer) handleUser(w http.ResponseWriter, r *http.Request) {
	profile, err := s.serverContext.Mail().GetProfile(r.Context())
	if err != nil {
		s.fail(w, r, "get_user", err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{
		ID:                profile.ID,
		DisplayName:       profile.DisplayName,
		Email:             profile.Email,
		UserPrincipalName: profile.UserPrincipalName,
		TenantID:          profile.TenantID,
	})
}

func (s *APIServer) handleInbox(w http.ResponseWriter, r *http.Request) {
	limit := DefaultInboxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			msg := fmt.Sprintf("limit must be an integer between 1 and %d", s.serverContext.Mail().MaxInboxLimit())
			s.fail(w, r, "list_inbox", mailerr.Wrap(mailerr.KindInvalidArgument, msg, err))
			return
		}
		limit = parsed
	}

	inbox, err := s.serverContext.Mail().ListInbox(r.Context(), limit)
	if err != nil {
		s.fail(w, r, "list_inbox", err)
		return
	}

	messages := make([]MessageResponse, 0, len(inbox.Messages))
	for _, m := range inbox.Messages {
		messages = append(messages, MessageResponse{
			ID:         m.ID,
			From:       AddressResponse{Name: m.From.Name, Address: m.From.Address},
			Subject:    m.Subject,
			ReceivedAt: m.ReceivedAt,
			Preview:    m.Preview,
			IsRead:     m.IsRead,
		})
	}

	writeJSON(w, http.StatusOK, InboxResponse{
		Messages:   messages,
		TotalCount: len(messages),
		HasMore:    inbox.HasMore,
	})
}

func (s *APIServer) handleSend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = mailerr.Wrap(mailerr.KindValidation, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), err)
		} else {
			err = mailerr.Wrap(mailerr.KindValidation, "request body must be a JSON object", err)
		}
		s.fail(w, r, "send", err)
		return
	}

	recipient := strings.TrimSpace(req.Recipient)
	err := s.serverContext.Mail().Send(r.Context(), graph.OutboundMessage{
		Recipient: recipient,
		Subject:   req.Subject,
		Body:      req.Body,
		BodyKind:  graph.BodyKind(req.BodyType),
	})
	if err != nil {
		s.fail(w, r, "send", err)
		return
	}

	writeJSON(w, http.StatusOK, SendResponse{
		Status:  "sent",
		Success: true,
		Message: "Email sent successfully to " + recipient,
	})
}

func (s *APIServer) handleToken(w http.ResponseWriter, r *http.Request) {
	session, err := s.serverContext.Sessions().Session()
	if err != nil {
		s.fail(w, r, "token_info", err)
		return
	}

	info := session.TokenInfo()
	resp := TokenResponse{
		HasValidToken: info.HasValidToken,
		Scopes:        info.Scopes,
		TenantID:      info.TenantID,
		Refreshable:   info.Refreshable,
	}
	if !info.ExpiresAt.IsZero() {
		expiresAt := info.ExpiresAt.UTC()
		resp.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// fail logs err and writes it as an ErrorResponse.
func (s *APIServer) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	kind := mailerr.KindOf(err)
	level := slog.LevelInfo
	if mailerr.HTTPStatus(kind) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.WithOperation(s.logger, operation).LogAttrs(r.Context(), level, "request failed",
		logging.RequestID(RequestIDFromContext(r.Context())),
		logging.ErrorKind(string(kind)),
		logging.Err(err),
	)
	writeError(w, err)
}

// writeError maps err to its status code and JSON body.
func writeError(w http.ResponseWriter, err error) {
	kind := mailerr.KindOf(err)
	status := mailerr.HTTPStatus(kind)
	writeJSON(w, status, ErrorResponse{
		Error:      string(kind),
		Detail:     mailerr.MessageOf(err),
		StatusCode: status,
	})
}
