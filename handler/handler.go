package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"secure-messaging/internal/domain"
	"secure-messaging/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerUserID        = "X-User-Id"
)

// Messaging is the slice of usecase.Service exposed over API Gateway.
type Messaging interface {
	GetOrCreateConversation(ctx context.Context, x, y string) (domain.Conversation, error)
	FindConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID string, q domain.ConversationQuery) ([]domain.Conversation, error)
	UpdateHandshake(ctx context.Context, conversationID string, update domain.HandshakeUpdate) (domain.Conversation, error)
	DeactivateConversation(ctx context.Context, conversationID string) (domain.Conversation, error)
	SendMessage(ctx context.Context, conversationID, senderID, recipientID string, env domain.Envelope) (domain.Message, error)
	GetMessage(ctx context.Context, messageID string) (domain.Message, error)
	AcknowledgeDelivery(ctx context.Context, messageID string) (domain.Message, error)
	AcknowledgeRead(ctx context.Context, messageID string) (domain.Message, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string) error
	ListMessages(ctx context.Context, conversationID string, q domain.MessageQuery) ([]domain.Message, error)
}

// Handler adapts API Gateway proxy events to messaging operations. The
// caller identity comes from the X-User-Id header, which the upstream
// authorizer sets after authenticating the request.
type Handler struct {
	svc    Messaging
	logger *slog.Logger
}

func NewHandler(svc Messaging, logger *slog.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: messaging service must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}, nil
}

type request struct {
	events.APIGatewayProxyRequest
	userID string
	parts  []string
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(event.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID, "method", event.HTTPMethod, "path", event.Path)

	req := request{
		APIGatewayProxyRequest: event,
		userID:                 header(event.Headers, headerUserID),
		parts:                  strings.Split(strings.Trim(event.Path, "/"), "/"),
	}

	status, body := h.route(ctx, req)
	if status >= http.StatusBadRequest {
		if e, ok := body.(errorResponse); ok {
			logger.WarnContext(ctx, "request failed", "status", status, "code", e.Error, "reason", e.Reason)
		}
	}
	return respond(status, body, correlationID), nil
}

func (h *Handler) route(ctx context.Context, req request) (int, any) {
	if req.userID == "" {
		return errorBody(http.StatusUnauthorized, "UNAUTHENTICATED", "missing_user_id")
	}
	p := req.parts
	switch {
	case match(p, "conversations"):
		switch req.HTTPMethod {
		case http.MethodPost:
			return h.createConversation(ctx, req)
		case http.MethodGet:
			return h.listConversations(ctx, req)
		}
	case match(p, "conversations", "*"):
		if req.HTTPMethod == http.MethodGet {
			return conversationResult(h.svc.FindConversation(ctx, p[1]))
		}
	case match(p, "conversations", "*", "handshake"):
		if req.HTTPMethod == http.MethodPatch {
			return h.updateHandshake(ctx, req, p[1])
		}
	case match(p, "conversations", "*", "deactivate"):
		if req.HTTPMethod == http.MethodPost {
			return conversationResult(h.svc.DeactivateConversation(ctx, p[1]))
		}
	case match(p, "conversations", "*", "messages"):
		switch req.HTTPMethod {
		case http.MethodPost:
			return h.sendMessage(ctx, req, p[1])
		case http.MethodGet:
			return h.listMessages(ctx, req, p[1])
		}
	case match(p, "messages", "*"):
		switch req.HTTPMethod {
		case http.MethodGet:
			return messageResult(h.svc.GetMessage(ctx, p[1]))
		case http.MethodDelete:
			if err := h.svc.DeleteMessage(ctx, p[1], req.userID); err != nil {
				return fromError(err)
			}
			return http.StatusNoContent, nil
		}
	case match(p, "messages", "*", "delivered"):
		if req.HTTPMethod == http.MethodPost {
			return messageResult(h.svc.AcknowledgeDelivery(ctx, p[1]))
		}
	case match(p, "messages", "*", "read"):
		if req.HTTPMethod == http.MethodPost {
			return messageResult(h.svc.AcknowledgeRead(ctx, p[1]))
		}
	default:
		return errorBody(http.StatusNotFound, "NOT_FOUND", "unknown_route")
	}
	return errorBody(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "unsupported_method")
}

func (h *Handler) createConversation(ctx context.Context, req request) (int, any) {
	var body createConversationRequest
	if err := decode(req.Body, &body); err != nil {
		return errorBody(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body")
	}
	return conversationResult(h.svc.GetOrCreateConversation(ctx, req.userID, body.ParticipantID))
}

func (h *Handler) listConversations(ctx context.Context, req request) (int, any) {
	page, err := pageParams(req.QueryStringParameters)
	if err != nil {
		return errorBody(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_page")
	}
	convs, err := h.svc.ListConversations(ctx, req.userID, domain.ConversationQuery{
		Page:            page,
		IncludeInactive: req.QueryStringParameters["includeInactive"] == "true",
	})
	if err != nil {
		return fromError(err)
	}
	out := listResponse[conversationResponse]{Page: page.Page, Limit: page.Limit, Items: make([]conversationResponse, 0, len(convs))}
	for _, conv := range convs {
		out.Items = append(out.Items, toConversation(conv))
	}
	return http.StatusOK, out
}

func (h *Handler) updateHandshake(ctx context.Context, req request, conversationID string) (int, any) {
	var body handshakeRequest
	if err := decode(req.Body, &body); err != nil {
		return errorBody(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body")
	}
	return conversationResult(h.svc.UpdateHandshake(ctx, conversationID, domain.HandshakeUpdate{
		PublicKeys:           body.PublicKeys,
		Algorithm:            body.Algorithm,
		KeyVersion:           body.KeyVersion,
		KeyExchangeCompleted: body.KeyExchangeCompleted,
	}))
}

func (h *Handler) sendMessage(ctx context.Context, req request, conversationID string) (int, any) {
	var body sendMessageRequest
	if err := decode(req.Body, &body); err != nil {
		return errorBody(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_body")
	}
	msg, err := h.svc.SendMessage(ctx, conversationID, req.userID, body.RecipientID, body.envelope())
	if err != nil {
		return fromError(err)
	}
	return http.StatusCreated, toMessage(msg)
}

func (h *Handler) listMessages(ctx context.Context, req request, conversationID string) (int, any) {
	page, err := pageParams(req.QueryStringParameters)
	if err != nil {
		return errorBody(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "invalid_page")
	}
	msgs, err := h.svc.ListMessages(ctx, conversationID, domain.MessageQuery{
		Page:           page,
		IncludeDeleted: req.QueryStringParameters["includeDeleted"] == "true",
		Descending:     req.QueryStringParameters["order"] == "desc",
	})
	if err != nil {
		return fromError(err)
	}
	out := listResponse[messageResponse]{Page: page.Page, Limit: page.Limit, Items: make([]messageResponse, 0, len(msgs))}
	for _, msg := range msgs {
		out.Items = append(out.Items, toMessage(msg))
	}
	return http.StatusOK, out
}

func conversationResult(conv domain.Conversation, err error) (int, any) {
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, toConversation(conv)
}

func messageResult(msg domain.Message, err error) (int, any) {
	if err != nil {
		return fromError(err)
	}
	return http.StatusOK, toMessage(msg)
}

func fromError(err error) (int, any) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return errorBody(http.StatusInternalServerError, "INTERNAL_ERROR", "unexpected")
	}
	return errorBody(statusFor(ucErr.Code), string(ucErr.Code), ucErr.Reason)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidParticipants, usecase.ErrorInvalidEnvelope:
		return http.StatusBadRequest
	case usecase.ErrorConversationNotFound, usecase.ErrorMessageNotFound:
		return http.StatusNotFound
	case usecase.ErrorNotAParticipant, usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorBody(status int, code, reason string) (int, any) {
	return status, errorResponse{Error: code, Reason: reason}
}

func respond(status int, body any, correlationID string) events.APIGatewayProxyResponse {
	headers := map[string]string{
		"Content-Type":      "application/json",
		headerCorrelationID: correlationID,
	}
	if body == nil {
		return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers}
	}
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR","reason":"encode_response"}`)
	}
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: headers, Body: string(b)}
}

func decode(body string, v any) error {
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pageParams(q map[string]string) (domain.Page, error) {
	var page domain.Page
	var err error
	if raw := q["page"]; raw != "" {
		if page.Page, err = strconv.Atoi(raw); err != nil || page.Page < 1 || page.Page > domain.MaxPage {
			return domain.Page{}, errors.New("handler: invalid page")
		}
	}
	if raw := q["limit"]; raw != "" {
		if page.Limit, err = strconv.Atoi(raw); err != nil || page.Limit < 1 {
			return domain.Page{}, errors.New("handler: invalid limit")
		}
	}
	return page.Normalize(domain.DefaultPageLimit, domain.MaxPageLimit), nil
}

// match compares path segments; "*" matches any non-empty segment.
func match(parts []string, pattern ...string) bool {
	if len(parts) != len(pattern) {
		return false
	}
	for i, seg := range pattern {
		if parts[i] == "" || (seg != "*" && parts[i] != seg) {
			return false
		}
	}
	return true
}

// header looks up a header case-insensitively.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
