package shortener

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/linkgrove/linkgrove/internal/errx"
	"github.com/linkgrove/linkgrove/internal/httpx"
)

// HTTPCreateLinkRequest represents the JSON request body for shortening a URL.
type HTTPCreateLinkRequest struct {
	URL string `json:"url"`
}

// HTTPCreateGroupRequest represents the JSON request body for creating a group.
type HTTPCreateGroupRequest struct {
	Title string   `json:"title,omitempty"`
	URLs  []string `json:"urls"`
}

// LinkResponse represents the JSON response for a link.
type LinkResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ShortURL  string `json:"short_url"`
	GroupID   string `json:"group_id,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// GroupResponse represents the JSON response for a group and its children.
// Token is only populated in the creation response; it is the one-time
// secret authorizing future edits.
type GroupResponse struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Token     string         `json:"token,omitempty"`
	ShortURL  string         `json:"short_url"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
	Children  []LinkResponse `json:"children"`
}

// Handler provides HTTP handlers for the link and group endpoints.
type Handler struct {
	service Service
	logger  *zap.Logger
	baseURL string
}

// HandlerConfig holds configuration for the handler.
type HandlerConfig struct {
	Service Service
	Logger  *zap.Logger
	BaseURL string // base URL for constructing short URLs (e.g., "https://lg.example")
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Handler{
		service: cfg.Service,
		logger:  logger,
		baseURL: cfg.BaseURL,
	}
}

// CreateLink handles POST /api/v1/links.
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[HTTPCreateLinkRequest](r)
	if err != nil {
		logger.Warn("failed to decode request", zap.Error(err))
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	link, err := h.service.CreateLink(ctx, CreateLinkRequest{URL: req.URL})
	if err != nil {
		h.handleServiceError(w, logger, err)
		return
	}

	logger.Info("link created",
		zap.String("link_id", link.ID),
		zap.Bool("grouped", link.Grouped()),
	)

	httpx.WriteJSON(w, http.StatusCreated, h.linkResponse(link))
}

// CreateGroup handles POST /api/v1/groups. The response is the only place
// the group token ever appears.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	req, err := httpx.DecodeJSON[HTTPCreateGroupRequest](r)
	if err != nil {
		logger.Warn("failed to decode request", zap.Error(err))
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
		return
	}

	detail, err := h.service.CreateGroup(ctx, CreateGroupRequest{
		Title: req.Title,
		URLs:  req.URLs,
	})
	if err != nil {
		h.handleServiceError(w, logger, err)
		return
	}

	logger.Info("group created",
		zap.String("group_id", detail.Group.ID),
		zap.Int("children", len(detail.Children)),
	)

	resp := h.groupResponse(detail)
	resp.Token = detail.Group.Token
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// GetLink handles GET /api/v1/links/{id}.
func (h *Handler) GetLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	link, err := h.service.GetLink(ctx, r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.linkResponse(link))
}

// GetGroup handles GET /api/v1/groups/{id}.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	detail, err := h.service.GetGroup(ctx, r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, h.groupResponse(detail))
}

// DeleteLink handles DELETE /api/v1/links/{id}.
func (h *Handler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	id := r.PathValue("id")
	if err := h.service.DeleteLink(ctx, id); err != nil {
		h.handleServiceError(w, logger, err)
		return
	}

	logger.Info("link deleted", zap.String("link_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// Redirect handles GET /{id}: the redirect-facing entry point.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	link, err := h.service.GetLink(ctx, r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, logger, err)
		return
	}

	logger.Info("redirect",
		zap.String("link_id", link.ID),
		zap.String("url", link.URL),
	)

	http.Redirect(w, r, link.URL, http.StatusFound)
}

// handleServiceError maps a service error to a response. Invalid and
// NotFound are expected outcomes and logged at warn; everything else is
// logged at error with the operation, and the caller only ever sees the
// generic message for its kind.
func (h *Handler) handleServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := errx.KindOf(err)
	status := httpx.ErrorKindToStatus(kind)
	code := httpx.ErrorKindToCode(kind)

	fields := []zap.Field{
		zap.Error(err),
		zap.Stringer("error_kind", kind),
		zap.String("operation", errx.OpOf(err)),
	}

	switch kind {
	case errx.Invalid:
		logger.Warn("invalid request", fields...)
		httpx.WriteError(w, status, code, err.Error(), nil)

	case errx.NotFound:
		logger.Warn("resource not found", fields...)
		httpx.WriteError(w, status, code, "not found", nil)

	default:
		logger.Error("unexpected service error", fields...)
		httpx.WriteError(w, status, code,
			"unable to process the request at this time", nil)
	}
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	return h.logger.With(
		zap.String("request_id", httpx.GetRequestID(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
}

func (h *Handler) linkResponse(link Link) LinkResponse {
	resp := LinkResponse{
		ID:        link.ID,
		URL:       link.URL,
		ShortURL:  fmt.Sprintf("%s/%s", h.baseURL, link.ID),
		CreatedAt: link.CreatedAt.Format(time.RFC3339),
		UpdatedAt: link.UpdatedAt.Format(time.RFC3339),
	}
	if link.GroupID != nil {
		resp.GroupID = *link.GroupID
	}
	return resp
}

func (h *Handler) groupResponse(detail GroupDetail) GroupResponse {
	children := make([]LinkResponse, 0, len(detail.Children))
	for _, child := range detail.Children {
		children = append(children, h.linkResponse(child))
	}

	return GroupResponse{
		ID:        detail.Group.ID,
		Title:     detail.Group.Title,
		ShortURL:  fmt.Sprintf("%s/g/%s", h.baseURL, detail.Group.ID),
		CreatedAt: detail.Group.CreatedAt.Format(time.RFC3339),
		UpdatedAt: detail.Group.UpdatedAt.Format(time.RFC3339),
		Children:  children,
	}
}
