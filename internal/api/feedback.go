package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/time/rate"

	"github.com/joeblew999/plat-canopy/internal/humastar"
	"github.com/joeblew999/plat-canopy/internal/store"
)

// FeedbackHandler stores and lists user feedback. Submissions share one
// token bucket so a flood of posts cannot fill the database.
type FeedbackHandler struct {
	store   *store.Store
	limiter *rate.Limiter
}

// Feedback submissions allowed: a burst of 10, refilled one every 6s.
const (
	feedbackEvery = 6 * time.Second
	feedbackBurst = 10
)

func NewFeedbackHandler(svc *Services) *FeedbackHandler {
	return &FeedbackHandler{
		store:   svc.Store,
		limiter: rate.NewLimiter(rate.Every(feedbackEvery), feedbackBurst),
	}
}

func (h *FeedbackHandler) RegisterRoutes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-feedback",
		Method:        http.MethodPost,
		Path:          "/api/v1/feedback",
		Summary:       "Send feedback",
		Tags:          []string{"feedback"},
		DefaultStatus: http.StatusCreated,
	}, h.AddFeedback)
	huma.Get(api, "/api/v1/feedback", h.ListFeedback, huma.OperationTags("feedback"))
}

func (h *FeedbackHandler) AddFeedback(ctx context.Context, input *struct{ Body store.FeedbackInput }) (*struct{ Body store.Feedback }, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	if !h.limiter.Allow() {
		return nil, huma.Error429TooManyRequests("Too many feedback submissions, try again later")
	}
	f, err := h.store.AddFeedback(ctx, input.Body)
	if err != nil {
		return nil, humaError(err)
	}
	return &struct{ Body store.Feedback }{Body: f}, nil
}

func (h *FeedbackHandler) ListFeedback(ctx context.Context, input *struct {
	Offset int `query:"offset" minimum:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"1" maximum:"200" default:"50" doc:"Page size"`
}) (*struct{ Body humastar.PageBody[store.Feedback] }, error) {
	if h.store == nil {
		return nil, huma.Error503ServiceUnavailable("Database not available")
	}
	total, err := h.store.CountFeedback(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to count feedback", err)
	}
	items, err := h.store.ListFeedback(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("Failed to list feedback", err)
	}
	return &struct{ Body humastar.PageBody[store.Feedback] }{Body: humastar.PageBody[store.Feedback]{
		Total: total, Offset: input.Offset, Limit: input.Limit, Data: items,
	}}, nil
}
