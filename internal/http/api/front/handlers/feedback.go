package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/http/api/middleware"
	"github.com/router-for-me/QuotaLedger/internal/http/api/response"
	"github.com/router-for-me/QuotaLedger/internal/trail"
)

const maxFeedbackLen = 4000

// FeedbackHandler accepts user feedback.
type FeedbackHandler struct {
	trail *trail.Recorder
}

// NewFeedbackHandler constructs a FeedbackHandler.
func NewFeedbackHandler(recorder *trail.Recorder) *FeedbackHandler {
	return &FeedbackHandler{trail: recorder}
}

type feedbackRequest struct {
	AccountID uint64 `json:"account_id"`
	Mode      string `json:"mode"`
	Text      string `json:"text"`
}

// Create stores the feedback; write failures are logged, not surfaced.
func (h *FeedbackHandler) Create(c *gin.Context) {
	var req feedbackRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	text := strings.TrimSpace(req.Text)
	switch {
	case req.AccountID == 0:
		response.BadRequest(c, "account_id is required")
		return
	case text == "":
		response.BadRequest(c, "text is required")
		return
	case len(text) > maxFeedbackLen:
		response.BadRequest(c, "text is too long")
		return
	}
	h.trail.LogFeedback(c.Request.Context(), req.AccountID, strings.TrimSpace(req.Mode), text, middleware.RequestIDFrom(c))
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}
