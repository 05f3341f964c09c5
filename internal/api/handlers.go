package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/aixgo-dev/campaign-tracker/pkg/report"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
	"github.com/aixgo-dev/campaign-tracker/pkg/verification"
)

type listResponse struct {
	Sessions []session.Summary `json:"sessions"`
}

type verificationResponse struct {
	SessionID           string          `json:"session_id"`
	Verified            bool            `json:"verified"`
	TwitterVerified     bool            `json:"twitter_verified"`
	XiaohongshuVerified bool            `json:"xiaohongshu_verified"`
	WechatVerified      bool            `json:"wechat_verified"`
	Issues              []session.Issue `json:"issues"`
	UnpublishedTweets   []string        `json:"unpublished_tweets"`
}

type unpublishedResponse struct {
	SessionID string   `json:"session_id"`
	Count     int      `json:"count"`
	Tweets    []string `json:"tweets"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Location  string `json:"location,omitempty"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.writeError(w, r, &session.InputError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		limit = n
	}

	summaries, err := a.store.List(r.Context(), session.ListOptions{Limit: limit})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []session.Summary{}
	}
	writeJSON(w, http.StatusOK, listResponse{Sessions: summaries})
}

func (a *API) latestSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.Resolve(r.Context(), "")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeSession(w, r, sess)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.load(w, r)
	if !ok {
		return
	}
	a.writeSession(w, r, sess)
}

func (a *API) getReport(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.load(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, sess); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := report.RenderResend(&buf, sess); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) getVerification(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.load(w, r)
	if !ok {
		return
	}
	result := verification.Verify(sess)
	writeJSON(w, http.StatusOK, verificationResponse{
		SessionID:           sess.ID,
		Verified:            result.Verified(),
		TwitterVerified:     result.TwitterVerified,
		XiaohongshuVerified: result.XiaohongshuVerified,
		WechatVerified:      result.WechatVerified,
		Issues:              result.Issues,
		UnpublishedTweets:   verification.Unpublished(sess),
	})
}

func (a *API) getUnpublished(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.load(w, r)
	if !ok {
		return
	}
	tweets := verification.Unpublished(sess)
	writeJSON(w, http.StatusOK, unpublishedResponse{
		SessionID: sess.ID,
		Count:     len(tweets),
		Tweets:    tweets,
	})
}

func (a *API) load(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := a.store.Load(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (a *API) writeSession(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	data, err := session.Encode(sess)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// writeError maps store errors to status codes. Corrupt records report
// where they live so an operator can repair them.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{
		Error:     err.Error(),
		RequestID: RequestIDFromContext(r.Context()),
	}

	status := http.StatusInternalServerError
	var corrupt *session.CorruptError
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrNoSessions):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, session.ErrInvalidPathComponent):
		status = http.StatusBadRequest
	case errors.As(err, &corrupt):
		resp.Location = corrupt.Location
		resp.Field = corrupt.Field
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("request_id", resp.RequestID),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
