// Package verification compares what each platform reported as published
// with what was generated for it.
//
// Recording never rejects inconsistent publish reports; Verify is the single
// place that judges them. Verify is a pure function of a session snapshot.
// Engine.Run stamps the result into the record and persists it.
package verification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/campaign-tracker/internal/observability"
	metrics "github.com/aixgo-dev/campaign-tracker/pkg/observability"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
)

// Result is the outcome of verifying one snapshot.
type Result struct {
	TwitterVerified     bool
	XiaohongshuVerified bool
	WechatVerified      bool
	// Issues are ordered twitter, xiaohongshu, wechat.
	Issues []session.Issue
}

// Verified reports whether every platform passed.
func (r Result) Verified() bool {
	return len(r.Issues) == 0
}

// Verify checks the publish status of every platform that has generated
// content. A platform with nothing generated is verified without an issue.
func Verify(s *session.Session) Result {
	r := Result{Issues: []session.Issue{}}

	if issue, ok := checkTwitter(s); ok {
		r.Issues = append(r.Issues, issue)
	}
	if issue, ok := checkXiaohongshu(s); ok {
		r.Issues = append(r.Issues, issue)
	}
	if issue, ok := checkWechat(s); ok {
		r.Issues = append(r.Issues, issue)
	}

	r.TwitterVerified = !hasIssue(r.Issues, session.PlatformTwitter)
	r.XiaohongshuVerified = !hasIssue(r.Issues, session.PlatformXiaohongshu)
	r.WechatVerified = !hasIssue(r.Issues, session.PlatformWechat)
	return r
}

func checkTwitter(s *session.Session) (session.Issue, bool) {
	tw := s.PublishStatus.Twitter
	if tw.ExpectedCount <= 0 {
		return session.Issue{}, false
	}
	if tw.PublishedCount < tw.ExpectedCount {
		expected, actual := tw.ExpectedCount, tw.PublishedCount
		return session.Issue{
			Platform: session.PlatformTwitter,
			Kind:     session.IssueIncomplete,
			Expected: &expected,
			Actual:   &actual,
			Message:  fmt.Sprintf("Twitter thread incomplete: expected %d tweets, published %d", expected, actual),
		}, true
	}
	if tw.Status != session.PublishPublished {
		return statusIssue(session.PlatformTwitter, "Twitter", tw.Status), true
	}
	return session.Issue{}, false
}

func checkXiaohongshu(s *session.Session) (session.Issue, bool) {
	if s.GeneratedContent.Xiaohongshu.Title == "" {
		return session.Issue{}, false
	}
	st := s.PublishStatus.Xiaohongshu.Status
	if st != session.PublishPublished {
		return statusIssue(session.PlatformXiaohongshu, "Xiaohongshu", st), true
	}
	return session.Issue{}, false
}

func checkWechat(s *session.Session) (session.Issue, bool) {
	if s.GeneratedContent.Wechat.Title == "" {
		return session.Issue{}, false
	}
	switch st := s.PublishStatus.Wechat.Status; st {
	case session.PublishPublished, session.PublishDraft:
		return session.Issue{}, false
	default:
		return statusIssue(session.PlatformWechat, "WeChat", st), true
	}
}

func statusIssue(p session.Platform, label string, st session.PublishState) session.Issue {
	return session.Issue{
		Platform: p,
		Kind:     session.IssueStatus,
		Message:  fmt.Sprintf("%s status: %s", label, st),
	}
}

func hasIssue(issues []session.Issue, p session.Platform) bool {
	for _, i := range issues {
		if i.Platform == p {
			return true
		}
	}
	return false
}

// Unpublished returns the tweets of the generated thread beyond the
// reported published count, in thread order.
func Unpublished(s *session.Session) []string {
	thread := s.GeneratedContent.Twitter.Thread
	n := s.PublishStatus.Twitter.PublishedCount
	if n < 0 {
		n = 0
	}
	if n >= len(thread) {
		return []string{}
	}
	out := make([]string, len(thread)-n)
	copy(out, thread[n:])
	return out
}

// Engine runs verification and persists the outcome.
type Engine struct {
	store  *session.Store
	now    func() time.Time
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source for verified_at.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger used for verification events.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine writing through store.
func NewEngine(store *session.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run verifies s, replaces its verification block, marks it verified and
// saves it. s is updated only when the save succeeds. A session that is
// still being recorded through a tracker.Tracker must be verified with
// Tracker.Verify, or the tracker's next save writes back its older copy.
func (e *Engine) Run(ctx context.Context, s *session.Session) (session.Verification, error) {
	ctx, span := observability.StartSpanWithContext(ctx, "verification.run", map[string]any{"session_id": s.ID})
	defer span.End()

	result := Verify(s)
	verifiedAt := e.now().UTC()

	next := s.Clone()
	next.Verification = session.Verification{
		VerifiedAt:          &verifiedAt,
		TwitterVerified:     result.TwitterVerified,
		XiaohongshuVerified: result.XiaohongshuVerified,
		WechatVerified:      result.WechatVerified,
		Issues:              result.Issues,
		Notes:               "",
	}
	next.Status = next.Status.Advance(session.StatusVerified)

	if err := e.store.Save(ctx, next); err != nil {
		span.SetError(err)
		return session.Verification{}, fmt.Errorf("save verification: %w", err)
	}
	*s = *next

	for _, issue := range result.Issues {
		metrics.RecordVerificationIssue(string(issue.Platform), string(issue.Kind))
	}
	outcome := "verified"
	if !result.Verified() {
		outcome = "issues"
	}
	metrics.RecordVerificationRun(outcome)
	span.SetAttribute("issues", len(result.Issues))

	e.logger.Info("session verified",
		zap.String("session_id", s.ID),
		zap.Int("issues", len(result.Issues)),
		zap.Bool("twitter", result.TwitterVerified),
		zap.Bool("xiaohongshu", result.XiaohongshuVerified),
		zap.Bool("wechat", result.WechatVerified),
	)
	return s.Verification, nil
}

// Outcome is the result of verifying one session in RunAll.
type Outcome struct {
	SessionID    string
	Session      *session.Session
	Verification session.Verification
	Err          error
}

// RunAll verifies every listed session with at most concurrency runs in
// flight. Per-session failures are reported in the outcome, not returned.
func (e *Engine) RunAll(ctx context.Context, ids []string, concurrency int) []Outcome {
	if concurrency <= 0 {
		concurrency = 4
	}
	outcomes := make([]Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i].SessionID = id
			sess, err := e.store.Load(gctx, id)
			if err != nil {
				outcomes[i].Err = err
				return nil
			}
			v, err := e.Run(gctx, sess)
			outcomes[i].Session = sess
			outcomes[i].Verification = v
			outcomes[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
