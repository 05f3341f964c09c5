// Package tracker records the outcome of each campaign phase on a session.
//
// A Tracker owns one in-memory session and writes the whole record through
// the session store after every mutation. Inputs are validated before
// anything changes; a rejected input or a failed save leaves both the
// in-memory and the persisted record as they were.
//
// Writers must not share a session: one driver process per session at a
// time. Trackers for different sessions may run concurrently.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/aixgo-dev/campaign-tracker/internal/observability"
	metrics "github.com/aixgo-dev/campaign-tracker/pkg/observability"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
)

// Phase names used for logging and metrics.
const (
	PhaseSearch     = "search"
	PhaseEngagement = "engagement"
	PhaseDistill    = "distill"
	PhaseGenerate   = "generate"
	PhasePublish    = "publish"
)

// Tracker applies phase results to a single session.
type Tracker struct {
	store  *session.Store
	sess   *session.Session
	logger *zap.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for phase events.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// New wraps an already loaded session.
func New(store *session.Store, sess *session.Session, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		sess:   sess,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("session_id", sess.ID))
	return t
}

// Start creates a new session for topic.
func Start(ctx context.Context, store *session.Store, topic string, opts ...Option) (*Tracker, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, &session.InputError{Field: "topic", Reason: "must not be empty"}
	}
	sess, err := store.Create(ctx, topic)
	if err != nil {
		return nil, err
	}
	return New(store, sess, opts...), nil
}

// Open loads sessionID, or the most recently updated session when it is empty.
func Open(ctx context.Context, store *session.Store, sessionID string, opts ...Option) (*Tracker, error) {
	sess, err := store.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return New(store, sess, opts...), nil
}

// ID returns the session ID.
func (t *Tracker) ID() string {
	return t.sess.ID
}

// Session returns a copy of the current record.
func (t *Tracker) Session() *session.Session {
	return t.sess.Clone()
}

// Verifier judges a session, stamps the result into it and persists it,
// updating s only when the save succeeds. *verification.Engine is one.
type Verifier interface {
	Run(ctx context.Context, s *session.Session) (session.Verification, error)
}

// Verify runs v on the tracker's record and adopts the saved result.
// Phase records made afterwards carry the verification block and the
// verified status forward instead of writing back an older copy.
func (t *Tracker) Verify(ctx context.Context, v Verifier) (session.Verification, error) {
	next := t.sess.Clone()
	result, err := v.Run(ctx, next)
	if err != nil {
		return session.Verification{}, err
	}
	t.sess = next
	return result, nil
}

// apply runs fn on a copy of the record and persists the copy when fn
// reports a change. The copy replaces the in-memory record only once saved.
func (t *Tracker) apply(ctx context.Context, phase string, attrs map[string]any, fn func(s *session.Session) bool) error {
	if attrs == nil {
		attrs = map[string]any{}
	}
	attrs["session_id"] = t.sess.ID
	ctx, span := observability.StartSpanWithContext(ctx, "tracker."+phase, attrs)
	defer span.End()

	next := t.sess.Clone()
	if !fn(next) {
		metrics.RecordPhase(phase, "unchanged")
		return nil
	}

	if err := t.store.Save(ctx, next); err != nil {
		span.SetError(err)
		metrics.RecordPhase(phase, "error")
		return fmt.Errorf("record %s: %w", phase, err)
	}

	t.sess = next
	metrics.RecordPhase(phase, "ok")
	return nil
}

func rejected(phase string, err error) error {
	metrics.RecordPhase(phase, "invalid")
	return err
}

// RecordSearch replaces the search results. total_found always equals the
// number of posts; earlier results are discarded, not merged.
func (t *Tracker) RecordSearch(ctx context.Context, query, timeRange string, posts []json.RawMessage) error {
	clean, err := normalizeObjects("posts", posts)
	if err != nil {
		return rejected(PhaseSearch, err)
	}

	err = t.apply(ctx, PhaseSearch, map[string]any{"posts": len(clean)}, func(s *session.Session) bool {
		s.Search = session.Search{
			Query:      query,
			TimeRange:  timeRange,
			TotalFound: len(clean),
			Posts:      clean,
		}
		s.Status = s.Status.Advance(session.StatusSearched)
		return true
	})
	if err != nil {
		return err
	}
	t.logger.Info("search recorded", zap.String("query", query), zap.Int("posts", len(clean)))
	return nil
}

// SelectForEngagement replaces the list of posts chosen for engagement.
// Blank and repeated IDs are dropped.
func (t *Tracker) SelectForEngagement(ctx context.Context, postIDs []string) error {
	ids := uniqueIDs(postIDs)

	err := t.apply(ctx, PhaseEngagement, map[string]any{"action": "select", "posts": len(ids)}, func(s *session.Session) bool {
		s.Engagement.SelectedPosts = ids
		return true
	})
	if err != nil {
		return err
	}
	t.logger.Info("engagement selection recorded", zap.Int("posts", len(ids)))
	return nil
}

// RecordLike adds postID to the liked set. Liking the same post again is a no-op.
func (t *Tracker) RecordLike(ctx context.Context, postID string) error {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return rejected(PhaseEngagement, &session.InputError{Field: "post_id", Reason: "must not be empty"})
	}

	return t.apply(ctx, PhaseEngagement, map[string]any{"action": "like"}, func(s *session.Session) bool {
		if slices.Contains(s.Engagement.Liked, postID) {
			return false
		}
		s.Engagement.Liked = append(s.Engagement.Liked, postID)
		return true
	})
}

// RecordReply adds postID to the replied set and stores the latest reply text for it.
func (t *Tracker) RecordReply(ctx context.Context, postID, text string) error {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return rejected(PhaseEngagement, &session.InputError{Field: "post_id", Reason: "must not be empty"})
	}

	return t.apply(ctx, PhaseEngagement, map[string]any{"action": "reply"}, func(s *session.Session) bool {
		prev, seen := s.Engagement.RepliesContent[postID]
		inSet := slices.Contains(s.Engagement.Replied, postID)
		if inSet && seen && prev == text {
			return false
		}
		if !inSet {
			s.Engagement.Replied = append(s.Engagement.Replied, postID)
		}
		s.Engagement.RepliesContent[postID] = text
		return true
	})
}

// RecordDistilled replaces the distilled material as a whole.
func (t *Tracker) RecordDistilled(ctx context.Context, d session.Distilled) error {
	quotes, err := normalizeValues("quotes", d.Quotes)
	if err != nil {
		return rejected(PhaseDistill, err)
	}

	distilled := session.Distilled{
		Trends:    slices.Clone(d.Trends),
		KeyPoints: slices.Clone(d.KeyPoints),
		Quotes:    quotes,
		Summary:   d.Summary,
	}

	err = t.apply(ctx, PhaseDistill, map[string]any{"trends": len(d.Trends), "key_points": len(d.KeyPoints)}, func(s *session.Session) bool {
		s.Distilled = distilled
		s.Status = s.Status.Advance(session.StatusDistilled)
		return true
	})
	if err != nil {
		return err
	}
	t.logger.Info("distilled content recorded", zap.Int("trends", len(d.Trends)), zap.Int("key_points", len(d.KeyPoints)))
	return nil
}

// RecordTwitterContent replaces the generated thread and fixes the number
// of tweets publication is expected to deliver.
func (t *Tracker) RecordTwitterContent(ctx context.Context, thread []string) error {
	thread = slices.Clone(thread)

	err := t.apply(ctx, PhaseGenerate, map[string]any{"platform": string(session.PlatformTwitter)}, func(s *session.Session) bool {
		s.GeneratedContent.Twitter = session.TwitterContent{
			Thread:      thread,
			TotalTweets: len(thread),
		}
		s.PublishStatus.Twitter.ExpectedCount = len(thread)
		return true
	})
	if err != nil {
		return err
	}
	t.logger.Info("twitter thread recorded", zap.Int("tweets", len(thread)))
	return nil
}

// RecordXiaohongshuContent replaces the generated Xiaohongshu note.
func (t *Tracker) RecordXiaohongshuContent(ctx context.Context, title, content string, hashtags []string) error {
	hashtags = slices.Clone(hashtags)

	err := t.apply(ctx, PhaseGenerate, map[string]any{"platform": string(session.PlatformXiaohongshu)}, func(s *session.Session) bool {
		s.GeneratedContent.Xiaohongshu = session.XiaohongshuContent{
			Title:    title,
			Content:  content,
			Hashtags: hashtags,
		}
		return true
	})
	if err != nil {
		return err
	}
	t.logger.Info("xiaohongshu note recorded", zap.String("title", title))
	return nil
}

// RecordWechatContent replaces the generated WeChat article.
func (t *Tracker) RecordWechatContent(ctx context.Context, title, content, summary string) error {
	err := t.apply(ctx, PhaseGenerate, map[string]any{"platform": string(session.PlatformWechat)}, func(s *session.Session) bool {
		s.GeneratedContent.Wechat = session.WechatContent{
			Title:   title,
			Content: content,
			Summary: summary,
		}
		return true
	})
	if err != nil {
		return err
	}
	t.logger.Info("wechat article recorded", zap.String("title", title))
	return nil
}

// TwitterPublish is a publication report for the Twitter thread.
type TwitterPublish struct {
	Status session.PublishState
	// Count is the number of tweets reported as posted. It replaces any
	// earlier count rather than adding to it.
	Count int
	// URLs replace the stored URLs when non-empty.
	URLs []string
	// Error is appended to the error history when non-empty.
	Error string
}

// PagePublish is a publication report for a single-page platform.
type PagePublish struct {
	Status session.PublishState
	URL    string
	Error  string
}

// RecordTwitterPublish stores a Twitter publication report. Counts are not
// checked against the expected thread length; verification judges them.
func (t *Tracker) RecordTwitterPublish(ctx context.Context, p TwitterPublish) error {
	if !p.Status.ValidFor(session.PlatformTwitter) {
		return rejected(PhasePublish, &session.InputError{Field: "status", Reason: fmt.Sprintf("%q is not a twitter publish status", p.Status)})
	}
	if p.Count < 0 {
		return rejected(PhasePublish, &session.InputError{Field: "count", Reason: "must not be negative"})
	}
	urls := slices.Clone(p.URLs)

	err := t.apply(ctx, PhasePublish, map[string]any{"platform": string(session.PlatformTwitter), "status": string(p.Status)}, func(s *session.Session) bool {
		tw := &s.PublishStatus.Twitter
		tw.Status = p.Status
		tw.PublishedCount = p.Count
		if len(urls) > 0 {
			tw.URLs = urls
		}
		if p.Error != "" {
			tw.Errors = append(tw.Errors, p.Error)
		}
		return true
	})
	if err != nil {
		return err
	}
	t.logger.Info("twitter publish recorded", zap.String("status", string(p.Status)), zap.Int("count", p.Count))
	return nil
}

// RecordXiaohongshuPublish stores a Xiaohongshu publication report.
func (t *Tracker) RecordXiaohongshuPublish(ctx context.Context, p PagePublish) error {
	return t.recordPagePublish(ctx, session.PlatformXiaohongshu, p)
}

// RecordWechatPublish stores a WeChat publication report.
func (t *Tracker) RecordWechatPublish(ctx context.Context, p PagePublish) error {
	return t.recordPagePublish(ctx, session.PlatformWechat, p)
}

func (t *Tracker) recordPagePublish(ctx context.Context, platform session.Platform, p PagePublish) error {
	if !p.Status.ValidFor(platform) {
		return rejected(PhasePublish, &session.InputError{Field: "status", Reason: fmt.Sprintf("%q is not a %s publish status", p.Status, platform)})
	}

	err := t.apply(ctx, PhasePublish, map[string]any{"platform": string(platform), "status": string(p.Status)}, func(s *session.Session) bool {
		page := &s.PublishStatus.Xiaohongshu
		if platform == session.PlatformWechat {
			page = &s.PublishStatus.Wechat
		}
		page.Status = p.Status
		page.URL = p.URL
		if p.Error != "" {
			page.Errors = append(page.Errors, p.Error)
		}
		return true
	})
	if err != nil {
		return err
	}
	t.logger.Info("publish recorded", zap.String("platform", string(platform)), zap.String("status", string(p.Status)))
	return nil
}

// RecordPublish dispatches a generic publication report to the platform's
// recorder. Count and URL only apply where the platform tracks them.
func (t *Tracker) RecordPublish(ctx context.Context, platform session.Platform, status session.PublishState, url string, count int, errMsg string) error {
	switch platform {
	case session.PlatformTwitter:
		var urls []string
		if url != "" {
			urls = []string{url}
		}
		return t.RecordTwitterPublish(ctx, TwitterPublish{Status: status, Count: count, URLs: urls, Error: errMsg})
	case session.PlatformXiaohongshu:
		return t.RecordXiaohongshuPublish(ctx, PagePublish{Status: status, URL: url, Error: errMsg})
	case session.PlatformWechat:
		return t.RecordWechatPublish(ctx, PagePublish{Status: status, URL: url, Error: errMsg})
	default:
		return rejected(PhasePublish, &session.InputError{Field: "platform", Reason: fmt.Sprintf("unknown platform %q", platform)})
	}
}
