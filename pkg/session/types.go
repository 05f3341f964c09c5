// Package session provides the campaign session record and its persistence.
// A session tracks one topic from search through engagement, distillation,
// content generation, publication and verification. Every mutation is
// persisted as a whole record through a StorageBackend.
package session

import (
	"encoding/json"
	"time"
)

// Status is the furthest workflow phase a session has reached.
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusSearched    Status = "searched"
	StatusDistilled   Status = "distilled"
	StatusVerified    Status = "verified"
)

var statusRank = map[Status]int{
	StatusInitialized: 0,
	StatusSearched:    1,
	StatusDistilled:   2,
	StatusVerified:    3,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Advance returns the later of s and next. Status never moves backwards.
func (s Status) Advance(next Status) Status {
	if statusRank[next] > statusRank[s] {
		return next
	}
	return s
}

// Platform identifies a publication target.
type Platform string

const (
	PlatformTwitter     Platform = "twitter"
	PlatformXiaohongshu Platform = "xiaohongshu"
	PlatformWechat      Platform = "wechat"
)

// Platforms lists every supported platform in report order.
var Platforms = []Platform{PlatformTwitter, PlatformXiaohongshu, PlatformWechat}

// ParsePlatform converts a string into a Platform.
func ParsePlatform(s string) (Platform, error) {
	for _, p := range Platforms {
		if string(p) == s {
			return p, nil
		}
	}
	return "", &InputError{Field: "platform", Reason: "unknown platform " + quote(s)}
}

// PublishState is the outcome of a publication attempt on a platform.
type PublishState string

const (
	PublishPending   PublishState = "pending"
	PublishPublished PublishState = "published"
	PublishPartial   PublishState = "partial"
	PublishFailed    PublishState = "failed"
	PublishDraft     PublishState = "draft"
)

// ValidFor reports whether the state is allowed for the platform.
// Twitter threads have no draft state.
func (p PublishState) ValidFor(platform Platform) bool {
	switch p {
	case PublishPending, PublishPublished, PublishPartial, PublishFailed:
		return true
	case PublishDraft:
		return platform != PlatformTwitter
	default:
		return false
	}
}

// Session is the persisted record of one campaign.
type Session struct {
	ID               string           `json:"session_id"`
	Topic            string           `json:"topic"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	Status           Status           `json:"status"`
	Search           Search           `json:"search"`
	Engagement       Engagement       `json:"engagement"`
	Distilled        Distilled        `json:"distilled"`
	GeneratedContent GeneratedContent `json:"generated_content"`
	PublishStatus    PublishStatus    `json:"publish_status"`
	Verification     Verification     `json:"verification"`
}

// Search holds the posts found during the search phase.
// Posts are opaque JSON objects supplied by the search collaborator.
type Search struct {
	Query      string            `json:"query"`
	TimeRange  string            `json:"time_range"`
	TotalFound int               `json:"total_found"`
	Posts      []json.RawMessage `json:"posts"`
}

// Engagement records which posts were selected, liked and replied to.
type Engagement struct {
	SelectedPosts  []string          `json:"selected_posts"`
	Liked          []string          `json:"liked"`
	Replied        []string          `json:"replied"`
	RepliesContent map[string]string `json:"replies_content"`
}

// Distilled is the material extracted from the search results.
type Distilled struct {
	Trends    []string          `json:"trends"`
	KeyPoints []string          `json:"key_points"`
	Quotes    []json.RawMessage `json:"quotes"`
	Summary   string            `json:"summary"`
}

// GeneratedContent holds the posts generated for each platform.
type GeneratedContent struct {
	Twitter     TwitterContent     `json:"twitter"`
	Xiaohongshu XiaohongshuContent `json:"xiaohongshu"`
	Wechat      WechatContent      `json:"wechat"`
}

// TwitterContent is a thread. TotalTweets always equals len(Thread).
type TwitterContent struct {
	Thread      []string `json:"thread"`
	TotalTweets int      `json:"total_tweets"`
}

type XiaohongshuContent struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Hashtags []string `json:"hashtags"`
}

type WechatContent struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

// PublishStatus holds the reported publication outcome per platform.
type PublishStatus struct {
	Twitter     TwitterPublishStatus `json:"twitter"`
	Xiaohongshu PagePublishStatus    `json:"xiaohongshu"`
	Wechat      PagePublishStatus    `json:"wechat"`
}

// TwitterPublishStatus tracks how much of the thread went out.
// ExpectedCount is fixed when the thread is generated.
type TwitterPublishStatus struct {
	Status         PublishState `json:"status"`
	PublishedCount int          `json:"published_count"`
	ExpectedCount  int          `json:"expected_count"`
	URLs           []string     `json:"urls"`
	Errors         []string     `json:"errors"`
}

// PagePublishStatus tracks a single-page publication such as a note or article.
type PagePublishStatus struct {
	Status PublishState `json:"status"`
	URL    string       `json:"url"`
	Errors []string     `json:"errors"`
}

// IssueKind classifies a verification discrepancy.
type IssueKind string

const (
	IssueIncomplete IssueKind = "incomplete"
	IssueStatus     IssueKind = "status"
)

// Issue is a discrepancy found by verification.
// Expected and Actual are only set for incomplete issues.
type Issue struct {
	Platform Platform  `json:"platform"`
	Kind     IssueKind `json:"type"`
	Expected *int      `json:"expected,omitempty"`
	Actual   *int      `json:"actual,omitempty"`
	Message  string    `json:"message"`
}

// Verification is the outcome of the last verification run.
// VerifiedAt is nil until the session has been verified once.
type Verification struct {
	VerifiedAt          *time.Time `json:"verified_at"`
	TwitterVerified     bool       `json:"twitter_verified"`
	XiaohongshuVerified bool       `json:"xiaohongshu_verified"`
	WechatVerified      bool       `json:"wechat_verified"`
	Issues              []Issue    `json:"issues"`
	Notes               string     `json:"notes"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID        string    `json:"session_id"`
	Topic     string    `json:"topic"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListOptions provides filtering for session listing.
type ListOptions struct {
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// New returns a session with every sub-structure in its empty form.
func New(id, topic string, now time.Time) *Session {
	s := &Session{
		ID:        id,
		Topic:     topic,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusInitialized,
		PublishStatus: PublishStatus{
			Twitter:     TwitterPublishStatus{Status: PublishPending},
			Xiaohongshu: PagePublishStatus{Status: PublishPending},
			Wechat:      PagePublishStatus{Status: PublishPending},
		},
	}
	s.normalize()
	return s
}

// Summary returns the listing view of the session.
func (s *Session) Summary() Summary {
	return Summary{ID: s.ID, Topic: s.Topic, Status: s.Status, UpdatedAt: s.UpdatedAt}
}

// Verified reports whether the session has been verified at least once.
func (s *Session) Verified() bool {
	return s.Verification.VerifiedAt != nil
}

// normalize replaces nil collections with empty ones so that lists
// always encode as [] and never as null.
func (s *Session) normalize() {
	s.Search.Posts = nonNil(s.Search.Posts)
	s.Engagement.SelectedPosts = nonNil(s.Engagement.SelectedPosts)
	s.Engagement.Liked = nonNil(s.Engagement.Liked)
	s.Engagement.Replied = nonNil(s.Engagement.Replied)
	if s.Engagement.RepliesContent == nil {
		s.Engagement.RepliesContent = map[string]string{}
	}
	s.Distilled.Trends = nonNil(s.Distilled.Trends)
	s.Distilled.KeyPoints = nonNil(s.Distilled.KeyPoints)
	s.Distilled.Quotes = nonNil(s.Distilled.Quotes)
	s.GeneratedContent.Twitter.Thread = nonNil(s.GeneratedContent.Twitter.Thread)
	s.GeneratedContent.Xiaohongshu.Hashtags = nonNil(s.GeneratedContent.Xiaohongshu.Hashtags)
	s.PublishStatus.Twitter.URLs = nonNil(s.PublishStatus.Twitter.URLs)
	s.PublishStatus.Twitter.Errors = nonNil(s.PublishStatus.Twitter.Errors)
	s.PublishStatus.Xiaohongshu.Errors = nonNil(s.PublishStatus.Xiaohongshu.Errors)
	s.PublishStatus.Wechat.Errors = nonNil(s.PublishStatus.Wechat.Errors)
	s.Verification.Issues = nonNil(s.Verification.Issues)
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
