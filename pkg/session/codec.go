package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Encode serializes a session as indented JSON.
func Encode(s *Session) ([]byte, error) {
	s.normalize()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// Decode parses a stored record. Any failure is reported as a *CorruptError
// naming the location and, where possible, the offending field.
func Decode(data []byte, sessionID, location string) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		cerr := &CorruptError{SessionID: sessionID, Location: location, Err: err}
		var typeErr *json.UnmarshalTypeError
		var syntaxErr *json.SyntaxError
		switch {
		case errors.As(err, &typeErr):
			cerr.Field = typeErr.Field
		case errors.As(err, &syntaxErr):
			cerr.Field = fmt.Sprintf("(offset %d)", syntaxErr.Offset)
		}
		return nil, cerr
	}
	if field, err := s.check(sessionID); err != nil {
		return nil, &CorruptError{SessionID: sessionID, Location: location, Field: field, Err: err}
	}
	s.Search.Posts = compactRaw(s.Search.Posts)
	s.Distilled.Quotes = compactRaw(s.Distilled.Quotes)
	s.normalize()
	return &s, nil
}

// compactRaw strips the indentation Encode adds inside opaque values so that
// a decoded record compares equal to the one that was saved.
func compactRaw(in []json.RawMessage) []json.RawMessage {
	for i, m := range in {
		var buf bytes.Buffer
		if err := json.Compact(&buf, m); err == nil {
			in[i] = buf.Bytes()
		}
	}
	return in
}

// check validates a decoded record against the schema rules that a write
// through this package always maintains.
func (s *Session) check(sessionID string) (string, error) {
	switch {
	case s.ID == "":
		return "session_id", errors.New("missing")
	case sessionID != "" && s.ID != sessionID:
		return "session_id", fmt.Errorf("record holds %q", s.ID)
	case !s.Status.Valid():
		return "status", fmt.Errorf("unknown status %q", s.Status)
	case s.Search.TotalFound != len(s.Search.Posts):
		return "search.total_found", fmt.Errorf("%d does not match %d posts", s.Search.TotalFound, len(s.Search.Posts))
	case s.GeneratedContent.Twitter.TotalTweets != len(s.GeneratedContent.Twitter.Thread):
		return "generated_content.twitter.total_tweets", fmt.Errorf("%d does not match %d tweets",
			s.GeneratedContent.Twitter.TotalTweets, len(s.GeneratedContent.Twitter.Thread))
	}
	states := []struct {
		field    string
		platform Platform
		state    PublishState
	}{
		{"publish_status.twitter.status", PlatformTwitter, s.PublishStatus.Twitter.Status},
		{"publish_status.xiaohongshu.status", PlatformXiaohongshu, s.PublishStatus.Xiaohongshu.Status},
		{"publish_status.wechat.status", PlatformWechat, s.PublishStatus.Wechat.Status},
	}
	for _, st := range states {
		if !st.state.ValidFor(st.platform) {
			return st.field, fmt.Errorf("unknown status %q", st.state)
		}
	}
	return "", nil
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Search.Posts = cloneRaw(s.Search.Posts)
	c.Engagement.SelectedPosts = slices.Clone(s.Engagement.SelectedPosts)
	c.Engagement.Liked = slices.Clone(s.Engagement.Liked)
	c.Engagement.Replied = slices.Clone(s.Engagement.Replied)
	c.Engagement.RepliesContent = maps.Clone(s.Engagement.RepliesContent)
	c.Distilled.Trends = slices.Clone(s.Distilled.Trends)
	c.Distilled.KeyPoints = slices.Clone(s.Distilled.KeyPoints)
	c.Distilled.Quotes = cloneRaw(s.Distilled.Quotes)
	c.GeneratedContent.Twitter.Thread = slices.Clone(s.GeneratedContent.Twitter.Thread)
	c.GeneratedContent.Xiaohongshu.Hashtags = slices.Clone(s.GeneratedContent.Xiaohongshu.Hashtags)
	c.PublishStatus.Twitter.URLs = slices.Clone(s.PublishStatus.Twitter.URLs)
	c.PublishStatus.Twitter.Errors = slices.Clone(s.PublishStatus.Twitter.Errors)
	c.PublishStatus.Xiaohongshu.Errors = slices.Clone(s.PublishStatus.Xiaohongshu.Errors)
	c.PublishStatus.Wechat.Errors = slices.Clone(s.PublishStatus.Wechat.Errors)
	if s.Verification.VerifiedAt != nil {
		t := *s.Verification.VerifiedAt
		c.Verification.VerifiedAt = &t
	}
	c.Verification.Issues = make([]Issue, len(s.Verification.Issues))
	for i, issue := range s.Verification.Issues {
		c.Verification.Issues[i] = issue.clone()
	}
	c.normalize()
	return &c
}

func (i Issue) clone() Issue {
	if i.Expected != nil {
		v := *i.Expected
		i.Expected = &v
	}
	if i.Actual != nil {
		v := *i.Actual
		i.Actual = &v
	}
	return i
}

func cloneRaw(in []json.RawMessage) []json.RawMessage {
	if in == nil {
		return nil
	}
	out := make([]json.RawMessage, len(in))
	for i, m := range in {
		out[i] = bytes.Clone(m)
	}
	return out
}
