package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/campaign-tracker/pkg/session"
	"github.com/aixgo-dev/campaign-tracker/pkg/verification"
)

func sample() *session.Session {
	s := session.New("20260314_092653", "agentic workflows", time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	s.Search.Query = "agents"
	s.Search.TimeRange = "24h"
	s.Search.TotalFound = 0
	s.Engagement.Liked = []string{"p1", "p2"}
	s.GeneratedContent.Twitter = session.TwitterContent{
		Thread:      []string{"1/4 intro", "2/4 body", strings.Repeat("长", 60), "4/4 outro"},
		TotalTweets: 4,
	}
	s.PublishStatus.Twitter.ExpectedCount = 4
	s.PublishStatus.Twitter.PublishedCount = 2
	s.PublishStatus.Twitter.Status = session.PublishPartial
	s.GeneratedContent.Wechat.Title = "Weekly digest"
	s.PublishStatus.Wechat.Status = session.PublishDraft
	return s
}

func verify(s *session.Session) {
	r := verification.Verify(s)
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.Verification = session.Verification{
		VerifiedAt:          &at,
		TwitterVerified:     r.TwitterVerified,
		XiaohongshuVerified: r.XiaohongshuVerified,
		WechatVerified:      r.WechatVerified,
		Issues:              r.Issues,
	}
}

func TestRender(t *testing.T) {
	s := sample()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, s))
	out := buf.String()

	assert.Contains(t, out, "Session: 20260314_092653")
	assert.Contains(t, out, "Topic:   agentic workflows")
	assert.Contains(t, out, "Liked:    2")
	assert.Contains(t, out, "Twitter thread: 4 tweets")
	assert.Contains(t, out, "Xiaohongshu:    (none)")
	assert.Contains(t, out, "WeChat:         Weekly digest")
	assert.Contains(t, out, "⚠️ Twitter: partial (2/4 tweets)")
	assert.Contains(t, out, "⚠️ Xiaohongshu: pending")
	assert.Contains(t, out, "✅ WeChat: draft")
	assert.NotContains(t, out, "Verification:", "unverified sessions have no verification section")

	verify(s)
	buf.Reset()
	require.NoError(t, Render(&buf, s))
	out = buf.String()
	assert.Contains(t, out, "🔎 Verification:")
	assert.Contains(t, out, "⚠️ Twitter thread incomplete: expected 4 tweets, published 2")
}

func TestRenderAllPublished(t *testing.T) {
	s := session.New("20260314_092653", "t", time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	verify(s)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, s))
	assert.Contains(t, buf.String(), "✅ All content published")
}

func TestRenderResend(t *testing.T) {
	s := sample()

	var buf bytes.Buffer
	require.NoError(t, RenderResend(&buf, s))
	assert.Empty(t, buf.String(), "no suggestions before verification")

	verify(s)
	require.NoError(t, RenderResend(&buf, s))
	out := buf.String()

	assert.Contains(t, out, "Resend 2 tweets:")
	assert.Contains(t, out, "1. "+strings.Repeat("长", 50)+"...")
	assert.Contains(t, out, "2. 4/4 outro\n")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 50))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "日本...", Truncate("日本語", 2))
}
