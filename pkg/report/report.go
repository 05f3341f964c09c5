// Package report renders a human-readable summary of a session record.
// Everything shown is derived from the record alone.
package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aixgo-dev/campaign-tracker/pkg/session"
	"github.com/aixgo-dev/campaign-tracker/pkg/verification"
)

const (
	ruleWidth = 60
	// previewRunes caps each tweet shown in resend suggestions.
	previewRunes = 50
	none         = "(none)"
	markOK       = "✅"
	markWarn     = "⚠️"
)

// Render writes the phase-by-phase report for s.
func Render(w io.Writer, s *session.Session) error {
	bw := bufio.NewWriter(w)
	rule := strings.Repeat("=", ruleWidth)

	fmt.Fprintln(bw, rule)
	fmt.Fprintln(bw, "📋 Campaign report")
	fmt.Fprintf(bw, "   Session: %s\n", s.ID)
	fmt.Fprintf(bw, "   Topic:   %s\n", s.Topic)
	fmt.Fprintf(bw, "   Created: %s\n", s.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(bw, "   Status:  %s\n", s.Status)
	fmt.Fprintln(bw, rule)

	search := s.Search
	fmt.Fprintln(bw, "\n🔍 Search:")
	fmt.Fprintf(bw, "   Query:      %s\n", orNone(search.Query))
	fmt.Fprintf(bw, "   Time range: %s\n", orNone(search.TimeRange))
	fmt.Fprintf(bw, "   Posts:      %d\n", search.TotalFound)

	eng := s.Engagement
	fmt.Fprintln(bw, "\n💬 Engagement:")
	fmt.Fprintf(bw, "   Selected: %d\n", len(eng.SelectedPosts))
	fmt.Fprintf(bw, "   Liked:    %d\n", len(eng.Liked))
	fmt.Fprintf(bw, "   Replied:  %d\n", len(eng.Replied))

	dist := s.Distilled
	fmt.Fprintln(bw, "\n🧪 Distilled:")
	fmt.Fprintf(bw, "   Trends: %d, key points: %d, quotes: %d\n", len(dist.Trends), len(dist.KeyPoints), len(dist.Quotes))

	gen := s.GeneratedContent
	fmt.Fprintln(bw, "\n📝 Generated content:")
	fmt.Fprintf(bw, "   Twitter thread: %d tweets\n", gen.Twitter.TotalTweets)
	fmt.Fprintf(bw, "   Xiaohongshu:    %s\n", orNone(gen.Xiaohongshu.Title))
	fmt.Fprintf(bw, "   WeChat:         %s\n", orNone(gen.Wechat.Title))

	pub := s.PublishStatus
	fmt.Fprintln(bw, "\n📤 Publish status:")
	tw := pub.Twitter
	fmt.Fprintf(bw, "   %s Twitter: %s (%d/%d tweets)\n",
		mark(tw.Status == session.PublishPublished && tw.PublishedCount == tw.ExpectedCount),
		tw.Status, tw.PublishedCount, tw.ExpectedCount)
	fmt.Fprintf(bw, "   %s Xiaohongshu: %s\n",
		mark(pub.Xiaohongshu.Status == session.PublishPublished), pub.Xiaohongshu.Status)
	fmt.Fprintf(bw, "   %s WeChat: %s\n",
		mark(pub.Wechat.Status == session.PublishPublished || pub.Wechat.Status == session.PublishDraft), pub.Wechat.Status)

	if s.Verified() {
		fmt.Fprintln(bw, "\n🔎 Verification:")
		fmt.Fprintf(bw, "   Verified at: %s\n", s.Verification.VerifiedAt.Format(time.RFC3339))
		if len(s.Verification.Issues) == 0 {
			fmt.Fprintf(bw, "   %s All content published\n", markOK)
		}
		for _, issue := range s.Verification.Issues {
			fmt.Fprintf(bw, "   %s %s\n", markWarn, issue.Message)
		}
	}

	fmt.Fprintln(bw)
	fmt.Fprintln(bw, rule)
	return bw.Flush()
}

// RenderResend writes follow-up suggestions for the issues of the last
// verification. It writes nothing when there are no issues.
func RenderResend(w io.Writer, s *session.Session) error {
	issues := s.Verification.Issues
	if len(issues) == 0 {
		return nil
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "\n💡 Suggested actions:")
	for _, issue := range issues {
		if issue.Platform != session.PlatformTwitter || issue.Kind != session.IssueIncomplete {
			continue
		}
		pending := verification.Unpublished(s)
		if len(pending) == 0 {
			continue
		}
		fmt.Fprintf(bw, "   Resend %d tweets:\n", len(pending))
		for i, tweet := range pending {
			fmt.Fprintf(bw, "   %d. %s\n", i+1, Truncate(tweet, previewRunes))
		}
	}
	return bw.Flush()
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}

func mark(ok bool) string {
	if ok {
		return markOK
	}
	return markWarn
}
