package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/campaign-tracker/pkg/session"
	"github.com/aixgo-dev/campaign-tracker/pkg/tracker"
)

func (c *cli) newInitCmd() *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			tr, err := tracker.Start(cmd.Context(), store, topic, tracker.WithLogger(c.logger))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ Session created: %s\n", tr.ID())
			// bare ID on its own line for scripts
			fmt.Fprintln(out, tr.ID())
			return nil
		},
	}
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Campaign topic (required)")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

// openTracker resolves --session, falling back to the latest session.
func (c *cli) openTracker(cmd *cobra.Command, sessionID string) (*tracker.Tracker, error) {
	store, err := c.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	tr, err := tracker.Open(cmd.Context(), store, sessionID, tracker.WithLogger(c.logger))
	if err != nil {
		return nil, missingSession(err)
	}
	return tr, nil
}

func sessionFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "session", "s", "", "Session ID (default: latest)")
}

func (c *cli) newSearchCmd() *cobra.Command {
	var sessionID, query, timeRange, posts string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Record search results",
		Long:  "Record search results. Posts are a JSON array of objects given with --posts or on stdin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if cmd.Flags().Changed("posts") {
				data = []byte(posts)
			} else {
				var err error
				if data, err = readPiped(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read posts from stdin: %w", err)
				}
			}
			parsed, err := tracker.ParsePosts(data)
			if err != nil {
				return err
			}

			tr, err := c.openTracker(cmd, sessionID)
			if err != nil {
				return err
			}
			if err := tr.RecordSearch(cmd.Context(), query, timeRange, parsed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📝 Recorded %d search results\n", len(parsed))
			return nil
		},
	}
	sessionFlag(cmd, &sessionID)
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search query (required)")
	cmd.Flags().StringVarP(&timeRange, "time-range", "r", "24h", "Time range")
	cmd.Flags().StringVarP(&posts, "posts", "p", "", "Posts as a JSON array (default: read stdin)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

// readPiped reads r unless it is an interactive terminal.
func readPiped(r io.Reader) ([]byte, error) {
	if f, ok := r.(*os.File); ok {
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if info.Mode()&os.ModeCharDevice != 0 {
			return nil, nil
		}
	}
	return io.ReadAll(r)
}

const (
	actionSelect = "select"
	actionLike   = "like"
	actionReply  = "reply"
)

func (c *cli) newEngageCmd() *cobra.Command {
	var sessionID, action, postID, postIDs, replyText string
	cmd := &cobra.Command{
		Use:   "engage",
		Short: "Record engagement: select, like or reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch action {
			case actionSelect, actionLike, actionReply:
			default:
				return &session.InputError{Field: "action", Reason: fmt.Sprintf("%q is not one of select, like, reply", action)}
			}

			tr, err := c.openTracker(cmd, sessionID)
			if err != nil {
				return err
			}
			ctx, out := cmd.Context(), cmd.OutOrStdout()

			switch action {
			case actionSelect:
				ids := tracker.SplitList(postIDs)
				if postIDs == "" {
					ids = []string{postID}
				}
				if err := tr.SelectForEngagement(ctx, ids); err != nil {
					return err
				}
				fmt.Fprintf(out, "📝 Recorded %d posts selected for engagement\n", len(tr.Session().Engagement.SelectedPosts))
			case actionLike:
				if err := tr.RecordLike(ctx, postID); err != nil {
					return err
				}
				fmt.Fprintf(out, "✅ Like recorded: %s\n", postID)
			case actionReply:
				if err := tr.RecordReply(ctx, postID, replyText); err != nil {
					return err
				}
				fmt.Fprintf(out, "✅ Reply recorded: %s\n", postID)
			}
			return nil
		},
	}
	sessionFlag(cmd, &sessionID)
	cmd.Flags().StringVarP(&action, "action", "a", "", "Engagement action: select, like, reply (required)")
	cmd.Flags().StringVarP(&postID, "post-id", "p", "", "Post ID")
	cmd.Flags().StringVar(&postIDs, "post-ids", "", "Comma-separated post IDs for select")
	cmd.Flags().StringVar(&replyText, "reply-text", "", "Reply text")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func (c *cli) newDistillCmd() *cobra.Command {
	var sessionID, trends, points, quotes, summary string
	cmd := &cobra.Command{
		Use:   "distill",
		Short: "Record distilled trends, key points and quotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				d   session.Distilled
				err error
			)
			if d.Trends, err = tracker.ParseStringList("trends", trends); err != nil {
				return err
			}
			if d.KeyPoints, err = tracker.ParseStringList("points", points); err != nil {
				return err
			}
			if d.Quotes, err = tracker.ParseQuotes(quotes); err != nil {
				return err
			}
			d.Summary = summary

			tr, err := c.openTracker(cmd, sessionID)
			if err != nil {
				return err
			}
			if err := tr.RecordDistilled(cmd.Context(), d); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "📝 Recorded distilled content: %d trends, %d key points\n", len(d.Trends), len(d.KeyPoints))
			return nil
		},
	}
	sessionFlag(cmd, &sessionID)
	cmd.Flags().StringVar(&trends, "trends", "", "Trends as a JSON array of strings")
	cmd.Flags().StringVar(&points, "points", "", "Key points as a JSON array of strings")
	cmd.Flags().StringVar(&quotes, "quotes", "", "Quotes as a JSON array")
	cmd.Flags().StringVar(&summary, "summary", "", "Summary")
	return cmd
}

func (c *cli) newGenerateCmd() *cobra.Command {
	var sessionID, platform, title, content, summary, thread, hashtags string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Record content generated for a platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := session.ParsePlatform(platform)
			if err != nil {
				return err
			}
			var tweets []string
			if p == session.PlatformTwitter {
				if tweets, err = tracker.ParseStringList("thread", thread); err != nil {
					return err
				}
			}

			tr, err := c.openTracker(cmd, sessionID)
			if err != nil {
				return err
			}
			ctx, out := cmd.Context(), cmd.OutOrStdout()

			switch p {
			case session.PlatformTwitter:
				if err := tr.RecordTwitterContent(ctx, tweets); err != nil {
					return err
				}
				fmt.Fprintf(out, "📝 Recorded Twitter thread: %d tweets\n", len(tweets))
			case session.PlatformXiaohongshu:
				if err := tr.RecordXiaohongshuContent(ctx, title, content, tracker.SplitList(hashtags)); err != nil {
					return err
				}
				fmt.Fprintf(out, "📝 Recorded Xiaohongshu content: %s\n", title)
			case session.PlatformWechat:
				if err := tr.RecordWechatContent(ctx, title, content, summary); err != nil {
					return err
				}
				fmt.Fprintf(out, "📝 Recorded WeChat content: %s\n", title)
			}
			return nil
		},
	}
	sessionFlag(cmd, &sessionID)
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform: twitter, xiaohongshu, wechat (required)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Title")
	cmd.Flags().StringVarP(&content, "content", "c", "", "Content")
	cmd.Flags().StringVar(&summary, "summary", "", "Article summary (wechat)")
	cmd.Flags().StringVar(&thread, "thread", "", "Twitter thread as a JSON array of strings")
	cmd.Flags().StringVar(&hashtags, "hashtags", "", "Comma-separated hashtags (xiaohongshu)")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func (c *cli) newPublishCmd() *cobra.Command {
	var (
		sessionID, platform, status, url, errMsg string
		count                                    int
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Record what a platform reported as published",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := session.ParsePlatform(platform)
			if err != nil {
				return err
			}
			state := session.PublishState(strings.ToLower(strings.TrimSpace(status)))
			if !state.ValidFor(p) {
				return &session.InputError{Field: "status", Reason: fmt.Sprintf("%q is not a %s publish status", status, p)}
			}
			if count < 0 {
				return &session.InputError{Field: "count", Reason: "must not be negative"}
			}

			tr, err := c.openTracker(cmd, sessionID)
			if err != nil {
				return err
			}
			if err := tr.RecordPublish(cmd.Context(), p, state, url, count, errMsg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Recorded %s publish status: %s\n", p, state)
			return nil
		},
	}
	sessionFlag(cmd, &sessionID)
	cmd.Flags().StringVarP(&platform, "platform", "p", "", "Platform: twitter, xiaohongshu, wechat (required)")
	cmd.Flags().StringVar(&status, "status", string(session.PublishPublished), "Status: pending, published, partial, failed, draft")
	cmd.Flags().StringVarP(&url, "url", "u", "", "Published URL")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Tweets posted (twitter)")
	cmd.Flags().StringVarP(&errMsg, "error", "e", "", "Error message")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}
