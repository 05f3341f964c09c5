package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aixgo-dev/campaign-tracker/pkg/report"
	"github.com/aixgo-dev/campaign-tracker/pkg/session"
	"github.com/aixgo-dev/campaign-tracker/pkg/verification"
)

func (c *cli) newListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return &session.InputError{Field: "limit", Reason: "must not be negative"}
			}
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			summaries, err := store.List(cmd.Context(), session.ListOptions{Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No sessions yet")
				return nil
			}
			fmt.Fprintln(out, "📁 Sessions:")
			for _, s := range summaries {
				fmt.Fprintf(out, "   %s - %s (%s)\n", s.ID, s.Topic, s.Status)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of sessions (0 for all)")
	return cmd
}

// resolve loads --session or the latest session.
func (c *cli) resolve(cmd *cobra.Command, sessionID string) (*session.Session, error) {
	store, err := c.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	sess, err := store.Resolve(cmd.Context(), sessionID)
	if err != nil {
		return nil, missingSession(err)
	}
	return sess, nil
}

func (c *cli) newReportCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the session report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.resolve(cmd, sessionID)
			if err != nil {
				return err
			}
			return report.Render(cmd.OutOrStdout(), sess)
		},
	}
	sessionFlag(cmd, &sessionID)
	return cmd
}

func (c *cli) newVerifyCmd() *cobra.Command {
	var (
		sessionID   string
		all         bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify published content and suggest follow-up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			engine := verification.NewEngine(store, verification.WithLogger(c.logger))
			if all {
				return c.verifyAll(cmd, store, engine, concurrency)
			}

			tr, err := c.openTracker(cmd, sessionID)
			if err != nil {
				return err
			}
			if _, err := tr.Verify(cmd.Context(), engine); err != nil {
				return err
			}
			sess := tr.Session()
			out := cmd.OutOrStdout()
			if err := report.Render(out, sess); err != nil {
				return err
			}
			return report.RenderResend(out, sess)
		},
	}
	sessionFlag(cmd, &sessionID)
	cmd.Flags().BoolVar(&all, "all", false, "Verify every stored session")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Sessions verified in parallel with --all")
	cmd.MarkFlagsMutuallyExclusive("session", "all")
	return cmd
}

func (c *cli) verifyAll(cmd *cobra.Command, store *session.Store, engine *verification.Engine, concurrency int) error {
	summaries, err := store.List(cmd.Context(), session.ListOptions{})
	if err != nil {
		return err
	}
	ids := make([]string, len(summaries))
	for i, s := range summaries {
		ids[i] = s.ID
	}

	out := cmd.OutOrStdout()
	var failed []error
	for _, o := range engine.RunAll(cmd.Context(), ids, concurrency) {
		switch {
		case o.Err != nil:
			c.logger.Warn("verification failed", zap.String("session_id", o.SessionID), zap.Error(o.Err))
			fmt.Fprintf(out, "❌ %s: %v\n", o.SessionID, o.Err)
			failed = append(failed, fmt.Errorf("%s: %w", o.SessionID, o.Err))
		case len(o.Verification.Issues) == 0:
			fmt.Fprintf(out, "✅ %s - %s\n", o.SessionID, o.Session.Topic)
		default:
			fmt.Fprintf(out, "⚠️ %s - %s: %d issues\n", o.SessionID, o.Session.Topic, len(o.Verification.Issues))
			for _, issue := range o.Verification.Issues {
				fmt.Fprintf(out, "   %s\n", issue.Message)
			}
		}
	}
	fmt.Fprintf(out, "Verified %d of %d sessions\n", len(ids)-len(failed), len(ids))
	if len(failed) > 0 {
		return fmt.Errorf("verify %d sessions: %w", len(failed), errors.Join(failed...))
	}
	return nil
}

func (c *cli) newUnpublishedCmd() *cobra.Command {
	var (
		sessionID string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "unpublished",
		Short: "List tweets of the thread that were not posted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := c.resolve(cmd, sessionID)
			if err != nil {
				return err
			}
			tweets := verification.Unpublished(sess)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetEscapeHTML(false)
				return enc.Encode(tweets)
			}
			for _, t := range tweets {
				fmt.Fprintln(out, t)
			}
			return nil
		},
	}
	sessionFlag(cmd, &sessionID)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print a JSON array")
	return cmd
}

func (c *cli) newSessionIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session-id",
		Short: "Print the latest session ID, or an empty line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			sess, err := store.Latest(cmd.Context())
			if err != nil {
				return err
			}
			if sess == nil {
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
			return nil
		},
	}
}
