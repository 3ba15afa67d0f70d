// Package cli implements cmsctl, a command line tool that lists and reorders
// ranked collections through the public API.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stackd/api/internal/catalog"
	"stackd/api/internal/cmsclient"
	"stackd/api/internal/logging"
	"stackd/api/internal/ranking"
	"stackd/api/internal/reorder"
)

type globalFlags struct {
	api         string
	token       string
	concurrency int
	verbose     bool
	timeout     time.Duration
}

// NewRootCmd builds the cmsctl command tree. Output is written to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "cmsctl",
		Short:         "Inspect and reorder ranked CMS collections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&flags.api, "api", envOr("STACKD_API_URL", "http://localhost:8787"), "API base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("STACKD_TOKEN"), "admin access token")
	root.PersistentFlags().IntVar(&flags.concurrency, "concurrency", 8, "parallel rank writes during renormalization (0 = unbounded)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log every request")
	root.PersistentFlags().DurationVar(&flags.timeout, "timeout", time.Minute, "overall timeout")

	root.AddCommand(
		newListCmd(flags),
		newMoveCmd(flags),
		newNormalizeCmd(flags),
	)
	return root
}

func newListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list <collection>",
		Short: "Print a collection in rank order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, args[0], func(_ context.Context, session *reorder.Session) error {
				return printItems(cmd.OutOrStdout(), args[0], session.Items())
			})
		},
	}
}

func newMoveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "move <collection> <item-id> <to>",
		Short: "Move an item to a zero-based position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("to: %w", err)
			}
			return withSession(cmd, flags, args[0], func(ctx context.Context, session *reorder.Session) error {
				from := indexOf(session.Items(), args[1])
				if from < 0 {
					return fmt.Errorf("item %q not found in %s", args[1], args[0])
				}
				moveErr := session.Move(ctx, args[1], from, to)
				var reorderErr *reorder.Error
				if errors.As(moveErr, &reorderErr) && errors.Is(moveErr, reorder.ErrRenormalizeFailed) {
					fmt.Fprintf(cmd.ErrOrStderr(), "renormalization incomplete, failed items: %v\n", reorderErr.ItemIDs)
				}
				if moveErr != nil {
					return moveErr
				}
				return printItems(cmd.OutOrStdout(), args[0], session.Items())
			})
		},
	}
}

func indexOf(items []ranking.Item, id string) int {
	for i, item := range items {
		if item.ID == id {
			return i
		}
	}
	return -1
}

func newNormalizeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <collection>",
		Short: "Rewrite every rank to even spacing without changing the order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, flags, args[0], func(ctx context.Context, session *reorder.Session) error {
				if err := session.Normalize(ctx); err != nil {
					return err
				}
				return printItems(cmd.OutOrStdout(), args[0], session.Items())
			})
		},
	}
}

// withSession opens a reorder session on collection and runs fn against it.
func withSession(cmd *cobra.Command, flags *globalFlags, collection string, fn func(context.Context, *reorder.Session) error) error {
	level := "warn"
	if flags.verbose {
		level = "debug"
	}
	logger, err := logging.New(level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
	defer cancel()

	client := cmsclient.New(flags.api,
		cmsclient.WithToken(flags.token),
		cmsclient.WithLogger(logger),
	)
	session := reorder.New(client,
		reorder.WithLogger(logger),
		reorder.WithConcurrency(flags.concurrency),
	)
	defer session.Close()

	if err := session.Open(ctx, collection); err != nil {
		return err
	}
	logger.Debug("session ready", zap.String("collection", collection), zap.Int("items", len(session.Items())))
	return fn(ctx, session)
}

func printItems(out io.Writer, collection string, items []ranking.Item) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tID\tRANK\tLABEL")
	for i, item := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, item.ID, strconv.FormatFloat(item.Rank, 'f', -1, 64), label(collection, item))
	}
	return w.Flush()
}

// label renders the sort-view title of an item. Collections this build does
// not know fall back to the title field.
func label(collection string, item ranking.Item) string {
	schema, ok := catalog.SchemaFor(collection)
	if !ok {
		title, _ := item.Payload["title"].(string)
		return title
	}
	fields := make(map[string]string, len(schema.LabelKeys))
	for _, key := range schema.LabelKeys {
		if value, ok := item.Payload[key].(string); ok {
			fields[key] = value
		}
	}
	return schema.Label(fields)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
