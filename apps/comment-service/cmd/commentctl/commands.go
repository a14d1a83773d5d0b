package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/IBM/sarama"
	"github.com/urfave/cli/v2"
	"google.golang.org/protobuf/encoding/protojson"

	"goim-comment/apps/comment-service/bootstrap"
	"goim-comment/apps/comment-service/internal/notify"
	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/kafka"
)

var cleanupCommand = &cli.Command{
	Name:  "cleanup",
	Usage: "Hard-delete removed, non-public, spam or flagged comments",
	Flags: []cli.Flag{
		&cli.DurationFlag{
			Name:  "older-than",
			Usage: "purge comments removed longer ago than this (defaults to comments.cleanup_after when no --remove-* flag is given)",
		},
		&cli.BoolFlag{Name: "remove-non-public", Usage: "purge every comment that is not public"},
		&cli.BoolFlag{Name: "remove-spam", Usage: "purge comments with a spam flag"},
		&cli.BoolFlag{Name: "remove-flagged", Usage: "purge comments with any flag"},
		&cli.BoolFlag{Name: "dry-run", Usage: "only report what would be deleted"},
		&cli.IntFlag{
			Name:  "batch-size",
			Value: 500,
		},
	},
	Action: func(c *cli.Context) error {
		opts := cleanupOptions{
			OlderThan:    c.Duration("older-than"),
			OlderThanSet: c.IsSet("older-than"),
			NonPublic:    c.Bool("remove-non-public"),
			Spam:         c.Bool("remove-spam"),
			Flagged:      c.Bool("remove-flagged"),
			DryRun:       c.Bool("dry-run"),
			BatchSize:    c.Int("batch-size"),
		}
		params := opts.params(configFrom(c).Comments.CleanupAfter)
		return withEngine(c, func(e *bootstrap.Components) error {
			res, err := e.Service.Cleanup(c.Context, params)
			if res != nil {
				printCleanup(os.Stdout, res, params.DryRun)
			}
			return err
		})
	},
}

type cleanupOptions struct {
	OlderThan    time.Duration
	OlderThanSet bool
	NonPublic    bool
	Spam         bool
	Flagged      bool
	DryRun       bool
	BatchSize    int
}

// params 没有指定任何清理规则时按配置的保留期清理已删除评论
func (o cleanupOptions) params(defaultAfter time.Duration) *model.CleanupParams {
	p := &model.CleanupParams{
		OlderThan: o.OlderThan,
		NonPublic: o.NonPublic,
		Spam:      o.Spam,
		Flagged:   o.Flagged,
		DryRun:    o.DryRun,
		BatchSize: o.BatchSize,
	}
	if !o.OlderThanSet && !o.NonPublic && !o.Spam && !o.Flagged {
		p.OlderThan = defaultAfter
	}
	return p
}

const previewLen = 50

func printCleanup(w io.Writer, res *model.CleanupResult, dryRun bool) {
	if !dryRun {
		fmt.Fprintf(w, "deleted %d comments\n", res.Deleted)
		return
	}
	fmt.Fprintf(w, "DRY RUN: would delete %d comments\n", res.Matched)
	for _, c := range res.Sample {
		fmt.Fprintf(w, "  #%d [%s] %s\n", c.ID, c.Status, preview(c.Content))
	}
	if n := res.Matched - int64(len(res.Sample)); n > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", n)
	}
}

func preview(content string) string {
	r := []rune(strings.Join(strings.Fields(content), " "))
	if len(r) <= previewLen {
		return string(r)
	}
	return string(r[:previewLen]) + "..."
}

var banCommand = &cli.Command{
	Name:  "ban",
	Usage: "Ban a user",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "user", Required: true},
		&cli.StringFlag{Name: "reason", Value: "banned by administrator"},
		&cli.DurationFlag{Name: "duration", Usage: "ban length, 0 for permanent"},
	},
	Action: func(c *cli.Context) error {
		params := &model.BanUserParams{
			UserID: c.Int64("user"),
			Reason: c.String("reason"),
		}
		if d := c.Duration("duration"); d > 0 {
			t := time.Now().Add(d)
			params.ExpiresAt = &t
		}
		return withEngine(c, func(e *bootstrap.Components) error {
			ban, err := e.Service.BanUser(c.Context, operator(c), params)
			if err != nil {
				return err
			}
			until := "permanently"
			if ban.ExpiresAt != nil {
				until = "until " + ban.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Printf("user %d banned %s (ban %d)\n", ban.UserID, until, ban.ID)
			return nil
		})
	},
}

var unbanCommand = &cli.Command{
	Name:  "unban",
	Usage: "Lift the active ban of a user",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "user", Required: true},
	},
	Action: func(c *cli.Context) error {
		return withEngine(c, func(e *bootstrap.Components) error {
			ban, err := e.Service.UnbanUser(c.Context, operator(c), c.Int64("user"))
			if err != nil {
				return err
			}
			if ban == nil {
				fmt.Printf("user %d has no active ban\n", c.Int64("user"))
				return nil
			}
			fmt.Printf("ban %d lifted\n", ban.ID)
			return nil
		})
	},
}

var flagsCommand = &cli.Command{
	Name:  "flags",
	Usage: "List the flags of a comment",
	Flags: []cli.Flag{
		&cli.Int64Flag{Name: "comment", Required: true},
	},
	Action: func(c *cli.Context) error {
		return withEngine(c, func(e *bootstrap.Components) error {
			flags, err := e.Service.ListFlags(c.Context, operator(c), c.Int64("comment"))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSER\tCATEGORY\tSTATE\tCREATED\tREASON")
			for _, f := range flags {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
					f.ID, f.UserID, f.Category, f.ReviewState, f.CreatedAt.Format(time.RFC3339), f.Reason)
			}
			return w.Flush()
		})
	},
}

var eventsCommand = &cli.Command{
	Name:  "events",
	Usage: "Inspect published moderation events",
	Subcommands: []*cli.Command{
		{
			Name:  "tail",
			Usage: "Print events from the kafka topic as JSON until interrupted",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "group", Value: "commentctl-tail"},
			},
			Action: tailEvents,
		},
	},
}

type printHandler struct{}

func (printHandler) HandleMessage(msg *sarama.ConsumerMessage) error {
	st, err := notify.DecodeEnvelope(msg.Value)
	if err != nil {
		fmt.Fprintf(os.Stderr, "skip offset %d: %v\n", msg.Offset, err)
		return nil
	}
	out, err := protojson.Marshal(st)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func tailEvents(c *cli.Context) error {
	cfg := configFrom(c)
	if !cfg.Kafka.Enabled {
		return errors.New("kafka is not enabled in the configuration")
	}
	consumer, err := kafka.InitConsumer(kafka.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: c.String("group"),
		Topics:  []string{cfg.Kafka.Topic},
	}, printHandler{})
	if err != nil {
		return err
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := consumer.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
