package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"goim-comment/apps/comment-service/bootstrap"
	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/config"
	"goim-comment/pkg/logger"
	"goim-comment/pkg/server"
)

func main() {
	app := &cli.App{
		Name:  "commentctl",
		Usage: "Administer the comment moderation engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to config.yaml",
				EnvVars: []string{"COMMENT_CONFIG"},
			},
			&cli.Int64Flag{
				Name:    "operator",
				Usage:   "user id recorded as the acting moderator",
				EnvVars: []string{"COMMENTCTL_OPERATOR"},
				Value:   1,
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			c.Context = context.WithValue(c.Context, configKey{}, cfg)
			return nil
		},
		Commands: []*cli.Command{
			cleanupCommand,
			banCommand,
			unbanCommand,
			flagsCommand,
			eventsCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "commentctl:", err)
		os.Exit(1)
	}
}

type configKey struct{}

func configFrom(c *cli.Context) *config.Config {
	return c.Context.Value(configKey{}).(*config.Config)
}

// operator 命令行操作带上全部审核角色
func operator(c *cli.Context) model.Actor {
	cfg := configFrom(c)
	return model.Actor{
		UserID: c.Int64("operator"),
		Roles:  cfg.Comments.ModeratorRoles,
	}
}

// withEngine 连接基础设施并组装引擎，fn 返回后排空通知并释放连接
func withEngine(c *cli.Context, fn func(*bootstrap.Components) error) error {
	cfg := configFrom(c)
	// 命令行不需要链路追踪
	cfg.Telemetry.Enabled = false

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	app, err := server.NewApplication(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Close(ctx)
	}()

	comps, err := bootstrap.Build(c.Context, app)
	if err != nil {
		return err
	}
	runErr := fn(comps)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := comps.Dispatcher.Stop(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
