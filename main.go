package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	usage = `buddy allocator

Manages a fixed-capacity region with the buddy system. The demo command runs
the classic allocation script, stress exercises a shared memory pool from
many goroutines, and serve exposes the pool over TCP.`
)

// Populated at build time.
var (
	version  string
	commitId string
)

func main() {
	app := cli.NewApp()
	app.Name = "buddy"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: "",
			Usage: "path to a YAML config file (default: $BUDDY_CONFIG_FILE)",
		},
		cli.StringFlag{
			Name:  "log, l",
			Value: "",
			Usage: "log file path or empty string for stderr output (default: \"\")",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "",
			Usage: "log format; must be json or text (default = text)",
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("buddy\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n",
			c.App.Version, commitId)
	}

	app.Before = func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				return err
			}
			logrus.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
		}

		if cfg.LogFormat == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
			})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
			})
		}

		switch cfg.LogLevel {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			logrus.Fatalf("'%v' log-level option not recognized", cfg.LogLevel)
		}

		return nil
	}

	app.Commands = []cli.Command{
		demoCommand,
		stressCommand,
		serveCommand,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
