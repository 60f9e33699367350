package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	systemd "github.com/coreos/go-systemd/daemon"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/shenjiangwei/buddyAllocator/rpc"
)

var serveCommand = cli.Command{
	Name:  "serve",
	Usage: "serve a shared memory pool over TCP",
	Flags: []cli.Flag{
		capacityFlag,
		storageFlag,
		cli.StringFlag{
			Name:  "addr",
			Usage: "listen address (default: 127.0.0.1:1234)",
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		logrus.Info("Starting buddy allocator server")
		if version != "" {
			logrus.Infof("Version: %s", version)
		}

		pool, err := newPool(cfg)
		if err != nil {
			return err
		}
		server, err := rpc.NewServer(pool)
		if err != nil {
			pool.Close()
			return err
		}

		var signalChan = make(chan os.Signal, 1)
		signal.Notify(
			signalChan,
			syscall.SIGHUP,
			syscall.SIGINT,
			syscall.SIGTERM,
			syscall.SIGQUIT)
		go signalHandler(signalChan, server)

		systemd.SdNotify(false, systemd.SdNotifyReady)
		if err := server.Start(cfg.Addr); err != nil {
			server.Close()
			return fmt.Errorf("failed to start server: %w", err)
		}

		logrus.Info("Done.")
		return nil
	},
}

// server signal handler goroutine; closing the server makes Start return
func signalHandler(signalChan chan os.Signal, server *rpc.Server) {
	s := <-signalChan

	logrus.Infof("Caught OS signal: %s", s)
	systemd.SdNotify(false, systemd.SdNotifyStopping)

	if err := server.Close(); err != nil {
		logrus.Warnf("Failed to terminate server gracefully: %s", err)
	}
}
