// Command bayeuxclient is a small interactive demonstrator for the
// bayeux package: it handshakes, subscribes to a channel, and prints
// every message it receives until interrupted. It is not a product
// surface -- the core package never imports it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/cstub/bayeux"
	"github.com/cstub/bayeux/config"
)

func main() {
	cmd := &cli.Command{
		Name:  "bayeuxclient",
		Usage: "handshake and subscribe to a Bayeux channel",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "server address, e.g. http://localhost:8080/bayeux"},
			&cli.StringFlag{Name: "config", Usage: "path to a YAML config file (overrides --server)"},
			&cli.StringFlag{Name: "channel", Value: "/chat/demo", Usage: "channel to subscribe to"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		color.Red("bayeuxclient: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	serverAddress := cmd.String("server")
	if path := cmd.String("config"); path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		serverAddress = cfg.ServerAddress
	}
	if serverAddress == "" {
		return errors.New("bayeuxclient: --server or --config is required")
	}

	logger := logrus.New()
	if cmd.Bool("verbose") {
		logger.SetLevel(logrus.DebugLevel)
	}

	session, err := bayeux.NewClientSession(serverAddress, bayeux.WithFieldLogger(logger))
	if err != nil {
		return fmt.Errorf("bayeuxclient: dial: %w", err)
	}

	if err := session.Handshake(ctx); err != nil {
		return fmt.Errorf("bayeuxclient: handshake: %w", err)
	}
	color.Green("handshake complete")

	channel := bayeux.Channel(cmd.String("channel"))
	_, err = session.Subscribe(ctx, channel, func(ch bayeux.Channel, msg bayeux.Message) {
		color.Cyan("[%s] %s", ch, string(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("bayeuxclient: subscribe: %w", err)
	}
	color.Green("subscribed to %s", channel)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	return session.Disconnect(context.Background())
}
