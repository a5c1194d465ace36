package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tradecopier/src/database"
	"tradecopier/src/engine"
	"tradecopier/src/repository"
	"tradecopier/src/server"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Tradecopier CMD"
	app.Usage = "The tradecopier command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		reconcilerCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the API and fan-out server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the HTTP API, websocket hub and background workers`,
	}
	reconcilerCMD = cli.Command{
		Name:        "reconciler",
		Usage:       "run the ledger reconciler",
		Action:      reconcilerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the ledger sweep loop standalone`,
	}
)

func serverAction(_ *cli.Context) error {
	logrus.Info("Starting server CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	server.StartServer(server.GetConfig().Port)
	return nil
}

func reconcilerAction(_ *cli.Context) error {
	logrus.Info("Starting reconciler CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	reconciler := engine.NewReconciler(
		nil,
		repository.NewCopyOperationRepository(),
		repository.NewSystemEventRepository(),
		nil,
		engine.GetConfig(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	return reconciler.Run(ctx)
}
