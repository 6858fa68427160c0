package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"perpexecutor/cmd/keys"
	"perpexecutor/cmd/klines"
	"perpexecutor/cmd/reconciler"
	"perpexecutor/cmd/worker"
	"perpexecutor/src/database"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "PerpExecutor CMD"
	app.Usage = "The perpetual executor command line interface"

	app.Commands = []cli.Command{
		workerCMD,
		reconcilerCMD,
		klinesCMD,
		keysCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	workerCMD = cli.Command{
		Name:        "worker",
		Usage:       "run the task queue worker",
		Action:      workerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Drain queued rule-evaluation tasks and execute approved signals`,
	}
	reconcilerCMD = cli.Command{
		Name:        "reconciler",
		Usage:       "run the position reconciler",
		Action:      reconcilerAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Periodically re-derive trade state from the exchange`,
	}
	klinesCMD = cli.Command{
		Name:        "klines",
		Usage:       "backfill 1m candles",
		Action:      klinesAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Backfill one-minute candles used as a price audit trail`,
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "manage agent credentials",
		Action:      keysAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Interactive console for agent exchange keys and activation`,
	}
)

func workerAction(_ *cli.Context) error {

	logrus.Info("Starting task worker CMD")
	logrus.WithField("cmd", "worker")

	w := &worker.Worker{}
	if err := w.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func reconcilerAction(_ *cli.Context) error {

	logrus.Info("Starting reconciler CMD")
	logrus.WithField("cmd", "reconciler")

	r := &reconciler.Reconciler{}
	if err := r.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

// klinesAction backfills 1m candles for the configured symbol.
func klinesAction(_ *cli.Context) error {

	logrus.Info("Starting klines backfill CMD")
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	backfill := &klines.Backfill{
		Log: logrus.WithField("cmd", "klines"),
	}
	if err := backfill.Start(); err != nil {
		logrus.WithError(err).Error("Starting klines cmd")
		return err
	}

	return nil
}

func keysAction(_ *cli.Context) error {

	logrus.Info("Starting keys CMD")

	c := &keys.CLI{}
	if err := c.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}
