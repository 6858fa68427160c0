package reconciler

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"perpexecutor/src/database"
	"perpexecutor/src/dispatcher"
	"perpexecutor/src/reconciler"
)

// Reconciler runs the periodic position reconciliation loop as a
// standalone process.
type Reconciler struct{}

func (r *Reconciler) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	gateways := dispatcher.NewCachingGatewayProvider()

	// Stream fills promote trades ahead of the sweep; the sweep stays
	// authoritative for anything the stream misses.
	go reconciler.NewStreamListener(gateways).Run(ctx)

	reconciler.New(gateways).Run(ctx)

	return nil
}
