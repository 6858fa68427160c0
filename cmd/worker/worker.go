package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"perpexecutor/src/database"
	"perpexecutor/src/dispatcher"
	"perpexecutor/src/taskqueue"
)

// Worker runs the durable task queue drain loop as a standalone process.
type Worker struct{}

func (w *Worker) Start() error {
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
	taskqueue.NewWorker(gateways).Run(ctx)

	return nil
}
