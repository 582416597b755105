package main

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/fx"
)

func main() {
	app := fx.New(appOptions())

	if err := app.Start(context.Background()); err != nil {
		slog.Error("seatlock failed to start", "error", err)
		os.Exit(1)
	}

	<-app.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		slog.Error("seatlock did not stop cleanly", "error", err)
		os.Exit(1)
	}
}
