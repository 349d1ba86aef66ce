package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully stops the application: loops drain their in-flight
// ticks, the final alert digest flushes, then the HTTP server and the
// database close.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)
	a.cancel()

	for _, l := range a.loops {
		l.Wait()
	}
	if a.feed != nil {
		a.feed.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	a.alerts.Flush(shutdownCtx)

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	a.wg.Wait()

	err = a.store.Close()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}

	a.logger.Info("application-shutdown-complete")
	return nil
}
