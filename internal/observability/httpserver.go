package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// RunHTTPServer runs handler until ctx is cancelled, generalizing the
// teacher's worker.Run health-server goroutine pair (serve, then on
// shutdown signal drain briefly before calling Shutdown) into a reusable
// helper shared by the scheduler and worker processes.
func RunHTTPServer(ctx context.Context, addr string, handler http.Handler, log *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http_server.start", "addr", addr)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
