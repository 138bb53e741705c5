package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServeOptions controls Serve.
type ServeOptions struct {
	// Listen overrides the configured listen address.
	Listen  string
	TLSCert string
	TLSKey  string
	// Deliver runs the topic deliverer alongside the HTTP server.
	Deliver bool
	// ShutdownTimeout bounds the graceful drain of in-flight requests.
	ShutdownTimeout time.Duration
}

// Serve runs the HTTP surface, and optionally the deliverer, until ctx is
// cancelled or either of them fails.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	addr := opts.Listen
	if addr == "" {
		addr = a.Config.Server.Listen
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return a.serve(ctx, ln, opts)
}

func (a *App) serve(ctx context.Context, ln net.Listener, opts ServeOptions) error {
	h, cleanup := a.Handler()
	defer cleanup()

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("starting regsync server", "listen", ln.Addr().String(), "warehouse", a.Config.Warehouse.Driver)
		var err error
		if opts.TLSCert != "" && opts.TLSKey != "" {
			err = srv.ServeTLS(ln, opts.TLSCert, opts.TLSKey)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if opts.Deliver {
		g.Go(func() error {
			return a.Deliverer().Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	a.Logger.Info("server stopped")
	return err
}
