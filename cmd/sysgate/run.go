package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loykin/sysgate"
)

const shutdownTimeout = 5 * time.Second

// runMachine boots a machine from c and runs cmdline on it. When a monitor
// address is configured the API serves alongside the program and stops once
// the program is done.
func runMachine(ctx context.Context, c *sysgate.Config, cmdline string, in io.Reader, out io.Writer) (int, error) {
	m, err := sysgate.Boot(c, in, out)
	if err != nil {
		return -1, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := m.Close(sctx); err != nil {
			slog.Warn("Machine did not shut down cleanly", "error", err)
		}
	}()

	var ln net.Listener
	if c.Monitor.Listen != "" {
		if ln, err = net.Listen("tcp", c.Monitor.Listen); err != nil {
			return -1, fmt.Errorf("monitor listen %s: %w", c.Monitor.Listen, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	status := -1
	g.Go(func() error {
		defer close(done)
		s, err := m.Run(gctx, cmdline)
		status = s
		if errors.Is(err, sysgate.ErrPoweredOff) {
			return nil
		}
		return err
	})
	if ln != nil {
		srv := sysgate.NewHTTPServer(c.Monitor.Listen, c.Monitor.BasePath, m)
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("monitor: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-gctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	err = g.Wait()
	return status, err
}
