package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/tendril/pkg/adapters/mcp"
	"golang.org/x/sync/errgroup"
)

// MCP transports accepted by ServeMCP.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// MCPServer returns the app's engine wrapped as an MCP server.
func (a *App) MCPServer() *mcp.Server {
	return mcp.NewServer(a.Engine,
		mcp.WithMaxInputSize(a.Config.HTTP.MaxInputSize),
		mcp.WithLogger(a.Logger),
	)
}

// ServeMCP serves the engine to MCP clients over stdio or SSE. For SSE it
// listens on addr and stops when ctx is done.
func ServeMCP(ctx context.Context, app *App, transport, addr string) error {
	srv := app.MCPServer()
	switch transport {
	case TransportStdio:
		app.Logger.Info("starting tendril MCP server", "transport", transport)
		return srv.ServeStdio()
	case TransportSSE:
	default:
		return fmt.Errorf("unknown transport %q (supported: %s, %s)", transport, TransportStdio, TransportSSE)
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.SSEHandler(baseURL(addr)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Logger.Info("starting tendril MCP server", "transport", transport, "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mcp server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop mcp server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// baseURL turns a listen address such as ":8090" into a URL clients can
// reach it on.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
