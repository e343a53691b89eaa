// Package dashboard serves a read-only web view of a live interview
// session: JSON endpoints plus a server-sent event stream of log updates.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/zulandar/interviewdesk/internal/chatlog"
	"github.com/zulandar/interviewdesk/internal/followup"
	"github.com/zulandar/interviewdesk/internal/questions"
	"github.com/zulandar/interviewdesk/internal/session"
)

// Source is the session state the dashboard reads. *session.Session
// implements it.
type Source interface {
	Snapshot() session.Snapshot
	Log() *chatlog.Log
	Bank() *questions.Bank
	Queue() *followup.Queue
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Session      Source
	Port         int
	Out          io.Writer
	AllowOrigins []string // defaults to any origin
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Session == nil {
		return fmt.Errorf("dashboard: session is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts.Session, opts.AllowOrigins)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the gin engine serving src.
func NewRouter(src Source, allowOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Cache-Control"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowOrigins
	}
	router.Use(cors.New(cfg))

	registerRoutes(router, src)
	return router
}
