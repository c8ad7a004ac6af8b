// Package preview serves a build directory over HTTP so an archive tree can
// be browsed before it is packaged.
package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"ytzim/zim"
)

const shutdownTimeout = 5 * time.Second

// Server serves one build directory.
type Server struct {
	Dir    string
	router *gin.Engine
}

// New creates a server for dir, which must contain a generated archive tree.
func New(dir string) (*Server, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("preview: %s is not a directory", dir)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	root := http.Dir(dir)
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/"+zim.Welcome)
	})
	router.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusMethodNotAllowed)
			return
		}
		c.FileFromFS(c.Request.URL.Path, root)
	})

	return &Server{Dir: dir, router: router}, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("dir", s.Dir).Msg("preview: serving")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("preview: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).Dur("duration", time.Since(start)).Msg("preview: request")
	}
}
