package httpserver

import (
	"context"
	"errors"
	"time"

	"github.com/cristianortiz/liveAuction/internal/shared/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	app *fiber.App
}

var log = logger.GetLogger()

// Router is implemented by every bounded context's transport adapter.
type Router interface {
	Register(router fiber.Router)
}

func NewServer(routers ...Router) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "liveauction",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())

	// logging middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.Info("HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("remote_addr", c.IP()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})

	for _, r := range routers {
		r.Register(app)
	}
	return &Server{app: app}
}

// App exposes the fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves until ctx is done, then drains in-flight requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server started", zap.String("addr", addr))
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
