// Package gateway exposes the HTTP API over the validator's miner registry:
// miner listings, receipt history and the per-token leaderboard, plus the
// receipt ingestion endpoints the organic query layer reports served
// requests through.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/tokengraph-labs/tokengraph/internal/config"
	"github.com/tokengraph-labs/tokengraph/internal/graph"
	"github.com/tokengraph-labs/tokengraph/internal/registry"
)

// Server is the analytics and receipt-ingestion API surface. The only state
// it writes is the receipt log; miner records stay validator-owned.
type Server struct {
	App      *fiber.App
	cfg      *config.GatewayEnvConfig
	registry *registry.Registry
	graph    *graph.MemoryStore
	logger   *zap.Logger
	token    string
}

func NewServer(cfg *config.GatewayEnvConfig, reg *registry.Registry, store *graph.MemoryStore, token string, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		Prefork:      false,
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		ErrorHandler: errHandler(logger),
	})

	app.Use(recover.New())

	s := &Server{
		App:      app,
		cfg:      cfg,
		registry: reg,
		graph:    store,
		logger:   logger,
		token:    token,
	}

	app.Use(s.requestLogger())

	api := app.Group("/api/v1")
	api.Get("/miners", s.handleMiners)
	api.Get("/leaderboard", s.handleLeaderboard)
	api.Get("/receipts/:miner_key", s.handleReceipts)
	api.Post("/receipts", s.handleStoreReceipt)
	api.Post("/receipts/:miner_key/:request_id/accept", s.handleAcceptReceipt)
	api.Get("/graph/summary", s.handleGraphSummary)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return s
}

func errHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
		}

		logger.Error("request failed",
			zap.Error(err),
			zap.Int("status_code", code),
			zap.String("path", ctx.Path()),
			zap.String("method", ctx.Method()),
		)
		return ctx.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}

func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		s.logger.Info("request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.String("ip", c.IP()),
		)
		return err
	}
}

func (s *Server) handleMiners(c *fiber.Ctx) error {
	token := c.Query("token", s.token)
	miners, err := s.registry.ListByToken(token)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list miners")
	}
	return c.JSON(fiber.Map{"token": token, "miners": miners})
}

func (s *Server) handleLeaderboard(c *fiber.Ctx) error {
	token := c.Query("token", s.token)
	board, err := s.registry.Leaderboard(token)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to build leaderboard")
	}
	return c.JSON(fiber.Map{"token": token, "leaderboard": board})
}

func (s *Server) handleReceipts(c *fiber.Ctx) error {
	minerKey := c.Params("miner_key")
	if minerKey == "" {
		return fiber.NewError(fiber.StatusBadRequest, "miner_key is required")
	}
	receipts, err := s.registry.ReceiptsByMiner(minerKey)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list receipts")
	}
	return c.JSON(fiber.Map{"miner_key": minerKey, "receipts": receipts})
}

// handleStoreReceipt records one served query reported by the query layer.
// These receipts feed the acceptance multiplier and the organic-usage network
// weights on the validator side.
func (s *Server) handleStoreReceipt(c *fiber.Ctx) error {
	var rc registry.Receipt
	if err := c.BodyParser(&rc); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid receipt payload")
	}
	if rc.RequestID == "" || rc.MinerKey == "" || rc.Token == "" {
		return fiber.NewError(fiber.StatusBadRequest, "request_id, miner_key and token are required")
	}
	if rc.Timestamp.IsZero() {
		rc.Timestamp = time.Now().UTC()
	}
	if err := s.registry.StoreReceipt(rc); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to store receipt")
	}
	return c.Status(fiber.StatusCreated).JSON(rc)
}

// handleAcceptReceipt marks a stored receipt as the accepted answer for its
// request.
func (s *Server) handleAcceptReceipt(c *fiber.Ctx) error {
	minerKey := c.Params("miner_key")
	requestID := c.Params("request_id")
	token := c.Query("token", s.token)
	if minerKey == "" || requestID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "miner_key and request_id are required")
	}
	if err := s.registry.AcceptReceipt(token, minerKey, requestID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "receipt not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to accept receipt")
	}
	return c.JSON(fiber.Map{"token": token, "miner_key": minerKey, "request_id": requestID, "accepted": true})
}

func (s *Server) handleGraphSummary(c *fiber.Ctx) error {
	if s.graph == nil {
		return fiber.NewError(fiber.StatusNotFound, "graph store not enabled")
	}
	return c.JSON(s.graph.Counts())
}

// Start blocks serving requests until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.GatewayAddress, s.cfg.GatewayPort)
	s.logger.Info("gateway listening", zap.String("addr", addr))
	return s.App.Listen(addr)
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown() error {
	return s.App.Shutdown()
}
