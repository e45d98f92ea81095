// Package miner is the reference miner server. It answers discovery
// handshakes, live challenges and snapshot queries from a static dataset
// file, the same surface a production scraper-backed miner exposes.
package miner

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/config"
	"github.com/tokengraph-labs/tokengraph/internal/dataset"
	"github.com/tokengraph-labs/tokengraph/internal/protocol"
	"github.com/tokengraph-labs/tokengraph/pkg/signature"
)

// Server serves the miner protocol endpoints over HTTP.
type Server struct {
	App     *fiber.App
	cfg     *config.ServerEnvConfig
	entries []protocol.DatasetEntry
}

// NewServer loads and validates the configured dataset file and wires the
// protocol routes. A dataset that fails structural validation is a startup
// error, not something to discover at challenge time.
func NewServer(cfg *config.ServerEnvConfig, verifier signature.SignatureVerifier) (*Server, error) {
	raw, err := os.ReadFile(cfg.DatasetFile)
	if err != nil {
		return nil, fmt.Errorf("read dataset file: %w", err)
	}

	valid, err := dataset.Validate(raw)
	if err != nil {
		return nil, fmt.Errorf("parse dataset file: %w", err)
	}
	if !valid {
		return nil, fmt.Errorf("dataset file %s failed validation", cfg.DatasetFile)
	}

	entries, err := dataset.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode dataset file: %w", err)
	}

	// Freshest first so challenges answer from the newest claim.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Tweet.Timestamp > entries[j].Tweet.Timestamp
	})

	app := fiber.New(fiber.Config{
		Prefork:      false,
		ErrorHandler: fiberErrHandler,
		JSONEncoder:  sonic.Marshal,
		JSONDecoder:  sonic.Unmarshal,
		BodyLimit:    cfg.BodySizeLimit,
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestCompression}))

	s := &Server{App: app, cfg: cfg, entries: entries}

	whitelistedRoutes := []string{"/health", "/snapshot"}
	app.Use(SignatureMiddleware(verifier, whitelistedRoutes))

	app.Get("/health", s.handleHealth)
	app.Post("/discovery", s.handleDiscovery)
	app.Post("/challenge", s.handleChallenge)
	app.Get("/snapshot", s.handleSnapshot)

	return s, nil
}

func fiberErrHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	log.Error().
		Err(err).
		Int("status_code", code).
		Str("path", ctx.Path()).
		Str("method", ctx.Method()).
		Msg("Fiber error handler triggered")

	return ctx.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleDiscovery(c *fiber.Ctx) error {
	var req protocol.DiscoveryRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid discovery request")
	}

	log.Info().
		Str("validator_key", req.ValidatorKey).
		Str("validator_version", req.ValidatorVersion).
		Msg("Discovery handshake received")

	return c.JSON(protocol.Discovery{
		Token:        s.cfg.MinerToken,
		Version:      protocol.Version,
		GraphDB:      s.cfg.GraphEngine,
		SnapshotLink: s.cfg.SnapshotLink,
	})
}

func (s *Server) handleChallenge(c *fiber.Ctx) error {
	var req protocol.ChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid challenge request")
	}

	if len(s.entries) == 0 {
		return fiber.NewError(fiber.StatusServiceUnavailable, "no dataset entries available")
	}

	entry := s.entries[0]
	return c.JSON(protocol.ChallengeResponse{
		Token: s.cfg.MinerToken,
		Output: protocol.ChallengeOutput{
			TweetID:       entry.Tweet.ID,
			UserID:        entry.UserAccount.UserID,
			TweetDate:     entry.Tweet.Timestamp,
			FollowerCount: entry.UserAccount.FollowerCount,
			Verified:      entry.UserAccount.IsVerified,
		},
	})
}

func (s *Server) handleSnapshot(c *fiber.Ctx) error {
	if s.cfg.SnapshotLink == "" {
		return fiber.NewError(fiber.StatusNotFound, "no snapshot published")
	}
	return c.JSON(protocol.SnapshotInfo{
		Token:        s.cfg.MinerToken,
		SnapshotLink: s.cfg.SnapshotLink,
	})
}

// Start blocks serving requests until the listener fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	log.Info().Str("addr", addr).Msg("Miner server listening")
	return s.App.Listen(addr)
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown() error {
	return s.App.Shutdown()
}
