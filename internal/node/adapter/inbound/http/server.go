package http_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/anthanhphan/go-replicated-kv/internal/node/config"
	"github.com/anthanhphan/go-replicated-kv/internal/node/domain"
	"github.com/anthanhphan/go-replicated-kv/internal/node/metrics"
	"github.com/anthanhphan/go-replicated-kv/internal/node/port"
	"github.com/anthanhphan/go-replicated-kv/pkg/merkle"
	"github.com/anthanhphan/go-replicated-kv/pkg/version"
	sdklogger "github.com/anthanhphan/gosdk/logger"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// VersionHeader carries the JSON version a write is based on, and the
// version of a read.
const VersionHeader = "X-Kv-Version"

const defaultScanLimit = 100

type Server struct {
	app     *fiber.App
	cfg     *config.Config
	service port.NodeService
	metrics *metrics.Metrics
}

func NewServer(cfg *config.Config, service port.NodeService, m *metrics.Metrics) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             domain.MaxValueSize + 4096,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())

	s := &Server{
		app:     app,
		cfg:     cfg,
		service: service,
		metrics: m,
	}

	// Routes
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	v1 := s.app.Group("/v1")
	v1.Put("/kv/:ns/:key", s.handlePut)
	v1.Get("/kv/:ns/:key", s.handleGet)
	v1.Delete("/kv/:ns/:key", s.handleDelete)
	v1.Get("/kv/:ns", s.handleScan)

	v1.Get("/ring", s.handleRing)
	v1.Get("/ring/resolve/:ns/:key", s.handleResolve)
	v1.Get("/members", s.handleMembers)
	v1.Get("/hints", s.handleHints)
	v1.Post("/repair/:partition", s.handleRepair)

	s.app.Get("/metrics", s.handleMetrics)
}

// App exposes the fiber app, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.HTTPPort))
}

func (s *Server) Stop(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// RecordView is the JSON form of a record returned to clients.
type RecordView struct {
	Namespace string          `json:"namespace"`
	Key       string          `json:"key"`
	Value     []byte          `json:"value"`
	Version   version.Version `json:"version"`
}

func viewOf(r domain.Record) RecordView {
	return RecordView{Namespace: r.Key.Namespace, Key: string(r.Key.Key), Value: r.Value, Version: r.Version}
}

func (s *Server) sendJSONError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}

// sendServiceError maps domain errors onto HTTP statuses.
func (s *Server) sendServiceError(c *fiber.Ctx, err error) error {
	var qe *domain.QuorumError
	switch {
	case errors.As(err, &qe):
		failed := make(map[string]string, len(qe.Failed))
		for node, ferr := range qe.Failed {
			failed[node] = ferr.Error()
		}
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":    err.Error(),
			"required": qe.Required,
			"acked":    qe.Acked,
			"failed":   failed,
		})
	case errors.Is(err, domain.ErrKeyNotFound):
		return s.sendJSONError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrEmptyKey),
		errors.Is(err, domain.ErrKeyTooLarge),
		errors.Is(err, domain.ErrValueTooLarge),
		errors.Is(err, domain.ErrBadNamespace),
		errors.Is(err, domain.ErrInvalidPolicy),
		errors.Is(err, merkle.ErrOutOfRange):
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotReplica):
		return s.sendJSONError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoReplicas), errors.Is(err, domain.ErrNodeUnreachable):
		return s.sendJSONError(c, fiber.StatusServiceUnavailable, err.Error())
	}
	return s.sendJSONError(c, fiber.StatusInternalServerError, err.Error())
}

func keyParams(c *fiber.Ctx) (domain.Key, error) {
	ns, err := url.PathUnescape(c.Params("ns"))
	if err != nil {
		return domain.Key{}, err
	}
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil {
		return domain.Key{}, err
	}
	return domain.NewKey(ns, []byte(key)), nil
}

func baseVersion(c *fiber.Ctx) (*version.Version, error) {
	raw := c.Get(VersionHeader)
	if raw == "" {
		return nil, nil
	}
	var v version.Version
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", VersionHeader, err)
	}
	return &v, nil
}

func (s *Server) handlePut(c *fiber.Ctx) error {
	key, err := keyParams(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	base, err := baseVersion(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}

	// The body buffer is reused by fasthttp after the handler returns.
	value := append([]byte(nil), c.Body()...)
	v, err := s.service.Put(c.UserContext(), key, value, base)
	if err != nil {
		sdklogger.Warnw("Put failed", "key", key.String(), "error", err.Error())
		return s.sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"version": v})
}

func (s *Server) handleGet(c *fiber.Ctx) error {
	key, err := keyParams(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	record, err := s.service.Get(c.UserContext(), key)
	if err != nil {
		return s.sendServiceError(c, err)
	}
	if record.Tombstone {
		return s.sendJSONError(c, fiber.StatusNotFound, domain.ErrKeyNotFound.Error())
	}
	return c.JSON(viewOf(record))
}

func (s *Server) handleDelete(c *fiber.Ctx) error {
	key, err := keyParams(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	base, err := baseVersion(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	v, err := s.service.Delete(c.UserContext(), key, base)
	if err != nil {
		sdklogger.Warnw("Delete failed", "key", key.String(), "error", err.Error())
		return s.sendServiceError(c, err)
	}
	return c.JSON(fiber.Map{"version": v})
}

func (s *Server) handleScan(c *fiber.Ctx) error {
	ns, err := url.PathUnescape(c.Params("ns"))
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	limit := c.QueryInt("limit", defaultScanLimit)
	if limit <= 0 {
		return s.sendJSONError(c, fiber.StatusBadRequest, "limit must be positive")
	}

	records, err := s.service.Scan(c.UserContext(), ns, []byte(c.Query("prefix")), limit)
	if err != nil {
		return s.sendServiceError(c, err)
	}
	views := make([]RecordView, len(records))
	for i, r := range records {
		views[i] = viewOf(r)
	}
	return c.JSON(views)
}

func (s *Server) handleRing(c *fiber.Ctx) error {
	return c.JSON(s.service.Ring().Export())
}

func (s *Server) handleResolve(c *fiber.Ctx) error {
	key, err := keyParams(c)
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, err.Error())
	}
	if err := key.Validate(); err != nil {
		return s.sendServiceError(c, err)
	}
	return c.JSON(s.service.Resolve(key))
}

func (s *Server) handleMembers(c *fiber.Ctx) error {
	return c.JSON(s.service.Members())
}

func (s *Server) handleHints(c *fiber.Ctx) error {
	stats, err := s.service.Hints(c.UserContext())
	if err != nil {
		return s.sendServiceError(c, err)
	}
	return c.JSON(stats)
}

func (s *Server) handleRepair(c *fiber.Ctx) error {
	partition, err := strconv.Atoi(c.Params("partition"))
	if err != nil {
		return s.sendJSONError(c, fiber.StatusBadRequest, "partition must be an integer")
	}

	reports, err := s.service.RepairPartition(c.UserContext(), partition)
	if err != nil {
		sdklogger.Warnw("Manual repair failed", "partition", partition, "error", err.Error())
		if len(reports) == 0 {
			return s.sendServiceError(c, err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   err.Error(),
			"reports": reports,
		})
	}
	return c.JSON(fiber.Map{"reports": reports})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	s.metrics.WritePrometheus(c)
	return nil
}
