package api

import (
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/replication"
	"github.com/papercomputeco/memsync/pkg/replication/daemon"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status  string         `json:"status"`
	NodeID  string         `json:"node_id"`
	Daemon  *daemon.Status `json:"daemon,omitempty"`
	Pending int            `json:"pending"`
	// OldestPendingSeconds is the age of the oldest unsynced mutation.
	OldestPendingSeconds float64 `json:"oldest_pending_seconds"`
	LastLogID            int64   `json:"last_log_id"`
	Archived             int     `json:"archived"`
}

// SearchResponse is returned by /v1/memories/search.
type SearchResponse struct {
	Query   string           `json:"query"`
	Results []*memory.Record `json:"results"`
	Count   int              `json:"count"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleHealth reports daemon state and the local replication backlog.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	stats, err := s.store.ReplicationStats(c.Context())
	if err != nil {
		s.logger.Error("reading replication stats", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "store unavailable"})
	}

	resp := HealthResponse{
		Status:               "ok",
		NodeID:               stats.NodeID,
		Pending:              stats.Pending,
		OldestPendingSeconds: stats.OldestPendingAge(time.Now()).Seconds(),
		LastLogID:            stats.LastLogID,
		Archived:             stats.Archived,
	}
	if s.daemon != nil {
		status := s.daemon.Status()
		resp.Daemon = &status
		if status.State == daemon.StateStopped {
			resp.Status = "stopped"
		}
	}

	return c.JSON(resp)
}

func (s *Server) handleProbe(c *fiber.Ctx) error {
	if err := s.peer.Probe(c.Context()); err != nil {
		s.logger.Error("probe failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "store unavailable"})
	}
	return c.JSON(replication.ProbeResponse{NodeID: s.store.NodeID()})
}

func (s *Server) handlePending(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", replication.MaxBatch)
	entries, err := s.peer.FetchPending(c.Context(), c.Query("exclude_origin"), limit)
	if err != nil {
		s.logger.Error("reading pending entries", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read pending entries"})
	}
	if entries == nil {
		entries = []memory.LogEntry{}
	}
	return c.JSON(replication.PendingResponse{Entries: entries})
}

// handleRecord takes the id as a query parameter so ids holding slashes or
// escapes survive routing. An absent record is a null body, not a 404.
func (s *Server) handleRecord(c *fiber.Ctx) error {
	id := c.Query("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query parameter 'id' is required"})
	}
	rec, err := s.peer.FetchRecord(c.Context(), id)
	if err != nil {
		s.logger.Error("looking up record", "record_id", id, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to look up record"})
	}
	return c.JSON(replication.RecordResponse{Record: rec})
}

func (s *Server) handleApply(c *fiber.Ctx) error {
	var req replication.ApplyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if req.Record == nil || req.Record.ID == "" || req.Record.OriginID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "record with id and origin_id is required"})
	}
	if _, err := memory.ParseOperation(string(req.Operation)); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	result, err := s.peer.Apply(c.Context(), req.Operation, req.Record)
	if err != nil {
		s.logger.Error("applying remote mutation", "record_id", req.Record.ID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to apply mutation"})
	}
	return c.JSON(result)
}

func (s *Server) handleAck(c *fiber.Ctx) error {
	var req replication.AckRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if err := s.peer.AckSynced(c.Context(), req.LogIDs); err != nil {
		s.logger.Error("acknowledging entries", "count", len(req.LogIDs), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to acknowledge entries"})
	}
	return c.JSON(fiber.Map{"acked": len(req.LogIDs)})
}

// handleStats returns aggregate record counts.
func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.store.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read stats"})
	}
	return c.JSON(stats)
}

// handleSearch runs a substring search over live records.
func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("q")
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "query parameter 'q' is required"})
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "limit must be a positive integer"})
		}
		limit = n
	}

	results, err := s.store.Search(c.Context(), query, limit)
	if err != nil {
		s.logger.Error("search failed", "query", query, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "search failed"})
	}
	if results == nil {
		results = []*memory.Record{}
	}

	return c.JSON(SearchResponse{Query: query, Results: results, Count: len(results)})
}

// handleGetMemory returns a single live record.
func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	// Route params arrive still escaped.
	id, err := url.PathUnescape(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid record id"})
	}
	rec, err := s.store.Get(c.Context(), id)
	if memory.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "record not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to read record"})
	}
	return c.JSON(rec)
}
