// Package mcp provides an MCP (Model Context Protocol) server exposing the
// memory store as agent tools. Writes made through these tools go through
// the store like any other local write and therefore replicate.
package mcp

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/memsync/pkg/memory"
	"github.com/papercomputeco/memsync/pkg/utils"
)

type Config struct {
	// Driver is the memory store the tools operate on
	Driver memory.Driver

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured slog logger
	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
	logger    *slog.Logger
}

// NewServer creates a new MCP server with the memory tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "memsync",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Driver == nil {
			return nil, errors.New("memory driver is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}
		s.logger = c.Logger.With("component", "mcp")

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        saveToolName,
			Description: saveDescription,
		}, s.handleSave)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        getToolName,
			Description: getDescription,
		}, s.handleGet)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        searchToolName,
			Description: searchDescription,
		}, s.handleSearch)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        deleteToolName,
			Description: deleteDescription,
		}, s.handleDelete)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        statsToolName,
			Description: statsDescription,
		}, s.handleStats)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}
