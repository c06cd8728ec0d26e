package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/memsync/pkg/memory"
)

var (
	saveToolName    = "memory_save"
	saveDescription = "Save a memory to the memsync store. Provide an id to update an existing memory, or omit it to create a new one. Saved memories replicate to the peer node."

	getToolName    = "memory_get"
	getDescription = "Get a single memory by id."

	searchToolName    = "memory_search"
	searchDescription = "Search memories by case-insensitive substring over title, content and tags. Returns the most recently updated matches first."

	deleteToolName    = "memory_delete"
	deleteDescription = "Delete a memory by id. The deletion replicates to the peer node."

	statsToolName    = "memory_stats"
	statsDescription = "Report how many memories are stored, broken down by domain and status."
)

const defaultSearchLimit = 10

// MemoryView is the tool-facing shape of a record.
type MemoryView struct {
	ID         string   `json:"id"`
	Domain     string   `json:"domain"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Workspace  string   `json:"workspace,omitempty"`
	Repository string   `json:"repository,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Status     string   `json:"status,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	UpdatedAt  string   `json:"updated_at"`
	OriginID   string   `json:"origin_id"`
	Version    int64    `json:"version"`
}

func newMemoryView(r *memory.Record) MemoryView {
	v := MemoryView{
		ID:        r.ID,
		Domain:    r.Domain,
		Title:     r.Title,
		Content:   r.Content,
		Workspace: r.Workspace,
		Tags:      r.Tags,
		Status:    r.Status,
		Priority:  r.Priority,
		UpdatedAt: memory.FormatTime(r.UpdatedAt),
		OriginID:  r.OriginID,
		Version:   r.Version,
	}
	if r.Repository != nil {
		v.Repository = *r.Repository
	}
	return v
}

// SaveInput represents the input arguments for the memory_save tool.
type SaveInput struct {
	ID         string   `json:"id,omitempty" jsonschema:"id of an existing memory to update; omit to create"`
	Domain     string   `json:"domain" jsonschema:"knowledge domain, e.g. engineering"`
	Title      string   `json:"title" jsonschema:"short title"`
	Content    string   `json:"content" jsonschema:"the memory text"`
	Workspace  string   `json:"workspace,omitempty" jsonschema:"workspace the memory belongs to"`
	Repository string   `json:"repository,omitempty" jsonschema:"repository the memory refers to"`
	Tags       []string `json:"tags,omitempty" jsonschema:"free-form tags"`
	Status     string   `json:"status,omitempty" jsonschema:"lifecycle status, e.g. active"`
	Priority   string   `json:"priority,omitempty" jsonschema:"priority, e.g. high"`
}

// SaveOutput is the result of memory_save.
type SaveOutput struct {
	ID string `json:"id"`
}

// GetInput represents the input arguments for memory_get and memory_delete.
type GetInput struct {
	ID string `json:"id" jsonschema:"the memory id"`
}

// GetOutput is the result of memory_get.
type GetOutput struct {
	Memory MemoryView `json:"memory"`
}

// SearchInput represents the input arguments for memory_search.
type SearchInput struct {
	Query string `json:"query" jsonschema:"text to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
}

// SearchOutput is the result of memory_search.
type SearchOutput struct {
	Query   string       `json:"query"`
	Results []MemoryView `json:"results"`
	Count   int          `json:"count"`
}

// DeleteOutput is the result of memory_delete.
type DeleteOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// StatsInput takes no arguments.
type StatsInput struct{}

// StatsOutput is the result of memory_stats.
type StatsOutput struct {
	TotalRecords int            `json:"total_records"`
	Tombstones   int            `json:"tombstones"`
	DistinctTags int            `json:"distinct_tags"`
	ByDomain     map[string]int `json:"by_domain"`
	ByStatus     map[string]int `json:"by_status"`
}

func (s *Server) handleSave(ctx context.Context, _ *mcp.CallToolRequest, input SaveInput) (*mcp.CallToolResult, SaveOutput, error) {
	if strings.TrimSpace(input.Title) == "" && strings.TrimSpace(input.Content) == "" {
		return errorResult("title or content is required"), SaveOutput{}, nil
	}

	rec := &memory.Record{
		ID:        input.ID,
		Domain:    input.Domain,
		Title:     input.Title,
		Content:   input.Content,
		Workspace: input.Workspace,
		Tags:      input.Tags,
		Status:    input.Status,
		Priority:  input.Priority,
	}
	if input.Repository != "" {
		rec.Repository = &input.Repository
	}

	id, err := s.config.Driver.Put(ctx, rec)
	if err != nil {
		s.logger.Error("memory_save failed", "error", err)
		return errorResult(fmt.Sprintf("Saving memory failed: %v", err)), SaveOutput{}, nil
	}

	output := SaveOutput{ID: id}
	return jsonResult(output), output, nil
}

func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, GetOutput, error) {
	if input.ID == "" {
		return errorResult("id is required"), GetOutput{}, nil
	}

	rec, err := s.config.Driver.Get(ctx, input.ID)
	if memory.IsNotFound(err) {
		return errorResult(fmt.Sprintf("No memory with id %q", input.ID)), GetOutput{}, nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("Reading memory failed: %v", err)), GetOutput{}, nil
	}

	output := GetOutput{Memory: newMemoryView(rec)}
	return jsonResult(output), output, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return errorResult("query is required"), SearchOutput{}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	records, err := s.config.Driver.Search(ctx, input.Query, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("Search failed: %v", err)), SearchOutput{}, nil
	}

	results := make([]MemoryView, 0, len(records))
	for _, r := range records {
		results = append(results, newMemoryView(r))
	}

	output := SearchOutput{Query: input.Query, Results: results, Count: len(results)}
	return jsonResult(output), output, nil
}

func (s *Server) handleDelete(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if input.ID == "" {
		return errorResult("id is required"), DeleteOutput{}, nil
	}

	deleted, err := s.config.Driver.Delete(ctx, input.ID)
	if err != nil {
		s.logger.Error("memory_delete failed", "id", input.ID, "error", err)
		return errorResult(fmt.Sprintf("Deleting memory failed: %v", err)), DeleteOutput{}, nil
	}

	output := DeleteOutput{ID: input.ID, Deleted: deleted}
	return jsonResult(output), output, nil
}

func (s *Server) handleStats(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := s.config.Driver.Stats(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("Reading stats failed: %v", err)), StatsOutput{}, nil
	}

	output := StatsOutput{
		TotalRecords: stats.TotalRecords,
		Tombstones:   stats.Tombstones,
		DistinctTags: stats.DistinctTags,
		ByDomain:     stats.ByDomain,
		ByStatus:     stats.ByStatus,
	}
	return jsonResult(output), output, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
	}
}

func jsonResult(output any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to serialize results: %v", err))
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}
}
