package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/papercomputeco/memsync/pkg/replication"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 16 << 20

// OpenFunc opens the store named by an open request.
type OpenFunc func(ctx context.Context, path string) (replication.Remote, error)

// Server answers requests against the store selected by the first open call.
type Server struct {
	open   OpenFunc
	logger *slog.Logger

	remote replication.Remote
}

// NewServer creates a server that opens stores with open.
func NewServer(open OpenFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		open:   open,
		logger: logger.With("component", "rpc-server"),
	}
}

// Serve reads requests from r and writes responses to w until r reaches EOF
// or ctx is cancelled. Requests are handled one at a time in order.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	defer s.closeRemote()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("malformed request", "error", err)
			if err := enc.Encode(Response{Error: &Error{Code: CodeBadRequest, Message: err.Error()}}); err != nil {
				return fmt.Errorf("writing response: %w", err)
			}
			continue
		}

		resp := s.handle(ctx, &req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, req *Request) Response {
	result, err := s.dispatch(ctx, req)
	if err != nil {
		var rpcErr *Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &Error{Code: CodeInternal, Message: err.Error()}
		}
		s.logger.Debug("request failed", "method", req.Method, "error", err)
		return Response{ID: req.ID, Error: rpcErr}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Error: &Error{Code: CodeInternal, Message: err.Error()}}
	}
	return Response{ID: req.ID, Result: payload}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	if req.Method == MethodOpen {
		var p OpenParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, &Error{Code: CodeBadRequest, Message: "path is required"}
		}

		s.closeRemote()
		remote, err := s.open(ctx, p.Path)
		if err != nil {
			return nil, err
		}
		s.remote = remote
		s.logger.Info("peer store opened", "path", p.Path)
		return s.probe(ctx)
	}

	if s.remote == nil {
		return nil, &Error{Code: CodeNotOpen, Message: "no store open; call open first"}
	}

	switch req.Method {
	case MethodProbe:
		return s.probe(ctx)

	case MethodFetchPending:
		var p FetchPendingParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		entries, err := s.remote.FetchPending(ctx, p.ExcludeOrigin, p.Limit)
		if err != nil {
			return nil, err
		}
		return replication.PendingResponse{Entries: entries}, nil

	case MethodFetchRecord:
		var p FetchRecordParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		rec, err := s.remote.FetchRecord(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return replication.RecordResponse{Record: rec}, nil

	case MethodApply:
		var p replication.ApplyRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if p.Record == nil {
			return nil, &Error{Code: CodeBadRequest, Message: "record is required"}
		}
		result, err := s.remote.Apply(ctx, p.Operation, p.Record)
		if err != nil {
			return nil, err
		}
		return result, nil

	case MethodAckSynced:
		var p replication.AckRequest
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.remote.AckSynced(ctx, p.LogIDs); err != nil {
			return nil, err
		}
		return struct{}{}, nil

	default:
		return nil, &Error{Code: CodeUnknown, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (s *Server) probe(ctx context.Context) (replication.ProbeResponse, error) {
	if err := s.remote.Probe(ctx); err != nil {
		return replication.ProbeResponse{}, err
	}

	var resp replication.ProbeResponse
	if id, ok := s.remote.(interface{ NodeID() string }); ok {
		resp.NodeID = id.NodeID()
	}
	return resp, nil
}

func (s *Server) closeRemote() {
	if s.remote == nil {
		return
	}
	if err := s.remote.Close(); err != nil {
		s.logger.Warn("closing peer store", "error", err)
	}
	s.remote = nil
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return &Error{Code: CodeBadRequest, Message: err.Error()}
	}
	return nil
}
