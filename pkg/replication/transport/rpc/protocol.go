// Package rpc carries the replication.Remote contract over any byte
// stream as line-delimited JSON. The ssh transport runs it over an SSH
// session; `memsync peer stdio` serves it on stdin and stdout.
//
// Every request is a single JSON object on its own line:
//
//	{"id":1,"method":"fetch_record","params":{"id":"..."}}
//
// and is answered by exactly one response line with the same id carrying
// either a result or an error. Values always travel as JSON parameters;
// nothing is interpolated into commands or SQL.
package rpc

import (
	"encoding/json"
	"fmt"
)

// Method names.
const (
	MethodOpen         = "open"
	MethodProbe        = "probe"
	MethodFetchPending = "fetch_pending"
	MethodFetchRecord  = "fetch_record"
	MethodApply        = "apply"
	MethodAckSynced    = "ack_synced"
)

// Error codes.
const (
	CodeBadRequest = "bad_request"
	CodeNotOpen    = "not_open"
	CodeUnknown    = "unknown_method"
	CodeInternal   = "internal"
)

// Request is one call from client to server.
type Request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is a failure reported by the server.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("peer error (%s): %s", e.Code, e.Message)
}

// OpenParams selects the database the server operates on.
type OpenParams struct {
	Path string `json:"path"`
}

// FetchPendingParams are the parameters of fetch_pending.
type FetchPendingParams struct {
	ExcludeOrigin string `json:"exclude_origin"`
	Limit         int    `json:"limit"`
}

// FetchRecordParams are the parameters of fetch_record.
type FetchRecordParams struct {
	ID string `json:"id"`
}
