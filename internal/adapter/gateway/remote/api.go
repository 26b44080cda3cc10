// Package remote lets a device served by another process take part in a distributed
// transaction over HTTP/JSON.
//
//	POST /v1/devices/{device}/handles      create a local transaction
//	POST /v1/handles/{handle}/start        start it (sync and local-only flags)
//	POST /v1/handles/{handle}/write        record one update
//	POST /v1/handles/{handle}/stop         commit, or abort with the carried result
//	GET  /v1/devices/{device}/keys         list committed keys
//	GET  /v1/devices/{device}/entries/{key...}
package remote

import (
	"fmt"

	"github.com/YoshitsuguKoike/mdtxn/internal/domain/model/update"
)

type createResponse struct {
	Handle   string `json:"handle"`
	HandleID string `json:"handle_id"`
}

type startRequest struct {
	Sync      bool   `json:"sync"`
	LocalOnly bool   `json:"local_only"`
	TopTxnID  string `json:"top_txn_id,omitempty"`
}

type writeRequest struct {
	Op update.Op `json:"op"`
}

// stopRequest carries the recorded result; an empty Error commits.
type stopRequest struct {
	Sync  bool   `json:"sync"`
	Error string `json:"error,omitempty"`
	Code  int    `json:"code,omitempty"`
}

type entryResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type keysResponse struct {
	Keys []string `json:"keys"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Error is a failure reported by the other side. Code keeps the status code so that
// distxn.Code returns the same value on both ends.
type Error struct {
	Status  int
	Message string
	code    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s (code %d)", e.Message, e.code)
}

// Code returns the negative status code of the remote failure
func (e *Error) Code() int {
	if e.code == 0 {
		return -1
	}
	return e.code
}
