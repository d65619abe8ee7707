// Package common holds cross-layer primitive types shared by the domain,
// application, infrastructure, and interface layers.  Nothing in this package
// may import from internal/.
package common

import (
	"time"

	"github.com/google/uuid"
)

// ID is a string alias for UUID v4.
type ID string

// NewID returns a fresh random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// BaseEntity carries identity and audit metadata for domain entities and DTOs.
type BaseEntity struct {
	ID        ID        `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrorDetail provides structured error information for API responses and
// audit records.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// APIResponse is the generic wrapper for all REST responses.
type APIResponse[T any] struct {
	Success   bool         `json:"success"`
	Data      T            `json:"data,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// StatusCounts summarises a batch by terminal and non-terminal job states.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Total returns the number of jobs accounted for.
func (s StatusCounts) Total() int {
	return s.Pending + s.Running + s.Succeeded + s.Failed + s.Skipped
}

// Drained reports whether every job has reached a terminal state.
func (s StatusCounts) Drained() bool {
	return s.Pending == 0 && s.Running == 0
}
