// Package model defines shared types for the gate.
package model

import (
	"context"
	"io"
)

// QueryParam is one decoded key/value pair of the inbound query string.
type QueryParam struct {
	Key   string
	Value string
}

// InboundRequest is a request delivered by the routing layer with its matched
// route parameters already extracted.
type InboundRequest struct {
	Ctx      context.Context
	Method   string
	Route    string
	HasRoute bool
	ID       string
	HasID    bool
	// Query keeps the original order; duplicate keys are allowed.
	Query []QueryParam
	// Body is only set for POST.
	Body io.Reader
}

// UpstreamResult is a captured backend response. A nil *UpstreamResult means
// the backend could not be reached.
type UpstreamResult struct {
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
}
