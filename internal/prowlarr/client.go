// Package prowlarr is a thin health probe for the external indexer
// aggregator. Search routing itself stays upstream; the engine only needs to
// know whether the aggregator is reachable and healthy.
package prowlarr

import (
	"context"
	"strings"
	"time"

	"github.com/fetcharr/fetcharr/internal/arr"
)

// Status summarises one health probe.
type Status struct {
	Reachable bool
	Warnings  []string
	Errors    []string
	Latency   time.Duration
}

// Client probes a Prowlarr instance.
type Client struct {
	inner *arr.Client
}

// New builds a probe client. Prowlarr speaks the same v3 conventions as the
// content servers, so the arr client is reused underneath.
func New(base, apiKey string) *Client {
	return &Client{inner: arr.New(base, apiKey, arr.Options{Timeout: 15 * time.Second})}
}

// Check pings the aggregator and collects health messages.
func (c *Client) Check(ctx context.Context) Status {
	start := time.Now()
	if err := c.inner.Ping(ctx); err != nil {
		return Status{Reachable: false, Errors: []string{err.Error()}, Latency: time.Since(start)}
	}
	st := Status{Reachable: true}
	items, err := c.inner.Health(ctx)
	if err != nil {
		st.Warnings = append(st.Warnings, "health endpoint unavailable: "+err.Error())
		st.Latency = time.Since(start)
		return st
	}
	for _, item := range items {
		switch strings.ToLower(item.Type) {
		case "error":
			st.Errors = append(st.Errors, item.Message)
		case "warning", "notice":
			st.Warnings = append(st.Warnings, item.Message)
		}
	}
	st.Latency = time.Since(start)
	return st
}
