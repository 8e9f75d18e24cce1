// Copyright 2025 TensorMesh Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package comm provides the public API for TensorMesh transports.
//
// A Transport is the point-to-point capability everything else is built on:
// non-blocking sends and receives matched on (source, tag). Two
// implementations ship with TensorMesh:
//
//   - an in-process transport (NewInprocWorld) where every rank is a
//     goroutine in one process, used by tests and single-machine runs
//   - a NATS transport (DialNATS / NewNATS) where ranks are processes
//     connected through a NATS server
//
// Sends and receives carry no timeouts. A worker that calls collectives in
// a different order than its peers deadlocks rather than corrupting data;
// the call-order discipline is stated on the partition package.
package comm

import (
	"github.com/nats-io/nats.go"

	"github.com/tensormesh/tensormesh/internal/comm"
	"github.com/tensormesh/tensormesh/internal/comm/inproc"
	"github.com/tensormesh/tensormesh/internal/comm/natscomm"
)

// Transport is a rank-addressed point-to-point message fabric.
type Transport = comm.Transport

// Request is a handle on an in-flight send or receive.
type Request = comm.Request

// Sentinel errors.
var (
	// ErrTransport wraps transport-level failures.
	ErrTransport = comm.ErrTransport

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = comm.ErrClosed
)

// WaitAll waits for every request and returns the first error.
func WaitAll(reqs []Request) error {
	return comm.WaitAll(reqs)
}

// World is a set of in-process transport endpoints, one per rank.
type World = inproc.World

// NewInprocWorld creates an in-process world of the given size. Hand each
// rank's Endpoint to one worker goroutine.
func NewInprocWorld(size int) *World {
	return inproc.NewWorld(size)
}

// NATSConfig identifies one worker on a NATS fabric: server URL, subject
// prefix, rank and world size. It is YAML-loadable with LoadNATSConfig.
type NATSConfig = natscomm.Config

// NATSOption configures a NATS transport.
type NATSOption = natscomm.Option

// WithNATSLogger sets the logger for NATS connection lifecycle events.
var WithNATSLogger = natscomm.WithLogger

// LoadNATSConfig reads a worker config from a YAML file.
func LoadNATSConfig(path string) (NATSConfig, error) {
	return natscomm.LoadConfig(path)
}

// NATSTransport is the NATS-backed Transport implementation.
type NATSTransport = natscomm.Transport

// DialNATS connects to the NATS server named in cfg and blocks until every
// worker of the job has joined the fabric.
func DialNATS(cfg NATSConfig, opts ...NATSOption) (*NATSTransport, error) {
	return natscomm.Dial(cfg, opts...)
}

// NewNATS joins the fabric over an existing NATS connection; the connection
// stays owned by the caller.
func NewNATS(nc *nats.Conn, cfg NATSConfig, opts ...NATSOption) (*NATSTransport, error) {
	return natscomm.New(nc, cfg, opts...)
}
