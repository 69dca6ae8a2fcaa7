// Package nodes implements a small set of illustrative node types over the
// graph core in package node: free-form and single-start scheduled
// sources, a gain stage, the context sink, explicit channel-count
// splitter/merger nodes, and two network/codec boundary pairs (Opus,
// WebRTC). None of these are the subject of the graph-execution core —
// they exist to exercise it end to end.
package nodes

import "errors"

// ErrAlreadyStarted marks a second start() call on a single-start source
// (§4.9: "can only be started once").
var ErrAlreadyStarted = errors.New("nodes: source can only be started once")
