// Package remotectl implements a websocket control channel that
// deserializes remote graph/parameter commands and posts them through
// engine.Context.ExecuteOrPost. It is a transport for invoking the core's
// existing programmatic surface (graph ops, parameter automation) — not a
// new wire format the core depends on; the core remains wire-format
// agnostic.
package remotectl

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"audiograph/engine"
	"audiograph/node"
	"audiograph/param"
)

// Command is a tagged control message, shaped like the teacher's
// ControlMsg: one JSON object per websocket text frame, dispatched on Op.
type Command struct {
	Op           string  `json:"op"`
	NodeID       string  `json:"node_id,omitempty"`
	Param        string  `json:"param,omitempty"`
	Value        float64 `json:"value,omitempty"`
	Target       float64 `json:"target,omitempty"`
	Time         float64 `json:"time,omitempty"`
	TimeConstant float64 `json:"time_constant,omitempty"`
	SrcNodeID    string  `json:"src_node_id,omitempty"`
	SrcOutput    int     `json:"src_output,omitempty"`
	DstNodeID    string  `json:"dst_node_id,omitempty"`
	DstInput     int     `json:"dst_input,omitempty"`
}

// Ack is sent back to the caller once a command has been validated and
// (for graph/param ops) posted to the render thread.
type Ack struct {
	Op    string `json:"op"`
	Error string `json:"error,omitempty"`
}

var (
	ErrUnknownOp    = errors.New("remotectl: unknown op")
	ErrUnknownNode  = errors.New("remotectl: unknown node id")
	ErrUnknownParam = errors.New("remotectl: unknown param")
)

// Registry maps caller-supplied string node IDs to live graph nodes. The
// core graph has no such naming scheme — wiring is done by passing *node.Node
// pointers directly — so this is a thin control-plane-only layer above it.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*node.Node
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{nodes: make(map[string]*node.Node)} }

// Register names n as id, overwriting any existing registration.
func (r *Registry) Register(id string, n *node.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[id] = n
}

// Unregister removes id, if present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// Lookup returns the node named id.
func (r *Registry) Lookup(id string) (*node.Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

func findParam(n *node.Node, name string) *param.Param {
	for _, p := range n.Params() {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Apply validates cmd against reg and, for ops that touch the graph, posts
// the mutation through ctx.ExecuteOrPost. Validation errors (unknown op,
// unknown node, unknown param) are returned synchronously; errors from the
// posted mutation itself (e.g. a Connect with an out-of-range port index)
// can only surface once it
// actually runs on the render thread, so they are logged rather than
// returned — the same best-effort posture as the teacher's
// writeCtrlBestEffort for non-critical control messages.
func Apply(ctx *engine.Context, reg *Registry, cmd Command) error {
	switch cmd.Op {
	case "connect":
		src, ok := reg.Lookup(cmd.SrcNodeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, cmd.SrcNodeID)
		}
		dst, ok := reg.Lookup(cmd.DstNodeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, cmd.DstNodeID)
		}
		srcOut, dstIn := cmd.SrcOutput, cmd.DstInput
		ctx.ExecuteOrPost(func() {
			if err := src.Connect(srcOut, dst, dstIn); err != nil {
				slog.Warn("remotectl: connect failed", "src", cmd.SrcNodeID, "dst", cmd.DstNodeID, "err", err)
			}
		})
		return nil

	case "disconnect":
		src, ok := reg.Lookup(cmd.SrcNodeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, cmd.SrcNodeID)
		}
		dst, ok := reg.Lookup(cmd.DstNodeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, cmd.DstNodeID)
		}
		srcOut, dstIn := cmd.SrcOutput, cmd.DstInput
		ctx.ExecuteOrPost(func() {
			if err := src.Disconnect(srcOut, dst, dstIn); err != nil {
				slog.Warn("remotectl: disconnect failed", "src", cmd.SrcNodeID, "dst", cmd.DstNodeID, "err", err)
			}
		})
		return nil

	case "set_value_at_time", "linear_ramp_to_value_at_time", "exponential_ramp_to_value_at_time", "set_target_at_time":
		n, ok := reg.Lookup(cmd.NodeID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, cmd.NodeID)
		}
		p := findParam(n, cmd.Param)
		if p == nil {
			return fmt.Errorf("%w: %s on node %s", ErrUnknownParam, cmd.Param, cmd.NodeID)
		}
		ctx.ExecuteOrPost(func() {
			var err error
			switch cmd.Op {
			case "set_value_at_time":
				err = p.SetValueAtTime(cmd.Value, cmd.Time)
			case "linear_ramp_to_value_at_time":
				err = p.LinearRampToValueAtTime(cmd.Value, cmd.Time)
			case "exponential_ramp_to_value_at_time":
				err = p.ExponentialRampToValueAtTime(cmd.Value, cmd.Time)
			case "set_target_at_time":
				err = p.SetTargetAtTime(cmd.Target, cmd.Time, cmd.TimeConstant)
			}
			if err != nil {
				slog.Warn("remotectl: param automation failed", "op", cmd.Op, "param", cmd.Param, "err", err)
			}
		})
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownOp, cmd.Op)
	}
}

// Server accepts websocket connections and dispatches each incoming
// Command to Apply, mirroring the per-connection read-loop shape of the
// teacher's readControl.
type Server struct {
	ctx      *engine.Context
	registry *Registry
	upgrader websocket.Upgrader
}

// NewServer returns a Server posting commands against ctx using reg to
// resolve node IDs.
func NewServer(ctx *engine.Context, reg *Registry) *Server {
	return &Server{
		ctx:      ctx,
		registry: reg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// client disconnects or a read fails.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("remotectl: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.writeAck(conn, Ack{Error: fmt.Sprintf("invalid command: %v", err)})
			continue
		}
		ack := Ack{Op: cmd.Op}
		if err := Apply(s.ctx, s.registry, cmd); err != nil {
			ack.Error = err.Error()
		}
		s.writeAck(conn, ack)
	}
}

func (s *Server) writeAck(conn *websocket.Conn, ack Ack) {
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Debug("remotectl: ack write failed", "err", err)
	}
}
