// Package pipeline describes the device-side processing graph: typed node
// descriptors, the links between their ports, and the one-time commit that
// freezes the topology before it is handed to a device.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

var (
	ErrCommitted     = errors.New("pipeline already committed")
	ErrNotCommitted  = errors.New("pipeline not committed")
	ErrUnknownPort   = errors.New("unknown port")
	ErrInputLinked   = errors.New("input already linked")
	ErrCycle         = errors.New("link would create a cycle")
	ErrDuplicateName = errors.New("duplicate node name")
	ErrForeignNode   = errors.New("node belongs to another pipeline")
)

// Link records one edge of the processing graph.
type Link struct {
	From     string `json:"from"`
	FromPort string `json:"from_port"`
	To       string `json:"to"`
	ToPort   string `json:"to_port"`
}

func (l Link) String() string {
	return fmt.Sprintf("%s.%s -> %s.%s", l.From, l.FromPort, l.To, l.ToPort)
}

// Pipeline owns node descriptors and the link registry. Topology can only
// change before Commit.
type Pipeline struct {
	mu        sync.Mutex
	nextID    int64
	nodes     []*Node
	byName    map[string]*Node
	links     []Link
	sources   map[Input]Output
	g         *simple.DirectedGraph
	committed bool
	order     []*Node
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{
		byName:  make(map[string]*Node),
		sources: make(map[Input]Output),
		g:       simple.NewDirectedGraph(),
	}
}

// Create allocates a descriptor of the given kind with its default config.
func (p *Pipeline) Create(kind Kind, name string) (*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.committed {
		return nil, fmt.Errorf("create %s %q: %w", kind, name, ErrCommitted)
	}
	cfg := defaultConfig(kind)
	if cfg == nil {
		return nil, fmt.Errorf("create %q: unsupported node kind %s", name, kind)
	}
	if name == "" {
		return nil, fmt.Errorf("create %s: empty node name", kind)
	}
	if _, ok := p.byName[name]; ok {
		return nil, fmt.Errorf("create %s: %w: %q", kind, ErrDuplicateName, name)
	}
	n := &Node{id: p.nextID, name: name, kind: kind, cfg: cfg, p: p}
	p.nextID++
	p.nodes = append(p.nodes, n)
	p.byName[name] = n
	p.g.AddNode(n)
	return n, nil
}

// Link registers out -> in. Each input accepts one source and the graph
// must stay acyclic.
func (p *Pipeline) Link(out Output, in Input) error {
	if out.node == nil || in.node == nil {
		return fmt.Errorf("link %s -> %s: %w", out, in, ErrUnknownPort)
	}
	if out.node.p != p || in.node.p != p {
		return fmt.Errorf("link %s -> %s: %w", out, in, ErrForeignNode)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.committed {
		return fmt.Errorf("link %s -> %s: %w", out, in, ErrCommitted)
	}
	if prev, ok := p.sources[in]; ok {
		return fmt.Errorf("link %s -> %s: %w (from %s)", out, in, ErrInputLinked, prev)
	}
	if out.node == in.node || topo.PathExistsIn(p.g, in.node, out.node) {
		return fmt.Errorf("link %s -> %s: %w", out, in, ErrCycle)
	}

	p.g.SetEdge(p.g.NewEdge(out.node, in.node))
	p.sources[in] = out
	p.links = append(p.links, Link{
		From:     out.node.name,
		FromPort: out.port,
		To:       in.node.name,
		ToPort:   in.port,
	})
	return nil
}

// Commit resolves the graph into a topological order and freezes it.
// Every stream endpoint must have a source and a unique, non-empty name.
func (p *Pipeline) Commit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.committed {
		return ErrCommitted
	}

	streams := make(map[string]bool)
	for _, n := range p.nodes {
		if n.kind != KindXLinkOut {
			continue
		}
		name := n.XLinkOut().StreamName
		if name == "" {
			return fmt.Errorf("commit: stream endpoint %q has no stream name", n.name)
		}
		if streams[name] {
			return fmt.Errorf("commit: duplicate stream name %q", name)
		}
		streams[name] = true
		if _, ok := p.sources[Input{node: n, port: "input"}]; !ok {
			return fmt.Errorf("commit: stream %q has no source", name)
		}
	}

	sorted, err := topo.Sort(p.g)
	if err != nil {
		return fmt.Errorf("commit: %w: %v", ErrCycle, err)
	}
	order := make([]*Node, 0, len(sorted))
	for _, gn := range sorted {
		order = append(order, gn.(*Node))
	}
	p.order = order
	p.committed = true
	return nil
}

// Committed reports whether Commit has succeeded.
func (p *Pipeline) Committed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committed
}

// Node looks a descriptor up by name.
func (p *Pipeline) Node(name string) (*Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.byName[name]
	return n, ok
}

// Nodes returns descriptors in creation order.
func (p *Pipeline) Nodes() []*Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Node(nil), p.nodes...)
}

// Links returns the registered links in declaration order.
func (p *Pipeline) Links() []Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Link(nil), p.links...)
}

// Order returns the committed topological order.
func (p *Pipeline) Order() ([]*Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.committed {
		return nil, ErrNotCommitted
	}
	return append([]*Node(nil), p.order...), nil
}

// Source returns the output feeding in, if linked.
func (p *Pipeline) Source(in Input) (Output, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out, ok := p.sources[in]
	return out, ok
}

// Streams returns the stream names of all XLinkOut endpoints.
func (p *Pipeline) Streams() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var names []string
	for _, n := range p.nodes {
		if n.kind == KindXLinkOut {
			names = append(names, n.XLinkOut().StreamName)
		}
	}
	return names
}

// StreamNode returns the XLinkOut endpoint publishing stream.
func (p *Pipeline) StreamNode(stream string) (*Node, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.nodes {
		if n.kind == KindXLinkOut && n.XLinkOut().StreamName == stream {
			return n, true
		}
	}
	return nil, false
}

// NodeSchema is the serialisable form of a descriptor.
type NodeSchema struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Config Config `json:"config"`
}

// Schema is the serialisable form of a pipeline, used by the debug pages and
// by device transports that ship the graph as JSON.
type Schema struct {
	Committed bool         `json:"committed"`
	Nodes     []NodeSchema `json:"nodes"`
	Links     []Link       `json:"links"`
}

// Schema snapshots the pipeline.
func (p *Pipeline) Schema() Schema {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Schema{Committed: p.committed, Links: append([]Link(nil), p.links...)}
	nodes := p.nodes
	if p.committed {
		nodes = p.order
	}
	for _, n := range nodes {
		s.Nodes = append(s.Nodes, NodeSchema{ID: n.id, Name: n.name, Kind: n.kind.String(), Config: n.cfg})
	}
	return s
}
