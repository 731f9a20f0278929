package pipeline

import (
	"fmt"
	"slices"
)

// Kind is the closed set of device-side node types.
type Kind int

const (
	KindCamera Kind = iota + 1
	KindStereoDepth
	KindVideoEncoder
	KindXLinkOut
	KindToF
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "Camera"
	case KindStereoDepth:
		return "StereoDepth"
	case KindVideoEncoder:
		return "VideoEncoder"
	case KindXLinkOut:
		return "XLinkOut"
	case KindToF:
		return "ToF"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type portSet struct {
	inputs  []string
	outputs []string
}

var ports = map[Kind]portSet{
	KindCamera: {
		inputs:  []string{"inputControl"},
		outputs: []string{"out", "raw"},
	},
	KindStereoDepth: {
		inputs:  []string{"left", "right", "inputConfig"},
		outputs: []string{"depth", "disparity", "syncedLeft", "syncedRight", "rectifiedLeft", "rectifiedRight", "confidenceMap"},
	},
	KindVideoEncoder: {
		inputs:  []string{"input"},
		outputs: []string{"bitstream"},
	},
	KindXLinkOut: {
		inputs: []string{"input"},
	},
	KindToF: {
		inputs:  []string{"input", "inputConfig"},
		outputs: []string{"depth", "amplitude", "intensity", "phase"},
	},
}

// Node is a device-side processing block descriptor. Nodes are created by a
// Pipeline and live as long as it does.
type Node struct {
	id   int64
	name string
	kind Kind
	cfg  Config
	p    *Pipeline
}

// ID satisfies gonum's graph.Node so the descriptor can sit directly in the
// link registry graph.
func (n *Node) ID() int64 { return n.id }

// Name returns the descriptor name, unique within its pipeline.
func (n *Node) Name() string { return n.name }

// Kind returns the node type.
func (n *Node) Kind() Kind { return n.kind }

// Config returns the kind-specific initial configuration.
func (n *Node) Config() Config { return n.cfg }

// Camera returns the camera configuration, or nil for other kinds.
func (n *Node) Camera() *CameraConfig {
	c, _ := n.cfg.(*CameraConfig)
	return c
}

// Stereo returns the stereo configuration, or nil for other kinds.
func (n *Node) Stereo() *StereoConfig {
	c, _ := n.cfg.(*StereoConfig)
	return c
}

// Encoder returns the encoder configuration, or nil for other kinds.
func (n *Node) Encoder() *EncoderConfig {
	c, _ := n.cfg.(*EncoderConfig)
	return c
}

// XLinkOut returns the stream endpoint configuration, or nil for other kinds.
func (n *Node) XLinkOut() *XLinkOutConfig {
	c, _ := n.cfg.(*XLinkOutConfig)
	return c
}

// ToF returns the ToF configuration, or nil for other kinds.
func (n *Node) ToF() *ToFConfig {
	c, _ := n.cfg.(*ToFConfig)
	return c
}

// Out returns the named output port.
func (n *Node) Out(port string) (Output, error) {
	if !slices.Contains(ports[n.kind].outputs, port) {
		return Output{}, fmt.Errorf("%w: %s has no output %q", ErrUnknownPort, n.kind, port)
	}
	return Output{node: n, port: port}, nil
}

// In returns the named input port.
func (n *Node) In(port string) (Input, error) {
	if !slices.Contains(ports[n.kind].inputs, port) {
		return Input{}, fmt.Errorf("%w: %s has no input %q", ErrUnknownPort, n.kind, port)
	}
	return Input{node: n, port: port}, nil
}

// Output is a link source on a node.
type Output struct {
	node *Node
	port string
}

// Node returns the owning descriptor.
func (o Output) Node() *Node { return o.node }

// Port returns the port name.
func (o Output) Port() string { return o.port }

// Link connects o to in in the owning pipeline.
func (o Output) Link(in Input) error {
	if o.node == nil {
		return fmt.Errorf("%w: zero output", ErrUnknownPort)
	}
	return o.node.p.Link(o, in)
}

func (o Output) String() string {
	if o.node == nil {
		return "<nil>"
	}
	return o.node.name + "." + o.port
}

// Input is a link destination on a node.
type Input struct {
	node *Node
	port string
}

// Node returns the owning descriptor.
func (i Input) Node() *Node { return i.node }

// Port returns the port name.
func (i Input) Port() string { return i.port }

func (i Input) String() string {
	if i.node == nil {
		return "<nil>"
	}
	return i.node.name + "." + i.port
}
