package pipeline

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreate(t *testing.T, p *Pipeline, kind Kind, name string) *Node {
	t.Helper()
	n, err := p.Create(kind, name)
	require.NoError(t, err)
	return n
}

func mustOut(t *testing.T, n *Node, port string) Output {
	t.Helper()
	o, err := n.Out(port)
	require.NoError(t, err)
	return o
}

func mustIn(t *testing.T, n *Node, port string) Input {
	t.Helper()
	i, err := n.In(port)
	require.NoError(t, err)
	return i
}

// stereoGraph builds left/right cameras into a stereo block feeding one stream.
func stereoGraph(t *testing.T) (*Pipeline, *Node) {
	t.Helper()
	p := New()
	left := mustCreate(t, p, KindCamera, "left_camera")
	right := mustCreate(t, p, KindCamera, "right_camera")
	stereo := mustCreate(t, p, KindStereoDepth, "stereo_depth")
	xout := mustCreate(t, p, KindXLinkOut, "stereo_stereo")
	xout.XLinkOut().StreamName = "stereo_stereo"

	require.NoError(t, mustOut(t, left, "out").Link(mustIn(t, stereo, "left")))
	require.NoError(t, mustOut(t, right, "out").Link(mustIn(t, stereo, "right")))
	require.NoError(t, mustOut(t, stereo, "depth").Link(mustIn(t, xout, "input")))
	return p, stereo
}

func TestCreateDefaults(t *testing.T) {
	p := New()
	cam := mustCreate(t, p, KindCamera, "cam")
	assert.Equal(t, SocketAuto, cam.Camera().BoardSocket)
	assert.Nil(t, cam.Stereo())

	stereo := mustCreate(t, p, KindStereoDepth, "stereo")
	assert.Equal(t, 240, stereo.Stereo().ConfidenceThreshold)
	assert.Equal(t, Kernel7x7, stereo.Stereo().MedianFilter)

	_, err := p.Create(KindCamera, "cam")
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = p.Create(Kind(99), "bogus")
	assert.Error(t, err)
}

func TestUnknownPorts(t *testing.T) {
	p := New()
	cam := mustCreate(t, p, KindCamera, "cam")
	_, err := cam.In("left")
	assert.ErrorIs(t, err, ErrUnknownPort)
	_, err = cam.Out("depth")
	assert.ErrorIs(t, err, ErrUnknownPort)

	xout := mustCreate(t, p, KindXLinkOut, "xout")
	_, err = xout.Out("out")
	assert.ErrorIs(t, err, ErrUnknownPort)
}

func TestLinkRejectsSecondSource(t *testing.T) {
	p, stereo := stereoGraph(t)
	extra := mustCreate(t, p, KindCamera, "extra")
	err := mustOut(t, extra, "out").Link(mustIn(t, stereo, "left"))
	assert.ErrorIs(t, err, ErrInputLinked)
	assert.Len(t, p.Links(), 3)
}

func TestLinkRejectsCycle(t *testing.T) {
	p := New()
	a := mustCreate(t, p, KindVideoEncoder, "a")
	b := mustCreate(t, p, KindVideoEncoder, "b")
	require.NoError(t, mustOut(t, a, "bitstream").Link(mustIn(t, b, "input")))

	err := mustOut(t, b, "bitstream").Link(mustIn(t, a, "input"))
	assert.ErrorIs(t, err, ErrCycle)

	err = mustOut(t, a, "bitstream").Link(mustIn(t, a, "input"))
	assert.True(t, errors.Is(err, ErrCycle) || errors.Is(err, ErrInputLinked), "got %v", err)
	assert.Len(t, p.Links(), 1)
}

func TestLinkAcrossPipelines(t *testing.T) {
	p1, p2 := New(), New()
	a := mustCreate(t, p1, KindCamera, "a")
	b := mustCreate(t, p2, KindXLinkOut, "b")
	err := p1.Link(mustOut(t, a, "out"), mustIn(t, b, "input"))
	assert.ErrorIs(t, err, ErrForeignNode)
}

func TestCommitOrdersAndFreezes(t *testing.T) {
	p, stereo := stereoGraph(t)

	_, err := p.Order()
	assert.ErrorIs(t, err, ErrNotCommitted)

	require.NoError(t, p.Commit())
	assert.True(t, p.Committed())

	order, err := p.Order()
	require.NoError(t, err)
	pos := make(map[string]int)
	for i, n := range order {
		pos[n.Name()] = i
	}
	for _, l := range p.Links() {
		assert.Less(t, pos[l.From], pos[l.To], "link %s out of order", l)
	}

	_, err = p.Create(KindCamera, "late")
	assert.ErrorIs(t, err, ErrCommitted)
	left, _ := p.Node("left_camera")
	err = mustOut(t, stereo, "disparity").Link(mustIn(t, left, "inputControl"))
	assert.ErrorIs(t, err, ErrCommitted)
	assert.ErrorIs(t, p.Commit(), ErrCommitted)
}

func TestCommitValidatesStreams(t *testing.T) {
	p := New()
	cam := mustCreate(t, p, KindCamera, "cam")
	xout := mustCreate(t, p, KindXLinkOut, "xout")
	assert.Error(t, p.Commit(), "empty stream name")

	xout.XLinkOut().StreamName = "cam_mono"
	assert.Error(t, p.Commit(), "stream without source")

	require.NoError(t, mustOut(t, cam, "out").Link(mustIn(t, xout, "input")))
	dup := mustCreate(t, p, KindXLinkOut, "dup")
	dup.XLinkOut().StreamName = "cam_mono"
	require.NoError(t, mustOut(t, cam, "raw").Link(mustIn(t, dup, "input")))
	assert.Error(t, p.Commit(), "duplicate stream name")
	assert.False(t, p.Committed())
}

func TestSchemaJSON(t *testing.T) {
	p, _ := stereoGraph(t)
	require.NoError(t, p.Commit())

	data, err := json.Marshal(p.Schema())
	require.NoError(t, err)

	var decoded struct {
		Committed bool `json:"committed"`
		Nodes     []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"nodes"`
		Links []Link `json:"links"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Committed)
	assert.Len(t, decoded.Nodes, 4)
	assert.Len(t, decoded.Links, 3)
	assert.Equal(t, []string{"stereo_stereo"}, p.Streams())
}

func TestSocketString(t *testing.T) {
	tests := []struct {
		s    Socket
		want string
	}{
		{SocketAuto, "AUTO"},
		{SocketRGB, "CAM_A"},
		{SocketLeft, "CAM_B"},
		{SocketRight, "CAM_C"},
		{Socket(9), "Socket(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Socket(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
	if Socket(9).Valid() {
		t.Error("Socket(9) should not be valid")
	}
}
