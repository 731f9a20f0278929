package publish

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/depth.relay/internal/dai/msgs"
)

const (
	frameStreamService = "depthrelay.v1.FrameStream"
	subscribeMethod    = "/" + frameStreamService + "/Subscribe"
)

// frameStreamServer is the handler type of the hand-written service
// descriptor below. Requests and frames travel as google.protobuf.Struct so
// clients need no generated code.
type frameStreamServer interface {
	subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

var frameStreamDesc = grpc.ServiceDesc{
	ServiceName: frameStreamService,
	HandlerType: (*frameStreamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		Handler:       subscribeHandler,
		ServerStreams: true,
	}},
	Metadata: "depthrelay/v1/frame_stream.proto",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(frameStreamServer).subscribe(req, stream)
}

// ServerConfig configures the frame stream server.
type ServerConfig struct {
	ListenAddr   string
	MaxClients   int // 0 means unlimited
	ClientBuffer int
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:   "localhost:50061",
		MaxClients:   8,
		ClientBuffer: 4,
	}
}

// FrameStreamServer streams hub messages to gRPC subscribers.
type FrameStreamServer struct {
	cfg      ServerConfig
	hub      *Hub
	server   *grpc.Server
	listener net.Listener

	clients atomic.Int32
	sent    atomic.Uint64
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewFrameStreamServer(hub *Hub, cfg ServerConfig) *FrameStreamServer {
	if cfg.ClientBuffer < 1 {
		cfg.ClientBuffer = 1
	}
	// Uncompressed 16-bit frames exceed the 4MB default.
	const maxMsgSize = 32 * 1024 * 1024
	s := &FrameStreamServer{
		cfg: cfg,
		hub: hub,
		server: grpc.NewServer(
			grpc.MaxRecvMsgSize(maxMsgSize),
			grpc.MaxSendMsgSize(maxMsgSize),
		),
	}
	s.server.RegisterService(&frameStreamDesc, s)
	return s
}

// Start listens on cfg.ListenAddr and serves in the background.
func (s *FrameStreamServer) Start() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *FrameStreamServer) Serve(lis net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("frame stream server already running")
	}
	s.listener = lis
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("[FrameStream] gRPC server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			log.Printf("[FrameStream] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before Serve.
func (s *FrameStreamServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends every stream and waits for the server to exit.
func (s *FrameStreamServer) Stop() {
	if !s.running.Swap(false) {
		return
	}
	// Streams block on hub messages; stop waits for them to return.
	s.server.Stop()
	s.wg.Wait()
	log.Printf("[FrameStream] gRPC server stopped (sent %d frames)", s.sent.Load())
}

// Clients returns the number of connected subscribers.
func (s *FrameStreamServer) Clients() int { return int(s.clients.Load()) }

func (s *FrameStreamServer) subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	if n := s.clients.Add(1); s.cfg.MaxClients > 0 && int(n) > s.cfg.MaxClients {
		s.clients.Add(-1)
		return status.Errorf(codes.ResourceExhausted, "at most %d subscribers", s.cfg.MaxClients)
	}
	defer s.clients.Add(-1)

	topic := req.GetFields()["topic"].GetStringValue()
	sub, err := s.hub.Subscribe(topic, s.cfg.ClientBuffer)
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer s.hub.Unsubscribe(sub.ID)
	log.Printf("[FrameStream] subscriber %s connected (topic=%q)", sub.ID, topic)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[FrameStream] subscriber %s gone (dropped %d)", sub.ID, sub.Dropped())
			return ctx.Err()
		case m, ok := <-sub.C:
			if !ok {
				return nil
			}
			pb, err := encodeMessage(m)
			if err != nil {
				log.Printf("[FrameStream] encode %s: %v", m.Topic, err)
				continue
			}
			if err := stream.SendMsg(pb); err != nil {
				return err
			}
			s.sent.Add(1)
		}
	}
}

// FrameReceiver reads frames from a Subscribe stream.
type FrameReceiver struct {
	stream grpc.ClientStream
}

// SubscribeFrames opens a frame stream for topic ("" for all topics).
func SubscribeFrames(ctx context.Context, cc grpc.ClientConnInterface, topic string) (*FrameReceiver, error) {
	stream, err := cc.NewStream(ctx, &frameStreamDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	req, err := structpb.NewStruct(map[string]any{"topic": topic})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameReceiver{stream: stream}, nil
}

// Recv blocks for the next frame.
func (r *FrameReceiver) Recv() (Message, error) {
	pb := new(structpb.Struct)
	if err := r.stream.RecvMsg(pb); err != nil {
		return Message{}, err
	}
	return decodeMessage(pb)
}

func floats(xs []float64) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func encodeHeader(h msgs.Header) map[string]any {
	return map[string]any{
		"frame_id":      h.FrameID,
		"seq":           float64(h.Seq),
		"stamp_sec":     float64(h.Stamp.Unix()),
		"stamp_nanosec": float64(h.Stamp.Nanosecond()),
	}
}

func encodeMessage(m Message) (*structpb.Struct, error) {
	img := m.Image
	fields := map[string]any{
		"topic":        m.Topic,
		"header":       encodeHeader(img.Header),
		"width":        float64(img.Width),
		"height":       float64(img.Height),
		"encoding":     img.Encoding,
		"is_bigendian": img.IsBigEndian,
		"step":         float64(img.Step),
		"data":         base64.StdEncoding.EncodeToString(img.Data),
	}
	if info := m.Info; info != nil {
		fields["camera_info"] = map[string]any{
			"header":           encodeHeader(info.Header),
			"width":            float64(info.Width),
			"height":           float64(info.Height),
			"distortion_model": info.DistortionModel,
			"d":                floats(info.D),
			"k":                floats(info.K[:]),
			"r":                floats(info.R[:]),
			"p":                floats(info.P[:]),
		}
	}
	return structpb.NewStruct(fields)
}

func decodeHeader(s *structpb.Struct) msgs.Header {
	f := s.GetFields()
	return msgs.Header{
		FrameID: f["frame_id"].GetStringValue(),
		Seq:     int64(f["seq"].GetNumberValue()),
		Stamp:   time.Unix(int64(f["stamp_sec"].GetNumberValue()), int64(f["stamp_nanosec"].GetNumberValue())),
	}
}

func fillFloats(dst []float64, l *structpb.ListValue) {
	for i, v := range l.GetValues() {
		if i < len(dst) {
			dst[i] = v.GetNumberValue()
		}
	}
}

func decodeMessage(s *structpb.Struct) (Message, error) {
	f := s.GetFields()
	data, err := base64.StdEncoding.DecodeString(f["data"].GetStringValue())
	if err != nil {
		return Message{}, fmt.Errorf("decoding frame data: %w", err)
	}
	m := Message{
		Topic: f["topic"].GetStringValue(),
		Image: &msgs.Image{
			Header:      decodeHeader(f["header"].GetStructValue()),
			Width:       int(f["width"].GetNumberValue()),
			Height:      int(f["height"].GetNumberValue()),
			Encoding:    f["encoding"].GetStringValue(),
			IsBigEndian: f["is_bigendian"].GetBoolValue(),
			Step:        int(f["step"].GetNumberValue()),
			Data:        data,
		},
	}
	if ci := f["camera_info"].GetStructValue(); ci != nil {
		cf := ci.GetFields()
		info := &msgs.CameraInfo{
			Header:          decodeHeader(cf["header"].GetStructValue()),
			Width:           int(cf["width"].GetNumberValue()),
			Height:          int(cf["height"].GetNumberValue()),
			DistortionModel: cf["distortion_model"].GetStringValue(),
		}
		d := cf["d"].GetListValue().GetValues()
		info.D = make([]float64, len(d))
		fillFloats(info.D, cf["d"].GetListValue())
		fillFloats(info.K[:], cf["k"].GetListValue())
		fillFloats(info.R[:], cf["r"].GetListValue())
		fillFloats(info.P[:], cf["p"].GetListValue())
		m.Info = info
	}
	return m, nil
}
