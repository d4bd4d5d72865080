package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/danielpatrickdp/vulnharness/internal/checkpoint"
	"github.com/danielpatrickdp/vulnharness/internal/logging"
	"github.com/danielpatrickdp/vulnharness/internal/model"
)

// #region server-struct
// Server hosts a local model and optimizer behind the model service. Calls
// are serialized.
type Server struct {
	mu       sync.Mutex
	model    model.Model
	opt      model.Optimizer
	training bool
	log      *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = logging.OrNop(l) }
}

// #endregion server-struct

// #region constructor
// NewServer wraps m and opt. opt may be nil for inference-only hosting.
func NewServer(m model.Model, opt model.Optimizer, opts ...Option) *Server {
	s := &Server{model: m, opt: opt, training: true, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register attaches the service to gs.
func (s *Server) Register(gs *grpc.Server) {
	RegisterModelServiceServer(gs, s)
}

// ServerOptions returns the codec and size options a model server needs.
func ServerOptions(cfg Config) []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(cfg.MaxMessageBytes),
		grpc.MaxSendMsgSize(cfg.MaxMessageBytes),
	}
}

// #endregion constructor

// #region model-methods
func (s *Server) Forward(ctx context.Context, req *ForwardRequest) (*ForwardResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := s.model.Forward(ctx, req.Input)
	if err != nil {
		return nil, s.toStatus("forward", err)
	}
	return &ForwardResponse{Output: out}, nil
}

func (s *Server) Backward(ctx context.Context, _ *Empty) (*Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.model.Backward(ctx); err != nil {
		return nil, s.toStatus("backward", err)
	}
	return &Empty{}, nil
}

func (s *Server) SetTraining(_ context.Context, req *SetTrainingRequest) (*Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model.SetTraining(req.Training)
	s.training = req.Training
	return &Empty{}, nil
}

func (s *Server) GetState(context.Context, *Empty) (*StateBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.model.State()
	if err != nil {
		return nil, s.toStatus("get state", err)
	}
	return &StateBlob{Data: checkpoint.Encode(st)}, nil
}

func (s *Server) LoadState(_ context.Context, req *StateBlob) (*Empty, error) {
	st, err := checkpoint.Decode(req.Data)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode state: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.model.Load(st); err != nil {
		return nil, s.toStatus("load state", err)
	}
	return &Empty{}, nil
}

func (s *Server) Info(context.Context, *Empty) (*InfoResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &InfoResponse{
		Name:          fmt.Sprintf("%T", s.model),
		NumParameters: s.model.NumParameters(),
		Training:      s.training,
	}, nil
}

// #endregion model-methods

// #region optimizer-methods
func (s *Server) ZeroGrad(context.Context, *Empty) (*Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opt == nil {
		return nil, status.Error(codes.Unimplemented, "no optimizer hosted")
	}
	s.opt.ZeroGrad()
	return &Empty{}, nil
}

func (s *Server) Step(context.Context, *Empty) (*Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opt == nil {
		return nil, status.Error(codes.Unimplemented, "no optimizer hosted")
	}
	if err := s.opt.Step(); err != nil {
		return nil, s.toStatus("step", err)
	}
	return &Empty{}, nil
}

func (s *Server) GetLR(context.Context, *Empty) (*LRMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opt == nil {
		return nil, status.Error(codes.Unimplemented, "no optimizer hosted")
	}
	return &LRMessage{LR: s.opt.LR()}, nil
}

func (s *Server) SetLR(_ context.Context, req *LRMessage) (*Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opt == nil {
		return nil, status.Error(codes.Unimplemented, "no optimizer hosted")
	}
	s.opt.SetLR(req.LR)
	return &Empty{}, nil
}

// #endregion optimizer-methods

// #region errors
func (s *Server) toStatus(op string, err error) error {
	var shapeErr *model.ShapeError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, model.ErrNoForward):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, model.ErrEmptyInput), errors.As(err, &shapeErr):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	default:
		s.log.Error("model call failed", zap.String("op", op), zap.Error(err))
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

// #endregion errors
