package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/danielpatrickdp/vulnharness/internal/checkpoint"
	"github.com/danielpatrickdp/vulnharness/internal/model"
)

// #region remote-error
// RemoteError is a failed model service call.
type RemoteError struct {
	Method string
	Code   codes.Code
	Msg    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("backend %s: %s: %s", e.Method, e.Code, e.Msg)
}

// Unwrap maps the status code back to the local sentinel it came from.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case codes.FailedPrecondition:
		return model.ErrNoForward
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return nil
}

func fromStatus(method string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("backend %s: %w", method, err)
	}
	return &RemoteError{Method: method, Code: st.Code(), Msg: st.Message()}
}

// #endregion remote-error

// #region remote-model
// RemoteModel drives a model and optimizer hosted by a model server. It
// satisfies both model.Model and model.Optimizer.
//
// Calls whose signature carries no error record their failure. Err reports
// the pending one, and the next Backward or Step returns and clears it.
type RemoteModel struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	cfg     Config
	mu      sync.Mutex
	lastErr error
	lr      float64
	nParams int
}

var (
	_ model.Model     = (*RemoteModel)(nil)
	_ model.Optimizer = (*RemoteModel)(nil)
)

// Dial connects to a model server at addr.
func Dial(addr string, cfg Config) (*RemoteModel, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial backend %s: %w", addr, err)
	}
	r := NewRemoteModel(conn, cfg)
	r.closer = conn.Close
	return r, nil
}

// CallOptions returns the codec and size options a model client needs.
func CallOptions(cfg Config) []grpc.CallOption {
	return []grpc.CallOption{
		grpc.ForceCodec(jsonCodec{}),
		grpc.MaxCallRecvMsgSize(cfg.MaxMessageBytes),
		grpc.MaxCallSendMsgSize(cfg.MaxMessageBytes),
	}
}

// NewRemoteModel wraps an existing connection. The caller keeps ownership of
// conn.
func NewRemoteModel(conn grpc.ClientConnInterface, cfg Config) *RemoteModel {
	return &RemoteModel{conn: conn, cfg: cfg, nParams: -1}
}

// Close releases a connection opened by Dial.
func (r *RemoteModel) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// Err returns the pending failure of a call that could not report one.
func (r *RemoteModel) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// takeErr returns the pending failure and clears it.
func (r *RemoteModel) takeErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.lastErr
	r.lastErr = nil
	return err
}

func (r *RemoteModel) record(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	if r.lastErr == nil {
		r.lastErr = err
	}
	r.mu.Unlock()
}

func (r *RemoteModel) invoke(ctx context.Context, method string, req, resp any) error {
	err := r.conn.Invoke(ctx, fullMethod(method), req, resp, CallOptions(r.cfg)...)
	return fromStatus(method, err)
}

// invokeDetached runs a call that has no caller context.
func (r *RemoteModel) invokeDetached(method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()
	return r.invoke(ctx, method, req, resp)
}

// #endregion remote-model

// #region model-calls
func (r *RemoteModel) Forward(ctx context.Context, in model.Input) (model.Output, error) {
	var resp ForwardResponse
	if err := r.invoke(ctx, "Forward", &ForwardRequest{Input: in}, &resp); err != nil {
		return model.Output{}, err
	}
	return resp.Output, nil
}

func (r *RemoteModel) Backward(ctx context.Context) error {
	if err := r.takeErr(); err != nil {
		return err
	}
	return r.invoke(ctx, "Backward", &Empty{}, &Empty{})
}

func (r *RemoteModel) SetTraining(training bool) {
	r.record(r.invokeDetached("SetTraining", &SetTrainingRequest{Training: training}, &Empty{}))
}

func (r *RemoteModel) State() (checkpoint.ParamState, error) {
	var blob StateBlob
	if err := r.invokeDetached("GetState", &Empty{}, &blob); err != nil {
		return checkpoint.ParamState{}, err
	}
	st, err := checkpoint.Decode(blob.Data)
	if err != nil {
		return checkpoint.ParamState{}, fmt.Errorf("backend GetState: %w", err)
	}
	return st, nil
}

func (r *RemoteModel) Load(st checkpoint.ParamState) error {
	return r.invokeDetached("LoadState", &StateBlob{Data: checkpoint.Encode(st)}, &Empty{})
}

// NumParameters asks the server once and caches the answer. It returns 0 if
// the server cannot be reached.
func (r *RemoteModel) NumParameters() int {
	r.mu.Lock()
	n := r.nParams
	r.mu.Unlock()
	if n >= 0 {
		return n
	}
	info, err := r.Info(context.Background())
	if err != nil {
		r.record(err)
		return 0
	}
	r.mu.Lock()
	r.nParams = info.NumParameters
	r.mu.Unlock()
	return info.NumParameters
}

// Info describes the hosted model.
func (r *RemoteModel) Info(ctx context.Context) (InfoResponse, error) {
	var resp InfoResponse
	if err := r.invoke(ctx, "Info", &Empty{}, &resp); err != nil {
		return InfoResponse{}, err
	}
	return resp, nil
}

// #endregion model-calls

// #region optimizer-calls
func (r *RemoteModel) ZeroGrad() {
	r.record(r.invokeDetached("ZeroGrad", &Empty{}, &Empty{}))
}

func (r *RemoteModel) Step() error {
	if err := r.takeErr(); err != nil {
		return err
	}
	return r.invokeDetached("Step", &Empty{}, &Empty{})
}

// LR returns the server learning rate, or the last known value if the call
// fails.
func (r *RemoteModel) LR() float64 {
	var resp LRMessage
	if err := r.invokeDetached("GetLR", &Empty{}, &resp); err != nil {
		r.record(err)
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.lr
	}
	r.mu.Lock()
	r.lr = resp.LR
	r.mu.Unlock()
	return resp.LR
}

func (r *RemoteModel) SetLR(lr float64) {
	err := r.invokeDetached("SetLR", &LRMessage{LR: lr}, &Empty{})
	if err == nil {
		r.mu.Lock()
		r.lr = lr
		r.mu.Unlock()
	}
	r.record(err)
}

// #endregion optimizer-calls

// IsUnavailable reports whether err means the model server could not be
// reached.
func IsUnavailable(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == codes.Unavailable
}
