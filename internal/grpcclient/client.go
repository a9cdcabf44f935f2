package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/GriffinCanCode/deepwatch/internal/errors"
	"github.com/GriffinCanCode/deepwatch/internal/observe"
	"github.com/GriffinCanCode/deepwatch/internal/resilience"
	"github.com/GriffinCanCode/deepwatch/internal/trace"
)

// Options configures a Client.
type Options struct {
	Logger         *slog.Logger
	Metrics        *observe.Metrics
	CallTimeout    time.Duration
	SetupTimeout   time.Duration
	ModelDirectory string
	Retry          resilience.RetryConfig
	DialOptions    []grpc.DialOption
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = observe.Discard()
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.SetupTimeout <= 0 {
		o.SetupTimeout = DefaultSetupTimeout
	}
	if o.Retry.MaxRetries == 0 && o.Retry.BaseDelay == 0 {
		o.Retry = resilience.InferenceRetryConfig()
	}
	if o.Retry.Logger == nil {
		o.Retry.Logger = o.Logger
	}
	return o
}

// Client is a connection to the model server. Messages are
// google.protobuf.Struct values, so no generated stubs are needed.
type Client struct {
	conn *grpc.ClientConn
	opts Options
	log  *slog.Logger
}

// Dial connects to the model server at addr. The connection is established
// lazily on the first call.
func Dial(addr string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                DefaultKeepaliveTime,
			Timeout:             DefaultKeepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor(opts.Logger)),
	}, opts.DialOptions...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeUnavailable, "grpcclient: dial %s", addr)
	}
	return &Client{conn: conn, opts: opts, log: opts.Logger}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Vision returns the vision engine of this connection.
func (c *Client) Vision() *VisionEngine {
	return &VisionEngine{c: c, breaker: c.newBreaker(kindVision)}
}

// Voice returns the voice engine of this connection.
func (c *Client) Voice() *VoiceEngine {
	return &VoiceEngine{c: c, breaker: c.newBreaker(kindVoice)}
}

func (c *Client) newBreaker(name string) *resilience.Breaker {
	cfg := resilience.InferenceConfig(name)
	cfg.Logger = c.log
	return resilience.New(cfg).OnTransition(func(name string, _, to resilience.State) {
		c.opts.Metrics.RecordBreaker(name, to.String())
	})
}

// call invokes method with req under the breaker, retrying transient
// failures, and records the latency under metricKind.
func (c *Client) call(ctx context.Context, b *resilience.Breaker, metricKind, method string, req map[string]any, timeout time.Duration) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "grpcclient: encode request")
	}

	start := time.Now()
	out, err := resilience.RetryValue(ctx, c.opts.Retry, func(ctx context.Context) (*structpb.Struct, error) {
		return resilience.Call(ctx, b, func(ctx context.Context) (*structpb.Struct, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			resp := &structpb.Struct{}
			if err := c.conn.Invoke(ctx, method, in, resp); err != nil {
				return nil, err
			}
			return resp, nil
		})
	})
	c.opts.Metrics.RecordInference(ctx, metricKind, start, err)
	if err != nil {
		return nil, toAppError(err, method)
	}
	return out, nil
}

func (c *Client) loadModel(ctx context.Context, b *resilience.Breaker, kind, modelID string) error {
	_, err := c.call(ctx, b, metricModelControl, methodLoadModel, map[string]any{
		"kind":             kind,
		"model_identifier": modelID,
		"model_directory":  c.opts.ModelDirectory,
	}, c.opts.SetupTimeout)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeEnvironmentSetup, "load %s model %q", kind, modelID)
	}
	c.log.Info("model loaded", "kind", kind, "model", modelID)
	return nil
}

func (c *Client) unload(ctx context.Context, b *resilience.Breaker, kind string) error {
	_, err := c.call(ctx, b, metricModelControl, methodUnload, map[string]any{"kind": kind}, c.opts.CallTimeout)
	return err
}

func toAppError(err error, method string) error {
	switch {
	case errors.Is(err, resilience.ErrOpen):
		return apperrors.Wrapf(err, apperrors.CodeUnavailable, "%s: model server failing", method)
	case errors.Is(err, context.Canceled):
		return apperrors.Wrapf(err, apperrors.CodeCancelled, "%s", method)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrapf(err, apperrors.CodeTimeout, "%s", method)
	}
	appErr := apperrors.FromGRPCError(err)
	appErr.Message = method + ": " + appErr.Message
	return appErr
}

func number(s *structpb.Struct, key string) (float64, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("response has no %q", key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("response field %q is not a number", key)
	}
	return n.NumberValue, nil
}
