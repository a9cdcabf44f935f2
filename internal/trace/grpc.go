package trace

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryClientInterceptor propagates the trace context of each call in the
// outgoing metadata and logs the call as a span at debug level.
func UnaryClientInterceptor(log *slog.Logger) grpc.UnaryClientInterceptor {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx, span := StartSpan(ctx, method)
		err := invoker(inject(ctx, span.Ctx), method, req, reply, cc, opts...)
		span.Finish(err)
		log.LogAttrs(ctx, slog.LevelDebug, "inference call", slog.Any("span", span))
		return err
	}
}

func inject(ctx context.Context, tc Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	md.Set(TraceIDKey, tc.TraceID)
	md.Set(SpanIDKey, tc.SpanID)
	if tc.ParentSpanID != "" {
		md.Set(ParentSpanIDKey, tc.ParentSpanID)
	}
	if tc.SessionID != "" {
		md.Set(SessionIDKey, tc.SessionID)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// FromIncoming rebuilds a trace context from incoming gRPC metadata. The
// caller's span becomes the parent.
func FromIncoming(ctx context.Context) (Context, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return Context{}, false
	}
	get := func(k string) string {
		if v := md.Get(k); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	traceID := get(TraceIDKey)
	if traceID == "" {
		return Context{}, false
	}
	return Context{TraceID: traceID, SpanID: newID(8), ParentSpanID: get(SpanIDKey), SessionID: get(SessionIDKey)}, true
}
