// Package grpc translates JSON requests into unary gRPC calls using
// the descriptors uploaded for the API. The client posts
// {"method": "package.Service/Method", "message": {...}}; the reply is
// the response message rendered as JSON.
package grpc

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	apierrors "github.com/apidoorman/doorman-sub003/internal/errors"
	"github.com/apidoorman/doorman-sub003/internal/proxy"
	"github.com/apidoorman/doorman-sub003/internal/proxy/protocol"
	"github.com/apidoorman/doorman-sub003/internal/resolve"
)

const perTryTimeout = 30 * time.Second

func init() {
	protocol.Register(resolve.ProtocolGRPC, func(deps protocol.Deps) protocol.Dispatcher {
		return &Dispatcher{
			deps: deps,
			marshalOpts: protojson.MarshalOptions{
				UseProtoNames: true,
			},
			unmarshalOpts: protojson.UnmarshalOptions{
				DiscardUnknown: true,
			},
		}
	})
}

// Dispatcher performs dynamic unary invocation.
type Dispatcher struct {
	deps    protocol.Deps
	metrics protocol.Metrics

	conns         sync.Map // dial target → *grpc.ClientConn
	marshalOpts   protojson.MarshalOptions
	unmarshalOpts protojson.UnmarshalOptions
}

func (d *Dispatcher) Name() string { return resolve.ProtocolGRPC }

func (d *Dispatcher) Dispatch(w http.ResponseWriter, ex *protocol.Exchange) (err error) {
	start := time.Now()
	defer func() { d.metrics.Done(start, err) }()

	if d.deps.Descriptors == nil {
		return apierrors.ErrEndpointNotFound.WithDetails("no descriptors loaded")
	}
	if !gjson.ValidBytes(ex.Body) {
		return apierrors.ErrMalformedBody.WithDetails("request is not valid JSON")
	}

	fullMethod := gjson.GetBytes(ex.Body, "method").String()
	if fullMethod == "" {
		return apierrors.ErrValidationFailed.WithDetails("missing method field")
	}
	if !strings.Contains(fullMethod, "/") {
		return apierrors.ErrValidationFailed.WithDetails("method must be package.Service/Method")
	}

	api := ex.Resolution.API
	md, err := d.deps.Descriptors.Method(api.APIName, api.APIVersion, fullMethod)
	if err != nil {
		return apierrors.ErrEndpointNotFound.WithDetails(err.Error())
	}
	if md.IsStreamingClient() || md.IsStreamingServer() {
		return apierrors.ErrValidationFailed.WithDetails("streaming methods are not supported")
	}

	inputMsg := dynamicpb.NewMessage(md.Input())
	if message := gjson.GetBytes(ex.Body, "message"); message.Exists() {
		if err := d.unmarshalOpts.Unmarshal([]byte(message.Raw), inputMsg); err != nil {
			return apierrors.ErrValidationFailed.WithDetails(
				"message does not match " + string(md.Input().FullName()))
		}
	}

	ctx := ex.Request.Context()
	servers, err := d.deps.Selector.Rotation(ctx, ex.Resolution, ex.ClientKey)
	if err != nil {
		return err
	}

	header := proxy.FilterHeaders(ex.Request.Header, api.APIAllowedHeaders)
	protocol.AttachCreditKeys(header, ex.Deduction)
	outMD := outgoingMetadata(header, ex.RequestID)

	respJSON, derr := d.invokeWithRetry(ctx, servers, api.APIAllowedRetryCount, md, inputMsg, outMD)
	if derr != nil {
		return derr
	}

	w.Header().Set("Content-Type", "application/json")
	if ex.RequestID != "" {
		w.Header().Set("X-Request-ID", ex.RequestID)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(respJSON)
	return nil
}

// invokeWithRetry walks the rotated server list until a definitive
// reply arrives or the retry budget is spent. Unavailable and deadline
// failures re-select; every other status answers the client.
func (d *Dispatcher) invokeWithRetry(
	ctx context.Context,
	servers []string,
	retries int,
	md protoreflect.MethodDescriptor,
	inputMsg *dynamicpb.Message,
	outMD metadata.MD,
) ([]byte, *apierrors.GatewayError) {
	if retries < 0 {
		retries = 0
	}

	fullMethod := "/" + string(md.Parent().FullName()) + "/" + string(md.Name())

	var lastErr error
	attempts := retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, apierrors.ErrUpstreamExhausted.Wrap(ctx.Err())
		}

		conn, err := d.conn(servers[attempt%len(servers)])
		if err != nil {
			lastErr = err
			continue
		}

		tryCtx, cancel := context.WithTimeout(ctx, perTryTimeout)
		tryCtx = metadata.NewOutgoingContext(tryCtx, outMD)

		outputMsg := dynamicpb.NewMessage(md.Output())
		err = conn.Invoke(tryCtx, fullMethod, inputMsg, outputMsg)
		cancel()
		if err != nil {
			st, ok := status.FromError(err)
			if ok && retryable(st.Code()) {
				lastErr = err
				continue
			}
			if !ok {
				return nil, apierrors.ErrUnexpected.Wrap(err)
			}
			return nil, apierrors.New(protocol.GRPCStatusToHTTP(st.Code()),
				"GTW998", "Upstream gRPC error").WithDetails(st.Message())
		}

		respJSON, err := d.marshalOpts.Marshal(outputMsg)
		if err != nil {
			return nil, apierrors.ErrUnexpected.Wrap(err)
		}
		return respJSON, nil
	}
	return nil, apierrors.ErrUpstreamExhausted.Wrap(lastErr)
}

func retryable(code codes.Code) bool {
	return code == codes.Unavailable || code == codes.DeadlineExceeded
}

// conn returns a pooled client connection for the server, dialing on
// first use. When two goroutines race the loser's conn is closed.
func (d *Dispatcher) conn(server string) (*grpc.ClientConn, error) {
	target := dialTarget(server)
	if existing, ok := d.conns.Load(target); ok {
		return existing.(*grpc.ClientConn), nil
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	actual, loaded := d.conns.LoadOrStore(target, conn)
	if loaded {
		conn.Close()
		return actual.(*grpc.ClientConn), nil
	}
	return conn, nil
}

// Close drops every pooled connection.
func (d *Dispatcher) Close() {
	d.conns.Range(func(key, value any) bool {
		if conn, ok := value.(*grpc.ClientConn); ok {
			conn.Close()
		}
		d.conns.Delete(key)
		return true
	})
}

func (d *Dispatcher) Stats() *protocol.MetricsSnapshot {
	return d.metrics.Snapshot(d.Name())
}

func dialTarget(server string) string {
	target := server
	target = strings.TrimPrefix(target, "grpc://")
	target = strings.TrimPrefix(target, "http://")
	target = strings.TrimPrefix(target, "https://")
	return target
}

// outgoingMetadata converts the filtered headers into gRPC metadata.
func outgoingMetadata(h http.Header, requestID string) metadata.MD {
	md := metadata.MD{}
	for k, vv := range h {
		key := strings.ToLower(k)
		if key == "content-type" || key == "content-length" {
			continue
		}
		md[key] = append(md[key][:0:0], vv...)
	}
	if requestID != "" {
		md.Set("x-request-id", requestID)
	}
	return md
}
