package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"dipsniper/internal/backtest"
	"dipsniper/internal/engine"
	"dipsniper/internal/store"
	"dipsniper/internal/strategy"
)

// gRPC names of the backtest service. Messages are google.protobuf.Struct
// so no generated code is needed on either side.
const (
	BacktestServiceName = "dipsniper.v1.BacktestService"
	RunMethod           = "/" + BacktestServiceName + "/Run"
	PresetsMethod       = "/" + BacktestServiceName + "/Presets"
)

// BacktestServer is the server side of the backtest service.
type BacktestServer interface {
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Presets(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// BacktestServiceDesc describes the backtest service for grpc.Server.
var BacktestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler(RunMethod, BacktestServer.Run)},
		{MethodName: "Presets", Handler: unaryHandler(PresetsMethod, BacktestServer.Presets)},
	},
	Metadata: "dipsniper/v1/backtest.proto",
}

func unaryHandler(method string, call func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
		})
	}
}

// ---------------------------------------------------------------------------
// Server implementation
// ---------------------------------------------------------------------------

var _ BacktestServer = (*backtestService)(nil)

type backtestService struct {
	srv *Server
}

// Run accepts the same fields as GET /api/backtest: symbol, preset,
// market, start, end and cash. cash may be a number or a string.
func (b *backtestService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	get := func(name string) string {
		v, ok := fields[name]
		if !ok {
			return ""
		}
		if n, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			return fmt.Sprint(n.NumberValue)
		}
		return v.GetStringValue()
	}
	req, err := b.srv.parseRequest(get)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := b.srv.bt.Run(ctx, req)
	if err != nil {
		return nil, status.Error(grpcCode(err), err.Error())
	}
	res.Equity = nil
	return toStruct(res)
}

// Presets lists the registered presets under "presets".
func (b *backtestService) Presets(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	names := b.srv.bt.Presets()
	list := make([]any, len(names))
	for i, n := range names {
		list[i] = n
	}
	out, err := structpb.NewStruct(map[string]any{"presets": list})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, strategy.ErrUnknownPreset), errors.Is(err, engine.ErrInvalidConfig):
		return codes.InvalidArgument
	case errors.Is(err, backtest.ErrNoData), errors.Is(err, store.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, engine.ErrMalformedSeries):
		return codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// toStruct converts v to a Struct through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// BacktestClient calls a remote backtest service.
type BacktestClient struct {
	conn grpc.ClientConnInterface
}

// NewBacktestClient wraps an established connection.
func NewBacktestClient(conn grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{conn: conn}
}

// Run executes a backtest remotely and decodes the result.
func (c *BacktestClient) Run(ctx context.Context, params map[string]any) (*backtest.BacktestResult, error) {
	in, err := structpb.NewStruct(params)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RunMethod, in, out); err != nil {
		return nil, err
	}
	data, err := out.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	var res backtest.BacktestResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &res, nil
}

// Presets returns the preset names the server knows.
func (c *BacktestClient) Presets(ctx context.Context) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, PresetsMethod, &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	var names []string
	for _, v := range out.GetFields()["presets"].GetListValue().GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}
