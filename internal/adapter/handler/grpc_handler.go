package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/crop-market/internal/core/domain"
	"github.com/rl1809/crop-market/internal/core/service"
	"github.com/rl1809/crop-market/internal/platform/apierr"
	"github.com/rl1809/crop-market/internal/platform/logger"
	"github.com/rl1809/crop-market/internal/platform/requestdata"
	"github.com/rl1809/crop-market/internal/port"
)

const (
	GRPCServiceName = "cropmarket.v1.InterestService"

	// errorCodeTrailer carries the machine-readable error code.
	errorCodeTrailer = "x-error-code"
)

// InterestServiceServer is the RPC surface of the interest lifecycle. Every
// message is a google.protobuf.Struct holding the same JSON as the HTTP API.
type InterestServiceServer interface {
	Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Accept(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListMine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var InterestServiceDesc = grpc.ServiceDesc{
	ServiceName: GRPCServiceName,
	HandlerType: (*InterestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Submit", InterestServiceServer.Submit),
		unaryMethod("Accept", InterestServiceServer.Accept),
		unaryMethod("Reject", InterestServiceServer.Reject),
		unaryMethod("Cancel", InterestServiceServer.Cancel),
		unaryMethod("ListMine", InterestServiceServer.ListMine),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cropmarket/v1/interest.proto",
}

func RegisterInterestServiceServer(s grpc.ServiceRegistrar, srv InterestServiceServer) {
	s.RegisterService(&InterestServiceDesc, srv)
}

type structCall func(InterestServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call structCall) grpc.MethodDesc {
	fullMethod := "/" + GRPCServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InterestServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(InterestServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// InterestServiceClient calls the service over conn.
type InterestServiceClient struct {
	conn grpc.ClientConnInterface
}

func NewInterestServiceClient(conn grpc.ClientConnInterface) *InterestServiceClient {
	return &InterestServiceClient{conn: conn}
}

func (c *InterestServiceClient) Call(ctx context.Context, method string, req map[string]interface{}, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+GRPCServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCHandler struct {
	interests *service.InterestService
	log       *logger.Logger
}

func NewGRPCHandler(interests *service.InterestService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{interests: interests, log: log.With("handler", "grpc")}
}

func (h *GRPCHandler) Submit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	qty, err := decimalField(req, "requestedQuantity")
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	in, err := h.interests.Submit(ctx, grpcCaller(ctx), stringField(req, "listingId"), service.SubmitInterestInput{
		RequestedQuantity: qty,
		Message:           stringField(req, "message"),
		IdempotencyKey:    stringField(req, "idempotencyKey"),
	})
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return h.reply(ctx, in)
}

func (h *GRPCHandler) Accept(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	res, err := h.interests.Accept(ctx, grpcCaller(ctx), stringField(req, "listingId"), stringField(req, "interestId"))
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return h.reply(ctx, res)
}

func (h *GRPCHandler) Reject(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := h.interests.Reject(ctx, grpcCaller(ctx), stringField(req, "listingId"), stringField(req, "interestId"))
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return h.reply(ctx, in)
}

func (h *GRPCHandler) Cancel(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := h.interests.Cancel(ctx, grpcCaller(ctx), stringField(req, "listingId"), stringField(req, "interestId")); err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return h.reply(ctx, map[string]interface{}{"cancelled": true})
}

func (h *GRPCHandler) ListMine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	page := int(req.GetFields()["page"].GetNumberValue())
	limit := int(req.GetFields()["limit"].GetNumberValue())
	res, err := h.interests.MyInterests(ctx, grpcCaller(ctx), domain.InterestStatus(stringField(req, "status")), page, limit)
	if err != nil {
		return nil, h.toStatus(ctx, err)
	}
	return h.reply(ctx, map[string]interface{}{
		"items":      nonNil(res.Items),
		"pagination": res.Pagination,
	})
}

// reply converts v through its JSON form so both transports share one shape.
func (h *GRPCHandler) reply(ctx context.Context, v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, h.toStatus(ctx, fmt.Errorf("encode reply: %w", err))
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, h.toStatus(ctx, fmt.Errorf("encode reply: %w", err))
	}
	return out, nil
}

func (h *GRPCHandler) toStatus(ctx context.Context, err error) error {
	ae := apierr.As(err)
	if ae.Kind == apierr.KindInternal {
		h.log.Error("rpc failed", "uid", grpcCaller(ctx).UID, "error", err)
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(errorCodeTrailer, ae.Code))
	return status.Error(grpcCode(ae.Kind), ae.Error())
}

func grpcCode(k apierr.Kind) codes.Code {
	switch k {
	case apierr.KindValidation:
		return codes.InvalidArgument
	case apierr.KindNotFound:
		return codes.NotFound
	case apierr.KindForbidden:
		return codes.PermissionDenied
	case apierr.KindConflict:
		return codes.Aborted
	case apierr.KindPrecondition:
		return codes.FailedPrecondition
	case apierr.KindUnauthorized:
		return codes.Unauthenticated
	case apierr.KindRateLimited:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// AuthInterceptor resolves the caller from the authorization metadata. Every
// method requires it.
func AuthInterceptor(verifier port.IdentityVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		var token string
		if vals := md.Get("authorization"); len(vals) > 0 {
			token = strings.TrimSpace(vals[0])
			if len(token) > 7 && strings.EqualFold(token[:7], "Bearer ") {
				token = strings.TrimSpace(token[7:])
			}
		}
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "no token provided")
		}

		id, err := verifier.Verify(ctx, token)
		switch {
		case errors.Is(err, port.ErrTokenExpired):
			return nil, status.Error(codes.Unauthenticated, "token has expired")
		case err != nil:
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		ctx = requestdata.WithRequestData(ctx, &requestdata.RequestData{Identity: id})
		return next(ctx, req)
	}
}

// RecoveryInterceptor reports a handler panic as Internal instead of crashing
// the process.
func RecoveryInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("rpc panic", "method", info.FullMethod, "panic", fmt.Sprint(r))
				_ = grpc.SetTrailer(ctx, metadata.Pairs(errorCodeTrailer, apierr.CodeInternal))
				resp, err = nil, status.Error(codes.Internal, "internal server error")
			}
		}()
		return next(ctx, req)
	}
}

func grpcCaller(ctx context.Context) domain.Identity {
	id, _ := requestdata.IdentityFrom(ctx)
	return id
}

func stringField(s *structpb.Struct, name string) string {
	return strings.TrimSpace(s.GetFields()[name].GetStringValue())
}

// decimalField accepts a JSON number or a numeric string. A missing field is zero.
func decimalField(s *structpb.Struct, name string) (decimal.Decimal, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return decimal.Zero, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(strings.TrimSpace(k.StringValue))
		if err != nil {
			return decimal.Zero, apierr.Validation(service.CodeValidation, name+" must be a number")
		}
		return d, nil
	default:
		return decimal.Zero, apierr.Validation(service.CodeValidation, name+" must be a number")
	}
}
