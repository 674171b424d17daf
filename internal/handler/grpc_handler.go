package handler

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-crm-workflows/internal/common/auth"
	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/service"
)

const workflowServiceName = "crm.v1.WorkflowService"

// WorkflowServer is the crm.v1.WorkflowService contract. Requests and
// responses are google.protobuf.Struct with snake_case keys.
type WorkflowServer interface {
	ApproveInsurance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectInsurance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlaceBid(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveBid(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReverseBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VisibleBranches(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type workflowCall func(WorkflowServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call workflowCall) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(WorkflowServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + workflowServiceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(WorkflowServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// WorkflowServiceDesc registers a WorkflowServer on a grpc.Server.
var WorkflowServiceDesc = grpc.ServiceDesc{
	ServiceName: workflowServiceName,
	HandlerType: (*WorkflowServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ApproveInsurance", Handler: unaryHandler("ApproveInsurance", WorkflowServer.ApproveInsurance)},
		{MethodName: "RejectInsurance", Handler: unaryHandler("RejectInsurance", WorkflowServer.RejectInsurance)},
		{MethodName: "PlaceBid", Handler: unaryHandler("PlaceBid", WorkflowServer.PlaceBid)},
		{MethodName: "ApproveBid", Handler: unaryHandler("ApproveBid", WorkflowServer.ApproveBid)},
		{MethodName: "ReverseBooking", Handler: unaryHandler("ReverseBooking", WorkflowServer.ReverseBooking)},
		{MethodName: "VisibleBranches", Handler: unaryHandler("VisibleBranches", WorkflowServer.VisibleBranches)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "crm/v1/workflow.proto",
}

// WorkflowClient calls crm.v1.WorkflowService.
type WorkflowClient struct {
	cc grpc.ClientConnInterface
}

// NewWorkflowClient wraps a client connection.
func NewWorkflowClient(cc grpc.ClientConnInterface) *WorkflowClient {
	return &WorkflowClient{cc: cc}
}

// Call invokes method with in and returns the response struct.
func (c *WorkflowClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+workflowServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCHandler implements WorkflowServer
type GRPCHandler struct {
	users     *service.UserService
	insurance *service.InsuranceService
	booking   *service.BookingService
	logger    *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(users *service.UserService, insurance *service.InsuranceService, booking *service.BookingService, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		users:     users,
		insurance: insurance,
		booking:   booking,
		logger:    &logger.Logger{Logger: log.With().Str("handler", "grpc").Logger()},
	}
}

// Register adds the service to s.
func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&WorkflowServiceDesc, h)
}

// userID extracts the authenticated user ID from context.
func userID(ctx context.Context) (string, error) {
	uc, err := auth.GetUserContext(ctx)
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "missing "+auth.MetadataUserID+" metadata")
	}
	return uc.UserID, nil
}

// ApproveInsurance advances an insurance application one tier.
func (h *GRPCHandler) ApproveInsurance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requiredString(req, "entry_id")
	if err != nil {
		return nil, err
	}
	h.logger.Info().Str("entry_id", id).Str("actor", actor).Msg("gRPC ApproveInsurance called")

	app, err := h.insurance.Approve(ctx, actor, id)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to approve insurance")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(app)
}

// RejectInsurance rejects an insurance application with a reason.
func (h *GRPCHandler) RejectInsurance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	id, err := requiredString(req, "entry_id")
	if err != nil {
		return nil, err
	}
	h.logger.Info().Str("entry_id", id).Str("actor", actor).Msg("gRPC RejectInsurance called")

	app, err := h.insurance.Reject(ctx, actor, id, req.GetFields()["reason"].GetStringValue())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to reject insurance")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(app)
}

// PlaceBid bids on an open entry. The amount may be a number or a decimal
// string; zero or absent bids the entry amount.
func (h *GRPCHandler) PlaceBid(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	entryID, err := requiredString(req, "entry_id")
	if err != nil {
		return nil, err
	}
	amt, err := decimalField(req, "amount")
	if err != nil {
		return nil, err
	}
	h.logger.Info().Str("entry_id", entryID).Str("actor", actor).Msg("gRPC PlaceBid called")

	bid, err := h.booking.PlaceBid(ctx, actor, entryID, amt)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to place bid")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(bid)
}

// ApproveBid awards an entry to a pending bid.
func (h *GRPCHandler) ApproveBid(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	bidID, err := requiredString(req, "bid_id")
	if err != nil {
		return nil, err
	}
	h.logger.Info().Str("bid_id", bidID).Str("actor", actor).Msg("gRPC ApproveBid called")

	bid, err := h.booking.ApproveBid(ctx, actor, bidID)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to approve bid")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(bid)
}

// ReverseBooking returns a booked entry to the bidding pool.
func (h *GRPCHandler) ReverseBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	entryID, err := requiredString(req, "entry_id")
	if err != nil {
		return nil, err
	}
	h.logger.Info().Str("entry_id", entryID).Str("actor", actor).Msg("gRPC ReverseBooking called")

	entry, err := h.booking.ReverseBooking(ctx, actor, entryID)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to reverse booking")
		return nil, mapErrorToGRPC(err)
	}
	return toStruct(entry)
}

// VisibleBranches resolves the branch scope of the caller, or of a user the
// caller manages when "username" is set.
func (h *GRPCHandler) VisibleBranches(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := userID(ctx)
	if err != nil {
		return nil, err
	}
	u, vis, err := h.users.VisibleBranches(ctx, actor, req.GetFields()["username"].GetStringValue())
	if err != nil {
		return nil, mapErrorToGRPC(err)
	}

	branches := make([]interface{}, 0, len(vis.Branches))
	for _, b := range vis.List() {
		branches = append(branches, b)
	}
	out, err := structpb.NewStruct(map[string]interface{}{
		"username": u.Username,
		"role":     string(u.Role),
		"all":      vis.All,
		"identity": vis.Identity,
		"branches": branches,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// ── Conversion ────────────────────────────────────────────────────────────────

func requiredString(req *structpb.Struct, key string) (string, error) {
	v := req.GetFields()[key].GetStringValue()
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return v, nil
}

func decimalField(req *structpb.Struct, key string) (decimal.Decimal, error) {
	v, ok := req.GetFields()[key]
	if !ok {
		return decimal.Zero, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return decimal.NewFromFloat(k.NumberValue), nil
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(k.StringValue)
		if err != nil {
			return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a decimal", key)
		}
		return d, nil
	case *structpb.Value_NullValue:
		return decimal.Zero, nil
	}
	return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a number", key)
}

// toStruct converts a domain record through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// mapErrorToGRPC maps application error codes to gRPC status codes.
func mapErrorToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return status.Error(codes.Aborted, err.Error())
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeNotFound:
		return status.Error(codes.NotFound, err.Error())
	case errors.ErrCodeInvalidInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.ErrCodeUnauthorized:
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.ErrCodeForbidden:
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.ErrCodeConflict:
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.ErrCodeStorage:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
