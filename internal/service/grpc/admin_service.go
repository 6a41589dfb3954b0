package grpcsvc

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
	"github.com/vladislavdragonenkov/menusync/internal/service/admin"
)

// AdminServiceName — полное имя gRPC-сервиса администрирования.
const AdminServiceName = "menusync.v1.AdminService"

// AdminFacade — административные операции, которые отдаёт сервис.
type AdminFacade interface {
	GetStatus(ctx context.Context, restaurantID string) (map[domain.Platform]domain.SyncStatus, error)
	RunningOperations(ctx context.Context, restaurantID string) ([]domain.SyncOperation, error)
	TriggerFullRefresh(ctx context.Context, restaurantID string, platforms []domain.Platform, force bool) (admin.RefreshResult, error)
	SyncPlatform(ctx context.Context, restaurantID string, platform domain.Platform) (domain.SyncOutcome, error)
	ListErrors(ctx context.Context, filter domain.ErrorFilter) ([]domain.SyncError, error)
	GetError(ctx context.Context, errorID string) (domain.SyncError, error)
	RetryError(ctx context.Context, errorID string) (domain.RetryOutcome, error)
	ResolveError(ctx context.Context, errorID string) (domain.SyncError, error)
	ErrorQueueStats(ctx context.Context) (domain.ErrorQueueStats, error)
}

// AdminServer — серверный контракт menusync.v1.AdminService. Сообщения — google.protobuf.Struct.
type AdminServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRunningOperations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TriggerFullRefresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncPlatform(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListErrors(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetError(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryError(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveError(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetErrorQueueStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(AdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + AdminServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// AdminServiceDesc описывает сервис для grpc.Server.RegisterService.
var AdminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("GetStatus", AdminServer.GetStatus),
		unaryHandler("ListRunningOperations", AdminServer.ListRunningOperations),
		unaryHandler("TriggerFullRefresh", AdminServer.TriggerFullRefresh),
		unaryHandler("SyncPlatform", AdminServer.SyncPlatform),
		unaryHandler("ListErrors", AdminServer.ListErrors),
		unaryHandler("GetError", AdminServer.GetError),
		unaryHandler("RetryError", AdminServer.RetryError),
		unaryHandler("ResolveError", AdminServer.ResolveError),
		unaryHandler("GetErrorQueueStats", AdminServer.GetErrorQueueStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "menusync/v1/admin.proto",
}

// RegisterAdminServer регистрирует сервис на gRPC-сервере.
func RegisterAdminServer(registrar grpc.ServiceRegistrar, srv AdminServer) {
	registrar.RegisterService(&AdminServiceDesc, srv)
}

// AdminService реализует AdminServer поверх фасада admin.Service.
type AdminService struct {
	admin  AdminFacade
	logger *log.Entry
}

// NewAdminService конструирует gRPC-обёртку над фасадом.
func NewAdminService(facade AdminFacade, logger *log.Entry) *AdminService {
	if logger == nil {
		logger = log.WithField("component", "admin-grpc")
	}
	return &AdminService{admin: facade, logger: logger}
}

func (s *AdminService) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	restaurantID, err := requiredString(req, "restaurant_id")
	if err != nil {
		return nil, err
	}

	statuses, err := s.admin.GetStatus(ctx, restaurantID)
	if err != nil {
		return nil, s.toStatusError("GetStatus", err)
	}

	byPlatform := make(map[string]any, len(statuses))
	for platform, st := range statuses {
		byPlatform[string(platform)] = statusToMap(st)
	}
	return newResponse(map[string]any{
		"restaurant_id": restaurantID,
		"platforms":     byPlatform,
	})
}

func (s *AdminService) ListRunningOperations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ops, err := s.admin.RunningOperations(ctx, optionalString(req, "restaurant_id"))
	if err != nil {
		return nil, s.toStatusError("ListRunningOperations", err)
	}

	items := make([]any, 0, len(ops))
	for _, op := range ops {
		items = append(items, operationToMap(op))
	}
	return newResponse(map[string]any{"operations": items})
}

func (s *AdminService) TriggerFullRefresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	restaurantID, err := requiredString(req, "restaurant_id")
	if err != nil {
		return nil, err
	}
	platforms, err := platformList(req, "platforms")
	if err != nil {
		return nil, err
	}

	result, err := s.admin.TriggerFullRefresh(ctx, restaurantID, platforms, optionalBool(req, "force"))
	if err != nil {
		return nil, s.toStatusError("TriggerFullRefresh", err)
	}

	resp := map[string]any{
		"restaurant_id": result.RestaurantID,
		"accepted":      result.Accepted,
		"forced":        result.Forced,
		"platforms":     platformsToList(result.Platforms),
	}
	if result.Forced {
		outcomes := make([]any, 0, len(result.Platforms))
		for _, platform := range result.Platforms {
			outcomes = append(outcomes, outcomeToMap(result.Outcomes[platform]))
		}
		resp["success"] = result.Succeeded()
		resp["results"] = outcomes
	}
	return newResponse(resp)
}

func (s *AdminService) SyncPlatform(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	restaurantID, err := requiredString(req, "restaurant_id")
	if err != nil {
		return nil, err
	}
	platform, err := requiredString(req, "platform")
	if err != nil {
		return nil, err
	}

	outcome, err := s.admin.SyncPlatform(ctx, restaurantID, domain.Platform(platform))
	if err != nil {
		return nil, s.toStatusError("SyncPlatform", err)
	}
	return newResponse(outcomeToMap(outcome))
}

func (s *AdminService) ListErrors(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter := domain.ErrorFilter{
		RestaurantID: optionalString(req, "restaurant_id"),
		Platform:     domain.Platform(optionalString(req, "platform")),
		Limit:        optionalInt(req, "limit"),
	}
	if v, ok := req.GetFields()["resolved"]; ok {
		if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
			return nil, status.Error(codes.InvalidArgument, "resolved must be a boolean")
		}
		resolved := v.GetBoolValue()
		filter.Resolved = &resolved
	}

	errs, err := s.admin.ListErrors(ctx, filter)
	if err != nil {
		return nil, s.toStatusError("ListErrors", err)
	}

	items := make([]any, 0, len(errs))
	for _, syncErr := range errs {
		items = append(items, syncErrorToMap(syncErr))
	}
	return newResponse(map[string]any{"errors": items})
}

func (s *AdminService) GetError(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	errorID, err := requiredString(req, "error_id")
	if err != nil {
		return nil, err
	}
	syncErr, err := s.admin.GetError(ctx, errorID)
	if err != nil {
		return nil, s.toStatusError("GetError", err)
	}
	return newResponse(syncErrorToMap(syncErr))
}

func (s *AdminService) RetryError(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	errorID, err := requiredString(req, "error_id")
	if err != nil {
		return nil, err
	}

	outcome, err := s.admin.RetryError(ctx, errorID)
	if err != nil {
		return nil, s.toStatusError("RetryError", err)
	}

	message := "sync failed, error remains queued"
	success := outcome.Outcome.Success
	switch {
	case outcome.AlreadyResolved:
		message = "error already resolved"
		success = true
	case success:
		message = "sync succeeded, error resolved"
	}
	return newResponse(map[string]any{
		"error_id":         errorID,
		"success":          success,
		"already_resolved": outcome.AlreadyResolved,
		"message":          message,
		"error":            syncErrorToMap(outcome.Error),
	})
}

func (s *AdminService) ResolveError(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	errorID, err := requiredString(req, "error_id")
	if err != nil {
		return nil, err
	}
	syncErr, err := s.admin.ResolveError(ctx, errorID)
	if err != nil {
		return nil, s.toStatusError("ResolveError", err)
	}
	return newResponse(syncErrorToMap(syncErr))
}

func (s *AdminService) GetErrorQueueStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.admin.ErrorQueueStats(ctx)
	if err != nil {
		return nil, s.toStatusError("GetErrorQueueStats", err)
	}
	resp := map[string]any{"unresolved": stats.Unresolved}
	if !stats.OldestUnresolvedAt.IsZero() {
		resp["oldest_unresolved_at"] = formatTime(stats.OldestUnresolvedAt)
	}
	return newResponse(resp)
}

// toStatusError переводит доменные ошибки в gRPC-коды.
func (s *AdminService) toStatusError(operation string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrRestaurantRequired),
		errors.Is(err, domain.ErrUnknownPlatform),
		errors.Is(err, domain.ErrInvalidTrigger):
		code = codes.InvalidArgument
	case domain.IsNotFound(err):
		code = codes.NotFound
	case errors.Is(err, domain.ErrPlatformNotConfigured):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrDispatcherClosed):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		s.logger.WithError(err).WithField("operation", operation).Error("admin operation failed")
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

var _ AdminServer = (*AdminService)(nil)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
