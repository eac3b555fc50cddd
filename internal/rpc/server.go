package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"process-calendar-api/internal/access"
	"process-calendar-api/internal/auth"
	"process-calendar-api/internal/insights"
	"process-calendar-api/internal/middleware"
	"process-calendar-api/internal/model"
	"process-calendar-api/internal/ratelimit"
	"process-calendar-api/internal/store"
)

type Reporter interface {
	Summary(ctx context.Context, userID string, from, to, now time.Time) (*insights.Summary, error)
	Progress(ctx context.Context, processID string) (*insights.Progress, error)
	ProgressForUser(ctx context.Context, userID string) ([]insights.Progress, error)
}

type Processes interface {
	Process(ctx context.Context, id string) (*model.Process, error)
	EventsForProcess(ctx context.Context, processID string) ([]*model.Event, error)
}

type Insights struct {
	reports   Reporter
	processes Processes
	now       func() time.Time
}

func NewInsights(r Reporter, p Processes) *Insights {
	return &Insights{reports: r, processes: p, now: time.Now}
}

func actor(ctx context.Context) access.Actor {
	return access.Actor{UserID: middleware.UserID(ctx), Admin: middleware.IsAdmin(ctx)}
}

// GetSummary accepts optional RFC 3339 "from" and "to"; the default range
// is the last 30 days.
func (s *Insights) GetSummary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	now := s.now().UTC()
	from, err := timeField(in, "from", now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}
	to, err := timeField(in, "to", now)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, status.Error(codes.InvalidArgument, "to must be after from")
	}

	sum, err := s.reports.Summary(ctx, actor(ctx).UserID, from, to, now)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return toStruct(sum)
}

// GetProgress returns one process when "processId" is set, otherwise every
// process the caller owns under "processes".
func (s *Insights) GetProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	a := actor(ctx)
	id := in.GetFields()["processId"].GetStringValue()
	if id == "" {
		list, err := s.reports.ProgressForUser(ctx, a.UserID)
		if err != nil {
			return nil, status.Error(codes.Internal, "internal error")
		}
		return toStruct(map[string]any{"processes": list})
	}

	p, err := s.processes.Process(ctx, id)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalid) {
		return nil, status.Error(codes.NotFound, "process not found")
	}
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	events, err := s.processes.EventsForProcess(ctx, id)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	if !access.CanViewProcess(a, p, events) {
		return nil, status.Error(codes.NotFound, "process not found")
	}
	prog := insights.ProcessProgress(p)
	return toStruct(prog)
}

func timeField(in *structpb.Struct, name string, def time.Time) (time.Time, error) {
	raw := in.GetFields()[name].GetStringValue()
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "%s must be RFC 3339", name)
	}
	return t, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return st, nil
}

// open methods skip bearer auth.
var open = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// NewServer wires health, insights and the interceptor chain: sliding
// window rate limit first, then auth.
func NewServer(svc InsightsServer, l *ratelimit.Limiter, iss *auth.Issuer, log *logrus.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		logUnary(log),
		middleware.UnaryRateLimit(l, iss),
		middleware.UnaryAuth(iss, open),
	))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	srv.RegisterService(&InsightsServiceDesc, svc)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

func logUnary(log *logrus.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		e := log.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		})
		if status.Code(err) == codes.Internal || status.Code(err) == codes.Unknown {
			e.WithError(err).Error("grpc call failed")
		} else {
			e.Debug("grpc call")
		}
		return resp, err
	}
}
