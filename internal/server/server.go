package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ppiankov/carewatch/internal/api"
	"github.com/ppiankov/carewatch/internal/config"
	"github.com/ppiankov/carewatch/internal/model"
	"github.com/ppiankov/carewatch/internal/pipeline"
	"github.com/ppiankov/carewatch/internal/tracer"
)

// Config holds gRPC server configuration.
type Config struct {
	Addr string
	// ConfigPath is re-read on ReloadConfig.
	ConfigPath string
	// Now is the slot engine clock used on reload.
	Now func() time.Time
}

// Server implements GovernanceService over a pipeline.
type Server struct {
	pipe       *pipeline.Pipeline
	cfg        Config
	logger     *slog.Logger
	grpcServer *grpc.Server
}

// New creates a gRPC server that serves p.
func New(p *pipeline.Pipeline, cfg Config) *Server {
	s := &Server{
		pipe:   p,
		cfg:    cfg,
		logger: p.Logger,
	}
	s.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(api.Codec{}),
		grpc.ChainUnaryInterceptor(s.logCalls),
	)
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("grpc server listening", "addr", lis.Addr().String(), "mode", s.pipe.Orchestrator.Mode())
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Handle implements the Handle RPC.
func (s *Server) Handle(ctx context.Context, req *api.HandleRequest) (*model.Response, error) {
	ctx = withTrace(ctx, req.TraceID)
	_, resp := s.pipe.Orchestrator.StepMode(ctx, model.WorkflowState{Status: model.Pending}, req.Text, s.mode(!req.DryRun))
	return &resp, nil
}

// Step implements the Step RPC.
func (s *Server) Step(ctx context.Context, req *api.StepRequest) (*api.StepResponse, error) {
	ctx = withTrace(ctx, req.TraceID)
	state, resp := s.pipe.Orchestrator.StepMode(ctx, req.State, req.Input, s.mode(!req.DryRun))
	return &api.StepResponse{State: state, Response: resp}, nil
}

// Dispatch implements the Dispatch RPC. Validation failures map to
// InvalidArgument and unknown tools to NotFound; backend failures are
// reported inside the result.
func (s *Server) Dispatch(ctx context.Context, req *api.DispatchRequest) (*model.DispatchResult, error) {
	traceID := req.TraceID
	if traceID == "" {
		traceID = tracer.NewTraceID()
	}
	ctx = tracer.WithTraceID(ctx, traceID)

	res, err := s.pipe.Dispatcher.Dispatch(ctx, req.Tool, req.Arguments, s.mode(req.Live))
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

// Operations implements the Operations RPC.
func (s *Server) Operations(ctx context.Context, req *api.OperationsRequest) (*api.OperationsResponse, error) {
	return &api.OperationsResponse{Operations: s.pipe.Registry.Operations()}, nil
}

// ReloadConfig re-reads the config file and swaps gate and slot settings.
// Called by the hot-reloader on file change.
func (s *Server) ReloadConfig() error {
	cfg, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("server: reload config: %w", err)
	}
	if err := s.pipe.Reload(cfg, s.cfg.Now); err != nil {
		return fmt.Errorf("server: reload config: %w", err)
	}
	s.logger.Info("config reloaded", "path", s.cfg.ConfigPath, "hash", hash)
	return nil
}

// mode downgrades to dry-run unless both the caller and the server want live.
func (s *Server) mode(wantLive bool) model.Mode {
	if wantLive && s.pipe.Orchestrator.Mode() == model.Live {
		return model.Live
	}
	return model.DryRun
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("rpc",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start))
	return resp, err
}

func withTrace(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return tracer.WithTraceID(ctx, traceID)
}

func toStatus(err error) error {
	var (
		ve *model.ValidationError
		nf *model.NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &nf):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
