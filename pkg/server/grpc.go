package server

import (
	"context"
	"net"

	kratoslog "github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"goim-comment/pkg/config"
)

// GRPCServer gRPC服务器接口
type GRPCServer interface {
	GetServer() *grpc.Server
	RegisterService(registerFunc func(*grpc.Server))
	SetServing(service string, serving bool)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// GRPCServerWrapper gRPC服务器包装器，自带标准健康检查服务
type GRPCServerWrapper struct {
	server  *grpc.Server
	health  *health.Server
	network string
	addr    string
	logger  kratoslog.Logger
}

// NewGRPCServerWrapper 创建gRPC服务器包装器
func NewGRPCServerWrapper(c config.ListenConfig, logger kratoslog.Logger, opts ...grpc.ServerOption) *GRPCServerWrapper {
	server := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	network := c.Network
	if network == "" {
		network = "tcp"
	}
	return &GRPCServerWrapper{
		server:  server,
		health:  hs,
		network: network,
		addr:    c.Addr,
		logger:  logger,
	}
}

// GetServer 获取gRPC服务器
func (w *GRPCServerWrapper) GetServer() *grpc.Server {
	return w.server
}

// RegisterService 注册服务
func (w *GRPCServerWrapper) RegisterService(registerFunc func(*grpc.Server)) {
	registerFunc(w.server)
}

// SetServing 设置健康状态，service 为空表示整个进程
func (w *GRPCServerWrapper) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	w.health.SetServingStatus(service, st)
}

// Start 启动服务器
func (w *GRPCServerWrapper) Start(ctx context.Context) error {
	lis, err := net.Listen(w.network, w.addr)
	if err != nil {
		return err
	}
	w.logger.Log(kratoslog.LevelInfo, "msg", "gRPC server starting", "addr", lis.Addr().String())
	return w.server.Serve(lis)
}

// Stop 先标记不可用再优雅停止，超时后强制关闭
func (w *GRPCServerWrapper) Stop(ctx context.Context) error {
	w.logger.Log(kratoslog.LevelInfo, "msg", "gRPC server stopping")
	w.health.Shutdown()

	done := make(chan struct{})
	go func() {
		w.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.server.Stop()
	}
	return nil
}
