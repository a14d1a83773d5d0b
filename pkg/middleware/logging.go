package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingMiddleware 日志中间件
type LoggingMiddleware struct {
	logger kratoslog.Logger
}

// NewLoggingMiddleware 创建日志中间件
func NewLoggingMiddleware(logger kratoslog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger,
	}
}

// GinLogging 每个请求一条访问日志
func (lm *LoggingMiddleware) GinLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := kratoslog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = kratoslog.LevelError
		}
		lm.logger.Log(level,
			"msg", "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"user_id", c.GetInt64(ContextUserID),
			"error", c.Errors.ByType(gin.ErrorTypePrivate).String(),
		)
	}
}

// GRPCLogging gRPC日志拦截器
func (lm *LoggingMiddleware) GRPCLogging() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		lm.logCall("gRPC request", info.FullMethod, start, err)
		return resp, err
	}
}

// GRPCStreamLogging gRPC流日志拦截器
func (lm *LoggingMiddleware) GRPCStreamLogging() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		lm.logCall("gRPC stream", info.FullMethod, start, err)
		return err
	}
}

func (lm *LoggingMiddleware) logCall(msg, method string, start time.Time, err error) {
	st := status.Convert(err)
	if err != nil {
		lm.logger.Log(kratoslog.LevelError,
			"msg", msg+" completed with error",
			"method", method,
			"duration", time.Since(start).String(),
			"code", st.Code().String(),
			"error", err.Error(),
		)
		return
	}
	lm.logger.Log(kratoslog.LevelDebug,
		"msg", msg+" completed",
		"method", method,
		"duration", time.Since(start).String(),
		"code", st.Code().String(),
	)
}

// GRPCRecovery gRPC恢复拦截器
func (lm *LoggingMiddleware) GRPCRecovery() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				lm.logger.Log(kratoslog.LevelError,
					"msg", "gRPC request panic recovered",
					"method", info.FullMethod,
					"panic", r,
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}
