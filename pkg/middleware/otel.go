package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	tracecontext "goim-comment/pkg/context"
)

// OTelMiddleware OpenTelemetry中间件配置
type OTelMiddleware struct {
	serviceName string
}

// NewOTelMiddleware 创建OpenTelemetry中间件
func NewOTelMiddleware(serviceName string) *OTelMiddleware {
	return &OTelMiddleware{serviceName: serviceName}
}

// GinMiddleware 为每个请求建立 server span
func (m *OTelMiddleware) GinMiddleware() gin.HandlerFunc {
	return otelgin.Middleware(m.serviceName)
}

// GinContext 把 trace、request、客户端信息放进请求 context。需在认证之后
func (m *OTelMiddleware) GinContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		ctx = tracecontext.WithTraceID(ctx, c.GetHeader("X-Trace-ID"))

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = tracecontext.GenerateRequestID()
		}
		ctx = tracecontext.WithRequestID(ctx, requestID)
		c.Header("X-Request-ID", requestID)

		ctx = tracecontext.WithServiceName(ctx, m.serviceName)
		ctx = tracecontext.WithClientIP(ctx, c.ClientIP())
		ctx = tracecontext.WithActor(ctx, c.GetInt64(ContextUserID), c.GetString(ContextAnonKey))

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("http.route", c.FullPath()))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
