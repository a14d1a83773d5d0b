package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	TraceIDKey     contextKey = "trace_id"
	RequestIDKey   contextKey = "request_id"
	ServiceNameKey contextKey = "service_name"
	UserIDKey      contextKey = "user_id"
	AnonKeyKey     contextKey = "anon_key"
	ClientIPKey    contextKey = "client_ip"
)

// WithTraceID 设置 TraceID，为空时沿用当前 span 的 trace id
func WithTraceID(ctx context.Context, traceID string) context.Context {
	span := trace.SpanFromContext(ctx)
	if traceID == "" && span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
	}
	if traceID == "" {
		return ctx
	}
	if span.IsRecording() {
		span.SetAttributes(attribute.String("trace.id", traceID))
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// WithRequestID 设置 RequestID，为空时生成
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("request.id", requestID))
	}
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func GenerateRequestID() string {
	return uuid.NewString()
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

// WithUserID 登录用户，只有 JWT 校验通过后才调用
func WithUserID(ctx context.Context, userID int64) context.Context {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.Int64("user.id", userID))
	}
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) int64 {
	if ctx == nil {
		return 0
	}
	userID, _ := ctx.Value(UserIDKey).(int64)
	return userID
}

// WithActor 绑定评论操作者。匿名用户 userID 为 0，以 anonKey 标识
func WithActor(ctx context.Context, userID int64, anonKey string) context.Context {
	if userID > 0 {
		return WithUserID(ctx, userID)
	}
	if anonKey == "" {
		return ctx
	}
	return context.WithValue(ctx, AnonKeyKey, anonKey)
}

func GetAnonKey(ctx context.Context) string {
	return stringValue(ctx, AnonKeyKey)
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("client.ip", ip))
	}
	return context.WithValue(ctx, ClientIPKey, ip)
}

func GetClientIP(ctx context.Context) string {
	return stringValue(ctx, ClientIPKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
