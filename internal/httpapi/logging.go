package httpapi

import (
	"context"

	"github.com/MarkoPoloResearchLab/campuspay/pkg/payment"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type requestIDKey struct{}

func withRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

type zapOperationLogger struct {
	logger *zap.Logger
}

// NewOperationLogger adapts zap to payment.OperationLogger.
func NewOperationLogger(logger *zap.Logger) payment.OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &zapOperationLogger{logger: logger}
}

func (operationLogger *zapOperationLogger) LogOperation(ctx context.Context, entry payment.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.OrderID != "" {
		fields = append(fields, zap.String("order_id", entry.OrderID))
	}
	if entry.Reference != "" {
		fields = append(fields, zap.String("reference", entry.Reference))
	}
	if entry.Payer != "" {
		fields = append(fields, zap.String("payer", entry.Payer))
	}
	if entry.Lamports > 0 {
		fields = append(fields, zap.Uint64("lamports", entry.Lamports.Uint64()))
	}
	if requestID := requestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		operationLogger.logger.Warn("payment operation failed", fields...)
		return
	}
	operationLogger.logger.Info("payment operation", fields...)
}

// NewLogger builds a production zap logger at the named level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
