package httpapi

import (
	"net/http"
	"time"

	"github.com/MrEthical07/clinicauth/tenant"
	"go.uber.org/zap"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// LoggingMiddleware writes one access log line per request.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(writer, r)

			tenantID := writer.Header().Get(tenant.HeaderTenantID)
			if tenantID == "" {
				tenantID = r.Header.Get(tenant.HeaderTenantID)
			}
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", writer.status),
				zap.Int("bytes", writer.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("tenant_id", tenantID),
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("remote_ip", clientIP(r)))
		})
	}
}
