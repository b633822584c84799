package telemetry

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// GinMiddleware traces HTTP requests with the service name as the server name
func (s *Service) GinMiddleware() gin.HandlerFunc {
	return otelgin.Middleware(s.config.ServiceName)
}
