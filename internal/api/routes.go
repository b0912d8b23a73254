package api

import (
	"crypto/rsa"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	internalapi "bar-crm/internal/api/internal"
	"bar-crm/internal/api/middleware"
	v1 "bar-crm/internal/api/v1"
	"bar-crm/internal/service"
	jwtutil "bar-crm/pkg/jwt"
	loggerpkg "bar-crm/pkg/logger"
)

type AdminServices struct {
	Rules         *service.ConversionRuleService
	Points        *service.PointsService
	Recalculation *service.PointsRecalculationService
	Audit         *service.AuditService
	RecentLogs    *loggerpkg.RecentLog
	// DeductionLimiter caps deductions per member; nil disables the cap.
	DeductionLimiter *middleware.RateLimiter
}

// RegisterAdminRoutes mounts /api/v1. Every route needs an admin token.
func RegisterAdminRoutes(router gin.IRouter, publicKey *rsa.PublicKey, services AdminServices) {
	group := router.Group("/api/v1")
	group.Use(middleware.JWTAuth(publicKey), middleware.RequireRole(jwtutil.RoleAdmin))

	var deductGuards []gin.HandlerFunc
	if services.DeductionLimiter != nil {
		deductGuards = append(deductGuards, services.DeductionLimiter.ByParam("member_id"))
	}

	if services.Rules != nil {
		v1.RegisterRuleRoutes(group, services.Rules)
	}
	if services.Points != nil {
		v1.RegisterPointsRoutes(group, services.Points, deductGuards...)
	}
	if services.Recalculation != nil {
		v1.RegisterRecalculationRoutes(group, services.Recalculation)
	}
	v1.RegisterAuditRoutes(group, services.Audit)
	v1.RegisterSystemRoutes(group, services.RecentLogs)
}

type InternalOptions struct {
	Token           string
	SigningSecret   string
	SignatureMaxAge time.Duration
	// IntakeLimiter caps event deliveries per client address; nil disables it.
	IntakeLimiter *middleware.RateLimiter
	Metrics       http.Handler
}

// RegisterInternalRoutes mounts /internal. Event intake always needs the
// internal token; the metrics endpoint also accepts loopback scrapes.
func RegisterInternalRoutes(router gin.IRouter, intake internalapi.PointsIntake, opts InternalOptions) {
	group := router.Group("/internal")
	token := strings.TrimSpace(opts.Token)

	if opts.Metrics != nil {
		group.GET("/metrics", middleware.InternalTokenAuth(token, true), gin.WrapH(opts.Metrics))
	}

	if intake == nil {
		return
	}
	guards := []gin.HandlerFunc{middleware.InternalTokenAuth(token, false)}
	if opts.IntakeLimiter != nil {
		guards = append(guards, opts.IntakeLimiter.ByClientIP())
	}
	guards = append(guards, middleware.EventSignature(opts.SigningSecret, opts.SignatureMaxAge))

	internalapi.RegisterEventRoutes(group, intake, guards...)
}
