package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence/internal/audit"
	"presence/internal/auth"
	"presence/internal/config"
	"presence/internal/httpmiddleware"
	"presence/internal/record"
	"presence/internal/report"
	"presence/internal/roster"
	"presence/internal/session"
	"presence/internal/store"
	"presence/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := store.Migrate(db.Client); err != nil {
			return err
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var (
		ledger token.Ledger
		queue  audit.Queue
	)
	if cfg.QueueBackend == "memory" {
		// Single-process dev mode: ledger and audit events stay
		// in-process, so cmd/worker cannot consume them.
		ledger = token.NewMemoryLedger()
		queue = audit.NewInMemory(64)
	} else {
		ledger = token.NewRedisLedger(redisClient.Client)
		queue = audit.NewRedisQueue(redisClient.Client, "presence:audit")
	}

	oracle := roster.NewPG(db.Client)
	sessionRepo := session.NewRepository(db.Client)
	sessions := session.NewService(sessionRepo, oracle, queue, cfg.CodeTTL)

	issuer := token.NewIssuer(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.TokenTTL)
	tokens := token.NewService(sessionRepo, oracle, issuer, ledger, queue)

	recordRepo := record.NewRepository(db.Client)
	records := record.NewService(recordRepo, sessionRepo, issuer, ledger, oracle, queue)

	reports := report.NewService(report.NewRepository(db.Client), oracle)

	a := &api{
		sessions: sessions,
		tokens:   tokens,
		records:  records,
		reports:  reports,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	faculty := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleFaculty))
	faculty.POST("/sessions", a.createSession)
	faculty.GET("/sessions", a.listSessions)
	faculty.POST("/sessions/:id/rotate", a.rotateSession)
	faculty.POST("/sessions/:id/close", a.closeSession)
	faculty.POST("/sessions/:id/submit", a.submitSession)
	faculty.GET("/sessions/:id/records", a.listSessionRecords)
	faculty.POST("/sessions/:id/records", a.manualMark)
	faculty.GET("/subjects/:id/students/:sid/calendar", a.facultyCalendar)

	staff := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleFaculty, auth.RoleAdmin))
	staff.POST("/records/override", a.overrideRecord)

	student := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))
	student.POST("/scan", a.scanCode)
	student.POST("/attendance", a.redeemToken)
	student.GET("/subjects/:id/calendar", a.studentCalendar)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
