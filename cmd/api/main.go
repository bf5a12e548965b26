package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
	"qrattend/internal/scan"
	"qrattend/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		slog.Warn("db not reachable", "error", err)
	} else if err := store.RunMigrations(db.Client); err != nil {
		return err
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:scans")
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	repo := attendance.NewRepository(db.Client)
	guard := scan.NewGuard(repo, cfg.DedupeConfig(), slog.Default())
	processor := scan.NewProcessor(&scan.Parser{Prefix: cfg.MarkerPrefix}, guard, cfg.ScanPolicy(), collector, slog.Default())
	svc := attendance.NewService(repo, processor, q, slog.Default())

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
		dbHealthy := db != nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/organizers/register", func(c *gin.Context) {
		var req struct {
			OrganizerID string `json:"organizer_id" binding:"required"`
			Name        string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var name *string
		if req.Name != "" {
			name = &req.Name
		}
		if err := repo.UpsertOrganizer(c.Request.Context(), req.OrganizerID, name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(req.OrganizerID, auth.RoleOrganizer, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		_ = repo.SaveRefreshToken(c.Request.Context(), req.OrganizerID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.OrganizerAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/scans", func(c *gin.Context) {
		var req struct {
			QRText    string `json:"qr_text" binding:"required"`
			StudentID string `json:"student_id"`
			SessionID string `json:"session_id"`
			EventID   string `json:"event_id"`
			ScanType  string `json:"scan_type"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var requested scan.ScanType
		switch req.ScanType {
		case "":
			// inferred from the active window
		case string(scan.ScanTimeIn), string(scan.ScanTimeOut):
			requested = scan.ScanType(req.ScanType)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "scan_type must be time_in or time_out"})
			return
		}

		claimsAny, _ := c.Get("claims")
		claims, _ := claimsAny.(auth.Claims)

		result, err := svc.ProcessScan(c.Request.Context(), attendance.ScanRequest{
			QRText:        req.QRText,
			StudentID:     req.StudentID,
			SessionID:     req.SessionID,
			EventID:       req.EventID,
			RequestedType: requested,
			OrganizerID:   claims.Subject,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Rejections are ordinary outcomes, not HTTP errors; the scanner UI
		// reads success and message.
		c.JSON(http.StatusOK, result)
	})

	authGroup.POST("/sessions", func(c *gin.Context) {
		var req struct {
			EventID      string     `json:"event_id" binding:"required"`
			Name         string     `json:"name"`
			StartTime    time.Time  `json:"start_time" binding:"required"`
			EndTime      time.Time  `json:"end_time" binding:"required"`
			TimeInStart  *time.Time `json:"time_in_start"`
			TimeInEnd    *time.Time `json:"time_in_end"`
			TimeOutStart *time.Time `json:"time_out_start"`
			TimeOutEnd   *time.Time `json:"time_out_end"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !req.EndTime.After(req.StartTime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be after start_time"})
			return
		}

		sess, err := repo.CreateSession(c.Request.Context(), attendance.Session{
			EventID:      req.EventID,
			Name:         req.Name,
			StartTime:    req.StartTime,
			EndTime:      req.EndTime,
			IsActive:     true,
			TimeInStart:  req.TimeInStart,
			TimeInEnd:    req.TimeInEnd,
			TimeOutStart: req.TimeOutStart,
			TimeOutEnd:   req.TimeOutEnd,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	authGroup.GET("/sessions", func(c *gin.Context) {
		limit, offset := pagination(c)
		sessions, err := repo.ListSessions(c.Request.Context(), c.Query("event_id"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	})

	authGroup.GET("/sessions/:id/counts", func(c *gin.Context) {
		id := c.Param("id")
		if timeIn, timeOut, ok, err := redisClient.GetSessionCounts(c.Request.Context(), id); err == nil && ok {
			c.JSON(http.StatusOK, gin.H{"session_id": id, "time_in": timeIn, "time_out": timeOut, "cached": true})
			return
		}
		timeIn, timeOut, err := repo.CountBySession(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"session_id": id, "time_in": timeIn, "time_out": timeOut, "cached": false})
	})

	authGroup.GET("/records", func(c *gin.Context) {
		limit, offset := pagination(c)
		records, err := repo.ListRecords(c.Request.Context(), c.Query("session_id"), c.Query("student_id"), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server forced shutdown", "error", err)
	}

	slog.Info("server exited")
	return nil
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	return limit, offset
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
