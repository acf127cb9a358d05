package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/config"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/metrics"
	"classtrack/internal/mirror"
	"classtrack/internal/qr"
	"classtrack/internal/queue"
	"classtrack/internal/remote"
	"classtrack/internal/report"
	"classtrack/internal/sheets"
	"classtrack/internal/snapshot"
	"classtrack/internal/store"
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

type restorer interface {
	Load(ctx context.Context) ([]attendance.Session, []attendance.AttendanceRecord, []attendance.Student, error)
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	// The repository exists whenever a DB handle does, even if Postgres
	// is down at boot: sql.DB reconnects lazily, and until it does every
	// mirror write must go through the adapter's failure path (outbox,
	// fallback, counters) rather than vanish behind a nil remote.
	var repo *remote.Repository
	if db != nil {
		repo = remote.NewRepository(db.Client)
		if err := repo.Migrate(ctx); err != nil {
			log.Printf("warning: remote migrate failed: %v", err)
		}
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	sheetsClient := sheets.New(cfg.SheetsWebhookURL)
	if sheetsClient.Enabled() {
		log.Println("spreadsheet fallback configured")
	} else {
		log.Println("spreadsheet fallback not configured (SHEETS_WEBHOOK_URL not set)")
	}

	var snap attendance.Snapshotter
	var restore restorer
	if cfg.SnapshotBackend == "file" {
		fs, err := snapshot.NewFileStore(cfg.SnapshotDir)
		if err != nil {
			return err
		}
		snap, restore = fs, fs
	} else {
		rs := snapshot.NewRedisStore(redisClient.Client)
		snap, restore = rs, rs
	}

	var remoteMirror mirror.RemoteStore
	if repo != nil {
		remoteMirror = repo
	}
	adapter := mirror.New(remoteMirror, q, sheetsClient)

	st := attendance.NewStore(snap, adapter, nil)
	if sessions, records, students, err := restore.Load(ctx); err != nil {
		log.Printf("warning: snapshot restore failed: %v", err)
	} else if len(sessions)+len(records)+len(students) > 0 {
		st.Restore(sessions, records, students)
		log.Printf("restored %d sessions, %d records, %d students from snapshot",
			len(sessions), len(records), len(students))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/students/register", func(c *gin.Context) {
		var req struct {
			Name          string   `json:"name" binding:"required"`
			Email         string   `json:"email" binding:"required,email"`
			Password      string   `json:"password" binding:"required,min=8"`
			AcademicLevel string   `json:"academicLevel" binding:"required"`
			Subjects      []string `json:"subjects" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}

		student, err := st.RegisterStudent(c.Request.Context(), attendance.Student{
			Name:          req.Name,
			Email:         req.Email,
			PasswordHash:  hash,
			AcademicLevel: req.AcademicLevel,
			Subjects:      req.Subjects,
		})
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		tokens, err := auth.Issue(student.ID, auth.RoleStudent, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"student":       studentView(student),
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/students/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		student, err := st.StudentByEmail(req.Email)
		if err != nil || !auth.CheckPassword(student.PasswordHash, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		tokens, err := auth.Issue(student.ID, auth.RoleStudent, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"student":       studentView(student),
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/instructor/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		emailOK := auth.SecureCompare(req.Email, cfg.InstructorEmail)
		passOK := auth.SecureCompare(req.Password, cfg.InstructorPassword)
		if !emailOK || !passOK {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		tokens, err := auth.Issue(req.Email, auth.RoleInstructor, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	instructor := r.Group("/v1/instructor", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleInstructor))

	instructor.POST("/sessions", func(c *gin.Context) {
		var req struct {
			AcademicLevel string `json:"academicLevel" binding:"required"`
			Subject       string `json:"subject" binding:"required"`
			Quick         bool   `json:"quick"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ttl := cfg.SessionTTL
		if req.Quick {
			ttl = cfg.QuickSessionTTL
		}
		session := st.CreateSession(c.Request.Context(), req.AcademicLevel, req.Subject, ttl)
		c.JSON(http.StatusCreated, session)
	})

	instructor.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": st.Sessions()})
	})

	instructor.GET("/sessions/active", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"session": st.ActiveSession(c.Request.Context())})
	})

	instructor.POST("/sessions/:id/end", func(c *gin.Context) {
		if err := st.EndSession(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ended"})
	})

	instructor.GET("/sessions/:id/qr.png", func(c *gin.Context) {
		session, err := st.Session(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		size := 0
		if v := c.Query("size"); v != "" {
			size, _ = strconv.Atoi(v)
		}
		png, err := qr.EncodePNG(session.QRCode, size)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "qr render failed"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	})

	instructor.GET("/records", func(c *gin.Context) {
		if c.Query("source") == "remote" {
			if repo == nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "remote store not available"})
				return
			}
			limit, offset := 50, 0
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
			records, err := repo.ListRecords(c.Request.Context(), c.Query("session_id"), c.Query("student_id"), limit, offset)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"records": records, "source": "remote"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": st.Records(), "source": "local"})
	})

	instructor.GET("/students", func(c *gin.Context) {
		students := st.Students()
		views := make([]gin.H, 0, len(students))
		for _, s := range students {
			views = append(views, studentView(s))
		}
		c.JSON(http.StatusOK, gin.H{"students": views})
	})

	instructor.GET("/reports", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"reports": report.Build(st.Sessions(), st.Records(), st.Students())})
	})

	instructor.GET("/reports.csv", func(c *gin.Context) {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="attendance-report.csv"`)
		if err := report.WriteCSV(c.Writer, report.Build(st.Sessions(), st.Records(), st.Students())); err != nil {
			log.Printf("csv export failed: %v", err)
		}
	})

	scanLimiter := httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	student := r.Group("/v1", auth.RequireRole(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent), scanLimiter.GinMiddleware())

	student.POST("/scan", func(c *gin.Context) {
		var req struct {
			Payload string `json:"payload" binding:"required"`
			Subject string `json:"subject" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		claims, _ := auth.FromContext(c)
		scanner, err := st.StudentByID(claims.Subject)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown student"})
			return
		}

		// Enrollment gates which sessions a student may validate
		// against, before the scan checks run.
		if !scanner.EnrolledIn(req.Subject) {
			c.JSON(http.StatusOK, attendance.Decision{
				OK:      false,
				Reason:  "not_enrolled",
				Message: "You are not enrolled in " + req.Subject,
			})
			return
		}

		decision := st.MarkAttendance(c.Request.Context(), req.Payload, attendance.Claim{
			StudentID:   scanner.ID,
			StudentName: scanner.Name,
			Email:       scanner.Email,
			Subject:     req.Subject,
		})
		metrics.ScansTotal.WithLabelValues(string(decision.Reason)).Inc()

		// Rejections are values, not HTTP errors: the client shows
		// Message verbatim either way.
		c.JSON(http.StatusOK, decision)
	})

	student.GET("/me", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		scanner, err := st.StudentByID(claims.Subject)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown student"})
			return
		}
		c.JSON(http.StatusOK, studentView(scanner))
	})

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

// studentView strips the credential hash from API responses.
func studentView(s attendance.Student) gin.H {
	return gin.H{
		"id":            s.ID,
		"name":          s.Name,
		"email":         s.Email,
		"academicLevel": s.AcademicLevel,
		"subjects":      s.Subjects,
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
