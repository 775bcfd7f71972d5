package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/config"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/models"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers/crossref"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers/openalex"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers/pubmed"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/providers/unpaywall"
	"github.com/stephenmjerge/article-digital-object-identifier-fetcher/services"
)

var (
	documentsIngestedCounter   prometheus.Counter
	pdfsStoredCounter          prometheus.Counter
	pdfDedupHitsCounter        prometheus.Counter
	resolutionFailuresCounter  prometheus.Counter
	retractionsDetectedCounter prometheus.Counter
)

func init() {
	documentsIngestedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "documents_ingested_total",
		Help: "Total number of new documents added to the library.",
	})
	pdfsStoredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pdfs_stored_total",
		Help: "Total number of PDF artifacts written to the content store.",
	})
	pdfDedupHitsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pdf_dedup_hits_total",
		Help: "Total number of PDF payloads already present in the content store.",
	})
	resolutionFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "resolution_failures_total",
		Help: "Total number of identifiers no provider could resolve.",
	})
	retractionsDetectedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "retractions_detected_total",
		Help: "Total number of retraction notices found during verification.",
	})
	prometheus.MustRegister(documentsIngestedCounter, pdfsStoredCounter,
		pdfDedupHitsCounter, resolutionFailuresCounter, retractionsDetectedCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to library database.")

	logging.Info("Running database auto-migration...")
	err = db.AutoMigrate(
		&models.Document{}, &models.DocumentIdentifier{}, &models.Tag{},
		&models.PdfArtifact{},
		&models.ScreeningProject{}, &models.Candidate{}, &models.LabelEvent{},
	)
	if err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Providers in configured priority order
	crossrefFetcher := crossref.NewFetcher(cfg, logging)
	var chainProviders []providers.Provider
	for _, name := range cfg.Providers() {
		switch name {
		case "crossref":
			chainProviders = append(chainProviders, crossrefFetcher)
		case "openalex":
			chainProviders = append(chainProviders, openalex.NewFetcher(cfg, logging))
		case "pubmed":
			chainProviders = append(chainProviders, pubmed.NewFetcher(cfg, logging))
		default:
			logging.Warn("Unknown provider in config", zap.String("provider_name", name))
		}
	}
	if len(chainProviders) == 0 {
		logging.Fatal("No valid providers configured. Check PROVIDER_ORDER in .env")
	}
	logging.Info("Active providers loaded", zap.Strings("providers", cfg.Providers()))

	// Services
	store, err := services.NewContentStore(cfg, logging, db)
	if err != nil {
		logging.Fatal("Content store setup failed", zap.Error(err))
	}
	chain := services.NewResolverChain(cfg, logging, chainProviders)
	library := services.NewLibrary(db, logging)
	ingest := &services.IngestService{
		Config:    cfg,
		Logger:    logging,
		Chain:     chain,
		Library:   library,
		Store:     store,
		Unpaywall: unpaywall.NewFetcher(cfg, logging),
	}
	screening := &services.ScreeningService{
		Config: cfg, Logger: logging, Chain: chain, Ingest: ingest, DB: db,
	}
	verification := &services.VerificationService{
		Config: cfg, Logger: logging, Library: library, Registry: crossrefFetcher,
	}
	scanner := &services.BatchScanner{Config: cfg, Logger: logging, Ingest: ingest}

	// Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupIngestRoutes(router, ingest, scanner, logging)
	setupDocumentRoutes(router, library, logging)
	setupScreeningRoutes(router, screening, logging)
	setupVerifyRoutes(router, verification, logging)

	// Scheduled verification sweep
	cronScheduler := cron.New()
	cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled verification sweep...")
		results, err := verification.VerifyAll(context.Background())
		if err != nil {
			logging.Error("Verification sweep failed", zap.Error(err))
			return
		}
		countRetractions(results)
		logging.Info("Verification sweep completed", zap.Int("checked", len(results)))
	})
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func countIngestResults(results []services.IngestResult) {
	for _, res := range results {
		if res.Created {
			documentsIngestedCounter.Inc()
		}
		if res.PdfStored {
			pdfsStoredCounter.Inc()
		}
		if res.PdfDeduped {
			pdfDedupHitsCounter.Inc()
		}
		if res.Err != nil {
			resolutionFailuresCounter.Inc()
		}
	}
}

func countRetractions(results []services.VerificationResult) {
	for _, res := range results {
		if res.Status == models.VerificationRetracted {
			retractionsDetectedCounter.Inc()
		}
	}
}

func setupIngestRoutes(router *gin.Engine, ingest *services.IngestService, scanner *services.BatchScanner, log *zap.Logger) {
	rg := router.Group("/ingest")

	rg.POST("/", func(c *gin.Context) {
		var req struct {
			Identifier string `json:"identifier" binding:"required"`
			LocalPDF   string `json:"local_pdf"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'identifier' field is required."})
			return
		}

		res := ingest.Ingest(c.Request.Context(), req.Identifier, req.LocalPDF)
		countIngestResults([]services.IngestResult{res})
		if res.Err != nil {
			var exhausted *services.ResolutionExhaustedError
			if errors.Is(res.Err, services.ErrMalformedIdentifier) {
				c.JSON(http.StatusBadRequest, res)
				return
			}
			if errors.As(res.Err, &exhausted) {
				c.JSON(http.StatusNotFound, res)
				return
			}
			log.Error("Ingest failed", zap.String("identifier", req.Identifier), zap.Error(res.Err))
			c.JSON(http.StatusInternalServerError, res)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	rg.POST("/batch", func(c *gin.Context) {
		var req struct {
			Identifiers []string `json:"identifiers" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.Identifiers) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'identifiers' must be a non-empty list."})
			return
		}

		results := ingest.IngestBatch(c.Request.Context(), req.Identifiers)
		countIngestResults(results)
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	rg.POST("/scan", func(c *gin.Context) {
		var req struct {
			Dir   string `json:"dir" binding:"required"`
			Limit int    `json:"limit"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'dir' field is required."})
			return
		}

		results, err := scanner.Scan(c.Request.Context(), req.Dir, req.Limit)
		if err != nil {
			log.Error("Directory scan failed", zap.String("dir", req.Dir), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
			return
		}
		countIngestResults(results)
		c.JSON(http.StatusOK, gin.H{"results": results})
	})
}

func setupDocumentRoutes(router *gin.Engine, library *services.Library, log *zap.Logger) {
	rg := router.Group("/documents")

	rg.GET("/", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		docs, err := library.Documents(c.Request.Context(), limit)
		if err != nil {
			log.Error("Database query for documents failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, docs)
	})

	rg.GET("/search", func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter 'q' is required"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
		docs, err := library.Search(c.Request.Context(), query, limit)
		if err != nil {
			log.Error("Document search failed", zap.String("query", query), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, docs)
	})

	rg.GET("/by-doi/*doi", func(c *gin.Context) {
		doi := c.Param("doi")
		if len(doi) > 0 && doi[0] == '/' {
			doi = doi[1:]
		}
		doc, err := library.DocumentByDOI(c.Request.Context(), doi)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}
		doc, err := library.DocumentByID(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	rg.GET("/:id/citation", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}
		doc, err := library.DocumentByID(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reference": services.FormatReference(doc)})
	})

	rg.POST("/:id/tags", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document id"})
			return
		}
		var req struct {
			Tags []string `json:"tags" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'tags' field is required."})
			return
		}
		if err := library.AddTags(c.Request.Context(), uint(id), req.Tags); err != nil {
			log.Error("Adding tags failed", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "tags added"})
	})
}

func setupScreeningRoutes(router *gin.Engine, screening *services.ScreeningService, log *zap.Logger) {
	rg := router.Group("/screening")

	rg.POST("/projects", func(c *gin.Context) {
		var req struct {
			Name    string   `json:"name" binding:"required"`
			Query   string   `json:"query" binding:"required"`
			Sources []string `json:"sources"`
			Limit   int      `json:"limit"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'name' and 'query' are required."})
			return
		}

		project, err := screening.Start(c.Request.Context(), req.Name, req.Query, req.Sources, req.Limit)
		if err != nil {
			log.Error("Starting screening project failed", zap.String("name", req.Name), zap.Error(err))
			var sf *services.SearchFailedError
			switch {
			case errors.As(err, &sf):
				c.JSON(http.StatusBadGateway, gin.H{"error": sf.Error()})
			case errors.Is(err, services.ErrMalformedIdentifier):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start screening project"})
			}
			return
		}
		c.JSON(http.StatusCreated, project)
	})

	rg.GET("/projects", func(c *gin.Context) {
		projects, err := screening.Projects(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, projects)
	})

	rg.GET("/projects/:id/candidates", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
			return
		}
		status := models.CandidateStatus(c.Query("status"))
		candidates, err := screening.Candidates(c.Request.Context(), uint(id), status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, candidates)
	})

	rg.GET("/projects/:id/prisma", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
			return
		}
		counters, err := screening.Prisma(c.Request.Context(), uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, counters)
	})

	rg.POST("/candidates/:id/label", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid candidate id"})
			return
		}
		var req struct {
			Status   string `json:"status" binding:"required"`
			Reason   string `json:"reason"`
			Override bool   `json:"override"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'status' field is required."})
			return
		}

		candidate, err := screening.Label(c.Request.Context(), uint(id),
			models.CandidateStatus(req.Status), req.Reason, req.Override)
		if err != nil {
			var invalid *services.InvalidTransitionError
			if errors.As(err, &invalid) {
				c.JSON(http.StatusConflict, gin.H{"error": invalid.Error()})
				return
			}
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "candidate not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, candidate)
	})

	rg.GET("/candidates/:id/history", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid candidate id"})
			return
		}
		events, err := screening.History(c.Request.Context(), uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, events)
	})

	rg.POST("/candidates/:id/promote", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid candidate id"})
			return
		}
		res, err := screening.Promote(c.Request.Context(), uint(id))
		if res != nil {
			countIngestResults([]services.IngestResult{*res})
		}
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "candidate not found"})
				return
			}
			log.Error("Promoting candidate failed", zap.Uint64("id", id), zap.Error(err))
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

func setupVerifyRoutes(router *gin.Engine, verification *services.VerificationService, log *zap.Logger) {
	rg := router.Group("/verify")

	rg.POST("/", func(c *gin.Context) {
		var req struct {
			DOIs []string `json:"dois" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.DOIs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. 'dois' must be a non-empty list."})
			return
		}

		results := verification.VerifyBatch(c.Request.Context(), req.DOIs)
		countRetractions(results)
		c.JSON(http.StatusOK, gin.H{"results": results})
	})

	rg.POST("/all", func(c *gin.Context) {
		go func() {
			results, err := verification.VerifyAll(context.Background())
			if err != nil {
				log.Error("Async verification sweep failed", zap.Error(err))
				return
			}
			countRetractions(results)
			log.Info("Async verification sweep completed", zap.Int("checked", len(results)))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Verification sweep triggered."})
	})
}
