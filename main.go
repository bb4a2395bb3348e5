// collector/main.go
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
	"github.com/joho/godotenv"

	"github.com/sitepulse/collector/config"
	"github.com/sitepulse/collector/database"
	"github.com/sitepulse/collector/geoip"
	"github.com/sitepulse/collector/handlers"
	"github.com/sitepulse/collector/journal"
	"github.com/sitepulse/collector/middleware"
	"github.com/sitepulse/collector/notify"
	"github.com/sitepulse/collector/report"
	"github.com/sitepulse/collector/store"
)

func main() {
	// Load .env file at the very start
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading .env: %v", err)
	}

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := config.Load()

	// --- PostgreSQL: aggregates, registrations, users ---
	dbClient, err := database.NewPostgresDB()
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL database: %v", err)
	}
	defer dbClient.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := dbClient.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		log.Fatalf("Failed to migrate PostgreSQL schema: %v", err)
	}

	// --- ClickHouse: raw event journal (optional) ---
	var (
		journalStore  *store.JournalStore
		journalWriter *journal.Writer
	)
	if os.Getenv("CLICKHOUSE_HOST") != "" {
		chClient, err := database.NewClickHouseDB()
		if err != nil {
			log.Fatalf("Failed to initialize ClickHouse database: %v", err)
		}
		defer chClient.Close()

		if err := chClient.Migrate(migrateCtx); err != nil {
			cancelMigrate()
			log.Fatalf("Failed to migrate ClickHouse schema: %v", err)
		}

		journalStore = store.NewJournalStore(chClient)
		journalWriter = journal.NewWriter(journalStore, cfg.JournalBufferSize, cfg.JournalBatchSize, cfg.JournalFlushEvery)
		journalWriter.Start(cfg.JournalWorkerCount)
	} else {
		log.Println("CLICKHOUSE_HOST not set; running without the raw event journal.")
	}
	cancelMigrate()

	// --- Stores ---
	aggregateStore := store.NewAggregateStore(dbClient.DB, cfg.SessionReopen)
	registrationStore := store.NewRegistrationStore(dbClient.DB)
	userStore := store.NewUserStore(dbClient.DB)

	// --- Notifier ---
	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.SMTPHost != "" {
		notifier = notify.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	}

	// --- Reporting job ---
	reporter := report.NewReporter(registrationStore, aggregateStore, notifier, cfg.ReportLookback, cfg.InactivityTimeout)
	reportCron, err := reporter.Schedule(cfg.ReportSchedule, cfg.ReportTimezone)
	if err != nil {
		log.Fatalf("Failed to schedule reporting job: %v", err)
	}

	// --- Handlers ---
	geoClient := geoip.NewClient(cfg.GeoBaseURL)
	var sink handlers.JournalSink
	var stats handlers.JournalStats
	if journalWriter != nil {
		sink = journalWriter
		stats = journalStore
	}
	trackHandlers := handlers.NewTrackHandlers(aggregateStore, geoClient, sink, stats)
	registrationHandlers := handlers.NewRegistrationHandlers(registrationStore)
	authHandlers := handlers.NewAuthHandlers(userStore)

	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	// Open surface: trackers and sign-up forms cannot carry credentials.
	r.POST("/events", trackHandlers.TrackEvent)
	r.POST("/registrations", registrationHandlers.Register)

	auth := r.Group("/auth")
	{
		auth.POST("/signup", authHandlers.Signup)
		auth.POST("/login", authHandlers.Login)
		auth.POST("/logout", authHandlers.Logout)
	}

	admin := r.Group("/")
	admin.Use(middleware.AuthRequired())
	{
		admin.GET("/aggregates", trackHandlers.GetAggregates)
		admin.GET("/clients", registrationHandlers.ListClients)
		if stats != nil {
			admin.GET("/stats/event-counts", trackHandlers.GetEventCounts)
			admin.GET("/stats/top-paths", trackHandlers.GetTopPaths)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Collector API server starting on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Collector API server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	reportCron.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if journalWriter != nil {
		journalWriter.Stop()
	}

	log.Println("Server exiting.")
}
