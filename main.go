package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"smartbuilding-advisor/internal/anchor"
	anchorpostgres "smartbuilding-advisor/internal/anchor/infrastructure/postgres"
	"smartbuilding-advisor/internal/audit"
	"smartbuilding-advisor/internal/auth"
	decisionapp "smartbuilding-advisor/internal/decision/application"
	forecastapp "smartbuilding-advisor/internal/forecast/application"
	forecastpostgres "smartbuilding-advisor/internal/forecast/infrastructure/postgres"
	monitoringapp "smartbuilding-advisor/internal/monitoring/application"
	"smartbuilding-advisor/internal/observability/metrics"
	optimizerapp "smartbuilding-advisor/internal/optimizer/application"
	optimizerpostgres "smartbuilding-advisor/internal/optimizer/infrastructure/postgres"
	pipelineapp "smartbuilding-advisor/internal/pipeline/application"
	"smartbuilding-advisor/internal/pipeline/config"
	pipelinekafka "smartbuilding-advisor/internal/pipeline/infrastructure/kafka"
	pipelinepostgres "smartbuilding-advisor/internal/pipeline/infrastructure/postgres"
	pipelinehttp "smartbuilding-advisor/internal/pipeline/interfaces/http"
	"smartbuilding-advisor/internal/pipeline/notify"
	tariff "smartbuilding-advisor/internal/tariff/domain"
	tariffpostgres "smartbuilding-advisor/internal/tariff/infrastructure/postgres"
	telemetrypostgres "smartbuilding-advisor/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("dotenv load error: %v", err)
	}
	env := loadEnv()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("pipeline config error: %v", err)
	}

	db, err := sql.Open("pgx", env.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)

	readings := telemetrypostgres.NewReadingQuery(db)
	fallbackTariff, err := tariff.New(cfg.Tariff.LowStart, cfg.Tariff.LowEnd, cfg.Tariff.LowPrice, cfg.Tariff.HighPrice, cfg.Tariff.SundayAllDayLow, cfg.Tariff.Currency)
	if err != nil {
		logger.Fatalf("tariff config error: %v", err)
	}
	tariffs := tariffpostgres.NewSource(db, fallbackTariff)
	clusters := optimizerpostgres.NewClusterSource(db)
	models := forecastpostgres.NewModelRegistry(db)

	cursors, err := anchor.NewService(anchorpostgres.NewStore(db), readings)
	if err != nil {
		logger.Fatalf("anchor service init error: %v", err)
	}
	store, err := pipelinepostgres.NewStore(db)
	if err != nil {
		logger.Fatalf("pipeline store init error: %v", err)
	}

	monitor, err := monitoringapp.NewDataMonitor(readings, tariffs, store, cfg, logger)
	if err != nil {
		logger.Fatalf("data monitor init error: %v", err)
	}
	predictor, err := forecastapp.NewPredictor(readings, models, store, cfg.Forecast, logger)
	if err != nil {
		logger.Fatalf("predictor init error: %v", err)
	}
	optimizer, err := optimizerapp.NewOptimizer(tariffs, clusters, store, cfg, logger)
	if err != nil {
		logger.Fatalf("optimizer init error: %v", err)
	}
	decide, err := decisionapp.NewStage(store, store, cfg, logger)
	if err != nil {
		logger.Fatalf("decision stage init error: %v", err)
	}
	stages := []pipelineapp.NamedStage{
		{Name: "monitor", Stage: monitor},
		{Name: "predict", Stage: predictor},
		{Name: "optimize", Stage: optimizer},
		{Name: "decide", Stage: decide},
	}

	runnerOpts := []pipelineapp.RunnerOption{pipelineapp.WithPublicBaseURL(env.PublicBaseURL)}
	if urls := splitCSV(cfg.WebhookURL); len(urls) > 0 {
		tpl, err := notify.NewTemplate(env.NotifyTemplate)
		if err != nil {
			logger.Fatalf("notify template error: %v", err)
		}
		notifiers := make([]notify.Notifier, 0, len(urls))
		for _, url := range urls {
			notifiers = append(notifiers, notify.NewWebhookNotifier(url, notify.WithTemplate(tpl), notify.WithTimeout(env.NotifyTimeout)))
		}
		runnerOpts = append(runnerOpts, pipelineapp.WithNotifier(notify.NewMultiNotifier(notifiers...)))
	}
	if brokers := splitCSV(env.KafkaBrokers); len(brokers) > 0 {
		writer, err := pipelinekafka.NewWriter(brokers, env.AdvisoryTopic)
		if err != nil {
			logger.Fatalf("kafka writer init error: %v", err)
		}
		publisher, err := pipelinekafka.NewPublisher(writer)
		if err != nil {
			logger.Fatalf("kafka publisher init error: %v", err)
		}
		defer publisher.Close()
		runnerOpts = append(runnerOpts, pipelineapp.WithPublisher(publisher))
		logger.Printf("advisory stream enabled topic=%s brokers=%d", env.AdvisoryTopic, len(brokers))
	}

	runner, err := pipelineapp.NewRunner(cursors, store, stages, cfg, logger, runnerOpts...)
	if err != nil {
		logger.Fatalf("pipeline runner init error: %v", err)
	}

	weeklyAnalyzer, err := monitoringapp.NewWeeklyAnalyzer(readings, tariffs, store, cfg, logger)
	if err != nil {
		logger.Fatalf("weekly analyzer init error: %v", err)
	}
	weekly, err := pipelineapp.NewWeeklyReport(cursors, weeklyAnalyzer, cfg.Pipeline)
	if err != nil {
		logger.Fatalf("weekly report init error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if len(cfg.Schedule.Buildings) > 0 {
		scheduler := pipelineapp.NewScheduler(runner, cfg.Schedule.Buildings, cfg.Schedule.DailyAt, logger)
		go scheduler.Start(ctx)
		logger.Printf("pipeline scheduler started daily_at=%s buildings=%d", cfg.Schedule.DailyAt, len(cfg.Schedule.Buildings))
	}

	auditRepo := audit.NewRepository(db)
	pipelineHandler, err := pipelinehttp.NewHandler(runner, weekly, cursors, store, auditRepo, cfg.Pipeline, cfg.Schedule.Buildings)
	if err != nil {
		logger.Fatalf("pipeline handler init error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/metrics", "/healthz"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(env.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/pipeline/", pipelineHandler)
	mux.Handle("/api/v1/anomalies", pipelineHandler)
	mux.Handle("/api/v1/decisions", pipelineHandler)
	mux.Handle("/api/v1/decisions/", pipelineHandler)
	mux.Handle("/api/v1/validation-reports", pipelineHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:        env.HTTPAddr,
		Handler:     loggingMiddleware(authMiddleware.Wrap(mux), logger),
		ReadTimeout: env.ReadTimeout,
	}
	logger.Printf("http listening on %s pipeline=%s config_version=%s", env.HTTPAddr, cfg.Pipeline, cfg.Version)
	logger.Fatal(server.ListenAndServe())
}

type envConfig struct {
	DatabaseURL    string
	HTTPAddr       string
	JWTSecret      string
	PublicBaseURL  string
	KafkaBrokers   string
	AdvisoryTopic  string
	ReadTimeout    time.Duration
	NotifyTemplate string
	NotifyTimeout  time.Duration
}

func loadEnv() envConfig {
	cfg := envConfig{
		DatabaseURL:    getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:      getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		PublicBaseURL:  getenvDefault("PUBLIC_BASE_URL", ""),
		KafkaBrokers:   getenvDefault("KAFKA_BROKERS", ""),
		AdvisoryTopic:  getenvDefault("ADVISORY_TOPIC", "building-advisories"),
		ReadTimeout:    time.Duration(getenvIntDefault("HTTP_READ_TIMEOUT_SECONDS", 30)) * time.Second,
		NotifyTemplate: getenvDefault("PIPELINE_NOTIFY_TEMPLATE", ""),
		NotifyTimeout:  getenvDuration("PIPELINE_NOTIFY_TIMEOUT", 10*time.Second),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
