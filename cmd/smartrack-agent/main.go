package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"

	"github.com/chiampee/SmarTrack-sub004/internal/broadcast"
	"github.com/chiampee/SmarTrack-sub004/internal/linksync"
	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

func main() {
	baseURL := flag.String("base-url", envOrDefault("SMARTRACK_BASE_URL", "http://127.0.0.1:8080"), "SmarTrack API base URL")
	dataDir := flag.String("data-dir", envOrDefault("SMARTRACK_DATA_DIR", ".smartrack"), "local data directory")
	queueDSN := flag.String("queue-dsn", strings.TrimSpace(os.Getenv("SMARTRACK_QUEUE_DSN")), "pending queue DSN (file://, memory://, postgres://)")
	cacheDSN := flag.String("cache-dsn", strings.TrimSpace(os.Getenv("SMARTRACK_CACHE_DSN")), "snapshot cache DSN (file://, memory://, badger://)")
	cacheUser := flag.String("cache-user", envOrDefault("SMARTRACK_CACHE_USER", "local"), "snapshot cache key for the delivered-links mirror")
	queueCapacity := flag.Int("queue-capacity", intEnv("SMARTRACK_QUEUE_CAPACITY", smartrack.DefaultQueueCapacity), "pending queue capacity")
	interval := flag.Duration("interval", durationEnv("SMARTRACK_RETRY_INTERVAL", linksync.DefaultRetryInterval), "retry cycle interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv("SMARTRACK_RETRY_JITTER", 0.2), "retry interval jitter ratio (0.0-1.0)")
	hubAddr := flag.String("hub-addr", envOrDefault("SMARTRACK_HUB_ADDR", "127.0.0.1:8765"), "broadcast hub listen address")
	tokenFile := flag.String("token-file", strings.TrimSpace(os.Getenv("SMARTRACK_TOKEN_FILE")), "auth token file path")
	debug := flag.Bool("debug", os.Getenv("SMARTRACK_DEBUG") != "", "enable debug logging")
	once := flag.Bool("once", false, "run one queue cycle and exit")
	flag.Parse()

	log := newLogger(*debug)

	// Absolute so the derived file:// DSNs carry no relative first segment.
	absDir, err := filepath.Abs(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dataDir).Msg("cannot resolve data directory")
	}
	*dataDir = absDir
	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", *dataDir).Msg("cannot create data directory")
	}
	if *tokenFile == "" {
		*tokenFile = filepath.Join(*dataDir, "token.json")
	}
	if *queueDSN == "" {
		*queueDSN = "file://" + filepath.Join(*dataDir, "pending-queue.json")
	}
	if *cacheDSN == "" {
		*cacheDSN = "file://" + filepath.Join(*dataDir, "snapshot.json")
	}

	tokens, err := smartrack.NewTokenStore(*tokenFile)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open token store")
	}
	queue, err := smartrack.BuildPendingQueueFromDSN(*queueDSN, *queueCapacity, log)
	if err != nil {
		log.Fatal().Err(err).Str("dsn", *queueDSN).Msg("cannot initialize pending queue")
	}
	defer queue.Close()
	cache, err := smartrack.BuildSnapshotCacheFromDSN(*cacheDSN, log)
	if err != nil {
		log.Fatal().Err(err).Str("dsn", *cacheDSN).Msg("cannot initialize snapshot cache")
	}
	if cache != nil {
		defer cache.Close()
	}

	client := linksync.NewHTTPClient(*baseURL, func(ctx context.Context) (string, error) {
		return tokens.Token(), nil
	}, nil)
	proc, err := linksync.NewProcessor(queue, client, tokens, log)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot initialize queue processor")
	}

	hub := broadcast.NewHub(tokens, log)
	proc.OnSaved(func(ctx context.Context, link smartrack.Link) {
		hub.PublishUpsert(ctx, link)
		if cache != nil {
			mirrorLink(cache, *cacheUser, link, log)
		}
	})

	// Watch the same file the queue writes, not a naive prefix strip.
	queueFile, _ := smartrack.QueueFilePath(*queueDSN)
	scheduler, err := linksync.NewScheduler(proc, linksync.SchedulerOptions{
		Interval:  *interval,
		Jitter:    *intervalJitter,
		QueueFile: queueFile,
		OnCycle:   hub.FlushPending,
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("cannot initialize scheduler")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		ctx, cancel := context.WithTimeout(rootCtx, time.Minute)
		defer cancel()
		summary := proc.RunOnce(ctx)
		log.Info().Int("attempted", summary.Attempted).Int("succeeded", summary.Succeeded).Int("remaining", summary.Remaining).Msg("cycle complete")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	server := &http.Server{Addr: *hubAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", *hubAddr).Msg("broadcast hub listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("broadcast hub failed")
		}
	}()

	log.Info().Str("queue", *queueDSN).Dur("interval", *interval).Msg("smartrack agent started")
	err = scheduler.Run(rootCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("scheduler stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("broadcast hub shutdown failed")
	}
}

// mirrorLink upserts a delivered save into the cached links snapshot, the
// persisted mirror dashboards paint from before their first live fetch.
func mirrorLink(cache smartrack.SnapshotCache, userID string, link smartrack.Link, log zerolog.Logger) {
	links, _, err := cache.Links(userID)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot cache read failed")
		return
	}
	replaced := false
	for i := range links {
		if links[i].ID == link.ID {
			links[i] = link
			replaced = true
			break
		}
	}
	if !replaced {
		links = append([]smartrack.Link{link}, links...)
	}
	if err := cache.SaveLinks(userID, links); err != nil {
		log.Warn().Err(err).Msg("snapshot cache write failed")
	}
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
