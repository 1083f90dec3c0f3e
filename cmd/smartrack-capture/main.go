package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
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
	tokenFile := flag.String("token-file", strings.TrimSpace(os.Getenv("SMARTRACK_TOKEN_FILE")), "auth token file path")
	hubURL := flag.String("hub-url", envOrDefault("SMARTRACK_HUB_URL", "ws://127.0.0.1:8765/ws"), "broadcast hub URL")
	title := flag.String("title", "", "link title")
	description := flag.String("description", "", "link description")
	category := flag.String("category", "", "link category")
	tags := flag.String("tags", "", "comma-separated tags")
	contentType := flag.String("type", "", "content type (webpage, pdf, article, video, image, document)")
	timeout := flag.Duration("timeout", durationEnv("SMARTRACK_CAPTURE_TIMEOUT", 10*time.Second), "save attempt timeout")
	debug := flag.Bool("debug", os.Getenv("SMARTRACK_DEBUG") != "", "enable debug logging")
	flag.Parse()

	log := newLogger(*debug)

	rawURL := strings.TrimSpace(flag.Arg(0))
	if rawURL == "" {
		fmt.Fprintln(os.Stderr, "usage: smartrack-capture [flags] <url>")
		os.Exit(2)
	}
	// Absolute so the derived file:// DSN carries no relative first segment
	// and both binaries resolve the same queue file.
	absDir, err := filepath.Abs(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *dataDir).Msg("cannot resolve data directory")
	}
	*dataDir = absDir
	if *tokenFile == "" {
		*tokenFile = filepath.Join(*dataDir, "token.json")
	}
	if *queueDSN == "" {
		*queueDSN = "file://" + filepath.Join(*dataDir, "pending-queue.json")
	}

	payload := smartrack.SavePayload{
		URL:         rawURL,
		Title:       strings.TrimSpace(*title),
		Description: strings.TrimSpace(*description),
		Category:    strings.TrimSpace(*category),
		Tags:        splitTags(*tags),
		ContentType: smartrack.ParseContentType(*contentType),
		Source:      "cli",
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	tokens, err := smartrack.NewTokenStore(*tokenFile)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open token store")
	}
	token := tokens.Token()
	if token == "" {
		// Another context may hold a live session; ask over the broadcast
		// channel before giving up on a direct save.
		if fetched := requestToken(ctx, *hubURL, log); fetched != "" {
			token = fetched
			if err := tokens.SetToken(fetched); err != nil {
				log.Warn().Err(err).Msg("cannot persist fetched token")
			}
		}
	}

	if token != "" {
		client := linksync.NewHTTPClient(*baseURL, func(ctx context.Context) (string, error) {
			return token, nil
		}, nil)
		link, err := client.SaveLink(ctx, payload)
		if err == nil {
			log.Info().Str("id", link.ID).Str("url", link.URL).Msg("link saved")
			announceSave(*hubURL, link, log)
			return
		}
		log.Warn().Err(err).Msg("direct save failed, queueing for retry")
	} else {
		log.Debug().Msg("no credential available, queueing for retry")
	}

	if err := enqueue(*queueDSN, payload, log); err != nil {
		log.Fatal().Err(err).Str("url", rawURL).Msg("cannot queue pending save")
	}
	log.Info().Str("url", rawURL).Msg("link queued for background save")
}

func enqueue(dsn string, payload smartrack.SavePayload, log zerolog.Logger) error {
	queue, err := smartrack.BuildPendingQueueFromDSN(dsn, smartrack.DefaultQueueCapacity, log)
	if err != nil {
		return err
	}
	defer queue.Close()
	return queue.Enqueue(smartrack.PendingSave{
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	})
}

func requestToken(ctx context.Context, hubURL string, log zerolog.Logger) string {
	client := broadcast.NewClient(hubURL, broadcast.NewDispatcher(), log)
	if err := client.Connect(ctx); err != nil {
		log.Debug().Err(err).Msg("broadcast hub unreachable")
		return ""
	}
	defer client.Close()
	go client.Listen(ctx)

	token, err := client.RequestAuthToken(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("no peer offered a token")
		return ""
	}
	return token
}

func announceSave(hubURL string, link smartrack.Link, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client := broadcast.NewClient(hubURL, broadcast.NewDispatcher(), log)
	if err := client.Connect(ctx); err != nil {
		return
	}
	defer client.Close()
	if err := client.Publish(ctx, broadcast.Message{Type: broadcast.KindUpsertLink, Link: &link}); err != nil {
		log.Debug().Err(err).Msg("upsert announcement failed")
	}
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
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
