// Package main provides the entry point for the semcache daemon.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/thebtf/semcache/internal/cache"
	"github.com/thebtf/semcache/internal/config"
	"github.com/thebtf/semcache/internal/embedding"
)

var Version = "dev"

// main wires up the cache engine and serves newline-delimited JSON
// requests on stdin, writing one response line per request to stdout.
// Routing/transport (HTTP, gRPC, ...) is an embedding front-end's
// concern, not this binary's.
func main() {
	listModels := flag.Bool("list-models", false, "print registered embedding models as YAML and exit")
	flag.Parse()

	if *listModels {
		printModels()
		return
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().Str("version", Version).Msg("starting semcache")

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare config directory")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := cache.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open cache")
	}

	done := make(chan struct{})
	go serve(ctx, c, done)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("received shutdown signal")
	case <-done:
		log.Info().Msg("input stream closed")
	}

	cancel()

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	case <-time.After(30 * time.Second):
		log.Error().Msg("shutdown timed out")
	}

	log.Info().Msg("semcache shutdown complete")
}

// printModels dumps the default embedding model registry as YAML, for
// operators choosing a SEMCACHE_EMBEDDING_PROVIDER value.
func printModels() {
	data, err := yaml.Marshal(embedding.ListModels())
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal models:", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

// serve reads one JSON request per line from stdin and writes one JSON
// response per line to stdout, closing done when the input stream ends.
func serve(ctx context.Context, c *cache.Cache, done chan<- struct{}) {
	defer close(done)

	reader := bufio.NewScanner(os.Stdin)
	reader.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for reader.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := c.Handle(ctx, line)
		writer.Write(resp)
		writer.WriteByte('\n')
		writer.Flush()
	}

	if err := reader.Err(); err != nil {
		log.Error().Err(err).Msg("stdin read error")
	}
}
