// cmd/server/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/gridcache/internal/protocol"
	"github.com/DeltaLaboratory/gridcache/internal/server"
	"github.com/DeltaLaboratory/gridcache/internal/storage"
	alog "github.com/lesismal/arpc/log"
)

type Config struct {
	NodeID     string
	ServerAddr string
	DataDir    string
	Peers      []protocol.NodeInfo
}

// SetLevel(lvl int)
// Debug(format string, v ...interface{})
// Info(format string, v ...interface{})
// Warn(format string, v ...interface{})
// Error(format string, v ...interface{})
type ALogAdapter struct {
	logger zerolog.Logger
}

func (a *ALogAdapter) SetLevel(level int) {
	switch level {
	case alog.LevelDebug:
		a.logger = a.logger.Level(zerolog.DebugLevel)
	case alog.LevelInfo:
		a.logger = a.logger.Level(zerolog.InfoLevel)
	case alog.LevelWarn:
		a.logger = a.logger.Level(zerolog.WarnLevel)
	case alog.LevelError:
		a.logger = a.logger.Level(zerolog.ErrorLevel)
	}
}

func (a *ALogAdapter) Debug(format string, v ...interface{}) {
	a.logger.Debug().Msgf(format, v...)
}

func (a *ALogAdapter) Info(format string, v ...interface{}) {
	a.logger.Info().Msgf(format, v...)
}

func (a *ALogAdapter) Warn(format string, v ...interface{}) {
	a.logger.Warn().Msgf(format, v...)
}

func (a *ALogAdapter) Error(format string, v ...interface{}) {
	a.logger.Error().Msgf(format, v...)
}

func main() {
	logger := zerolog.New(zerolog.NewConsoleWriter()).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	alog.DefaultLogger = &ALogAdapter{logger: logger}

	cfg := parseFlags()

	logger.Info().
		Str("node_id", cfg.NodeID).
		Str("server_addr", cfg.ServerAddr).
		Str("data_dir", cfg.DataDir).
		Int("peers", len(cfg.Peers)).
		Msg("Starting grid node")

	store, err := openStore(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open store")
	}

	srv, err := server.New(server.Options{
		NodeID:  cfg.NodeID,
		Address: cfg.ServerAddr,
		Peers:   cfg.Peers,
		Store:   store,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, os.Interrupt, syscall.SIGTERM)
	<-terminate

	// Graceful shutdown
	logger.Info().Msg("Shutting down grid node")
	if err := srv.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop server")
	}
}

// openStore returns a pebble-backed store when a data directory is set and
// an in-memory store otherwise.
func openStore(dataDir string, logger zerolog.Logger) (storage.Store, error) {
	if dataDir == "" {
		return storage.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %v", dataDir, err)
	}
	return storage.NewPebbleStore(dataDir, logger)
}

func parseFlags() *Config {
	cfg := &Config{}
	var peers string

	flag.StringVar(&cfg.NodeID, "id", "", "Node ID (required)")
	flag.StringVar(&cfg.ServerAddr, "server-addr", "localhost:8000", "Server TCP address")
	flag.StringVar(&cfg.DataDir, "data-dir", "", "Directory to store data (empty for in-memory)")
	flag.StringVar(&peers, "peers", "", "Peer nodes as id=addr,id=addr")

	flag.Parse()

	if cfg.NodeID == "" {
		log.Fatal("Node ID is required")
	}

	parsed, err := parsePeers(peers)
	if err != nil {
		log.Fatal(err)
	}
	cfg.Peers = parsed

	return cfg
}

func parsePeers(peers string) ([]protocol.NodeInfo, error) {
	if peers == "" {
		return nil, nil
	}

	var nodes []protocol.NodeInfo
	for _, entry := range strings.Split(peers, ",") {
		id, addr, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer entry %q, want id=addr", entry)
		}
		nodes = append(nodes, protocol.NodeInfo{ID: id, Address: addr})
	}
	return nodes, nil
}
