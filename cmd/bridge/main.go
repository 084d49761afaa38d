package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/openbms/devicebus/internal/constants"
	"github.com/openbms/devicebus/internal/hub"
	"github.com/openbms/devicebus/internal/metrics"
	"github.com/openbms/devicebus/internal/services"
	"github.com/openbms/devicebus/internal/state"
	"github.com/openbms/devicebus/internal/store"
	"github.com/openbms/devicebus/internal/transport"
	"github.com/openbms/devicebus/internal/utils"
	"github.com/openbms/devicebus/pkg/file"
)

func main() {
	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	configPath := flag.String("config", "configs/bridge.yaml", "path to the bridge configuration file")
	flag.Parse()

	// Load configuration from file
	fileClient := file.NewFileService()
	config, err := utils.LoadBridgeConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(config.Log.Level)
	if err != nil {
		logger.Fatal().Err(err).Str("level", config.Log.Level).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	secret, err := fileClient.ReadFileRaw(config.Server.JWTSecretFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to read JWT secret")
	}
	jwtSecret := bytes.TrimSpace(secret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateStore := state.NewStore(logger)

	adapter := transport.NewMQTTAdapter(transport.MQTTAdapterConfig{
		Broker:         config.MQTT.Broker,
		ClientIDPrefix: config.MQTT.ClientIDPrefix,
		Username:       config.MQTT.Username,
		Password:       config.MQTT.Password,
		CACertFile:     config.MQTT.CACertificate,
		QOS:            byte(config.MQTT.QOS),
		ConnectTimeout: config.MQTT.ConnectTimeout.Std(),
		RequestTimeout: config.MQTT.RequestTimeout.Std(),
	}, transport.DefaultClientFactory(fileClient, logger), logger)

	sessionService, err := services.NewSessionService(adapter, stateStore,
		constants.HealthCheckInterval, constants.HeartbeatStaleAfter,
		config.Session.MinFirmwareVersion, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build session service")
	}

	commandService := services.NewCommandService(adapter, sessionService, logger)

	metricsSubID, metricsStates := stateStore.Subscribe()
	defer stateStore.Unsubscribe(metricsSubID)
	go metrics.WatchState(ctx, metricsStates)

	// Optional session state mirror
	if config.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to redis")
		}

		mirror := store.NewRedisMirror(redisClient, config.Redis.TTL.Std(), logger)
		mirrorSubID, mirrorStates := stateStore.Subscribe()
		defer stateStore.Unsubscribe(mirrorSubID)
		go mirror.Run(ctx, sessionService, mirrorStates)

		logger.Info().Str("addr", config.Redis.Addr).Msg("Session state mirror enabled")
	}

	// Optional heartbeat history
	var history *store.HeartbeatHistory
	if config.History.Enabled {
		db, err := sql.Open("postgres", config.History.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open postgres connection")
		}
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to postgres")
		}

		history = store.NewHeartbeatHistory(db, logger)
		if err := history.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to prepare heartbeat history schema")
		}

		sessionService.AddHeartbeatObserver(history.Enqueue)
		go history.Run(ctx)

		logger.Info().Msg("Heartbeat history enabled")
	}

	busHub := hub.NewHub(stateStore, logger)
	go busHub.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", busHub.ServeWS(sessionService, commandService, jwtSecret))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if history != nil {
		mux.HandleFunc("/history", handleHistory(history, sessionService, jwtSecret, logger))
	}

	server := &http.Server{
		Addr:    config.Server.ListenAddress,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", config.Server.ListenAddress).Msg("Bridge listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}

	if err := sessionService.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Session did not stop cleanly")
	}
}

// handleHistory serves recent heartbeats for the active session's
// device.
func handleHistory(history *store.HeartbeatHistory, sessions *services.SessionService, secret []byte, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := hub.TokenFromRequest(r)
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := hub.VerifyToken(token, secret); err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		identity, active := sessions.ActiveIdentity()
		if !active {
			http.Error(w, "no active session", http.StatusConflict)
			return
		}

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 1 || parsed > 1000 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		rows, err := history.RecentHeartbeats(r.Context(), identity, limit)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to query heartbeat history")
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rows); err != nil {
			logger.Warn().Err(err).Msg("Failed to write history response")
		}
	}
}
