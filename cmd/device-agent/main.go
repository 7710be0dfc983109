package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-device-pro/internal/api"
	"github.com/lorawan-server/lorawan-device-pro/internal/config"
	"github.com/lorawan-server/lorawan-device-pro/internal/mac"
	"github.com/lorawan-server/lorawan-device-pro/internal/radio"
	"github.com/lorawan-server/lorawan-device-pro/internal/storage"
	"github.com/lorawan-server/lorawan-device-pro/pkg/crypto"
	"github.com/lorawan-server/lorawan-device-pro/pkg/lorawan"
	"github.com/lorawan-server/lorawan-device-pro/pkg/region"
)

func main() {
	var configPath = flag.String("config", "config/device-agent.yml", "configuration file path")
	var validateOnly = flag.Bool("validate", false, "validate the configuration and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("loading configuration failed")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *validateOnly {
		fmt.Println("configuration OK")
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Str("dev_eui", cfg.Device.DevEUI).
		Str("region", cfg.Region.Name).
		Msg("device agent starting")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("device agent failed")
	}
	log.Info().Msg("device agent stopped")
}

func run(cfg *config.Config) error {
	creds, err := parseCredentials(cfg)
	if err != nil {
		return err
	}

	plan, err := region.FromName(cfg.Region.Name)
	if err != nil {
		return err
	}

	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.ReconnectWait(cfg.NATS.ReconnectInterval),
		nats.MaxReconnects(cfg.NATS.MaxReconnects))
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer nc.Close()

	r, err := radio.NewNATSRadio(nc, cfg.Device.DevEUI, log.Logger)
	if err != nil {
		return fmt.Errorf("creating radio: %w", err)
	}
	defer r.Close()

	device, err := mac.NewDevice(mac.DeviceConfig{
		Credentials:  creds,
		Plan:         plan,
		Radio:        r,
		Crypto:       crypto.NewAESCrypto(),
		JoinAttempts: cfg.Device.JoinAttempts,
		JoinBackoff:  cfg.Device.JoinBackoff,
		Logger:       log.Logger,
	})
	if err != nil {
		return err
	}

	// resume a persisted session so counters and the DevNonce never rewind
	if st, err := store.GetDeviceState(ctx, creds.DevEUI); err == nil {
		if err := device.RestoreState(*st); err != nil {
			return fmt.Errorf("restoring device state: %w", err)
		}
		log.Info().
			Str("state", device.State().String()).
			Msg("restored persisted device state")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("loading device state: %w", err)
	}

	server, err := api.NewRESTServer(cfg, store, device)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		return fmt.Errorf("API server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown failed")
	}

	// final persist covers anything the handlers did not flush
	if err := store.SaveDeviceState(shutdownCtx, creds.DevEUI, device.PersistentState()); err != nil {
		log.Error().Err(err).Msg("persisting final device state failed")
	}
	return nil
}

func parseCredentials(cfg *config.Config) (mac.Credentials, error) {
	joinEUI, err := lorawan.EUI64FromString(cfg.Device.JoinEUI)
	if err != nil {
		return mac.Credentials{}, fmt.Errorf("parsing join EUI: %w", err)
	}
	devEUI, err := lorawan.EUI64FromString(cfg.Device.DevEUI)
	if err != nil {
		return mac.Credentials{}, fmt.Errorf("parsing device EUI: %w", err)
	}
	appKey, err := lorawan.AES128KeyFromString(cfg.Device.AppKey)
	if err != nil {
		return mac.Credentials{}, fmt.Errorf("parsing application key: %w", err)
	}
	return mac.Credentials{JoinEUI: joinEUI, DevEUI: devEUI, AppKey: appKey}, nil
}
