package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"voice-form-service/internal/app"
	"voice-form-service/internal/backend/gemini"
	"voice-form-service/internal/config"
	"voice-form-service/internal/events"
	"voice-form-service/internal/form"
	apihttp "voice-form-service/internal/http"
	"voice-form-service/internal/models"
	"voice-form-service/internal/observability"
	"voice-form-service/internal/ratelimit"
	"voice-form-service/internal/speech"
	googlespeech "voice-form-service/internal/speech/google"
	"voice-form-service/internal/speech/mock"
	"voice-form-service/internal/understand"
)

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start application")
	}

	ctx := context.Background()

	publisher := events.New(&events.Config{
		Enabled:             cfg.Kafka.Enabled,
		Brokers:             cfg.Kafka.Brokers,
		TopicTranscripts:    cfg.Kafka.TopicTranscripts,
		TopicUnderstandings: cfg.Kafka.TopicUnderstandings,
		TopicSubmissions:    cfg.Kafka.TopicSubmissions,
		Principal:           cfg.Kafka.Principal,
	})
	defer publisher.Close()

	// A missing key disables AI cleanly; the deterministic pipeline
	// carries the service on its own.
	var analyzer understand.Analyzer
	if cfg.AI.Enabled && cfg.AI.APIKey != "" {
		client, err := gemini.New(ctx, gemini.Config{
			APIKey: cfg.AI.APIKey,
			Model:  cfg.AI.Model,
		})
		if err != nil {
			application.Logger.Warn().Err(err).Msg("Gemini client unavailable, AI processing disabled")
		} else {
			analyzer = client
			defer client.Close()
		}
	}

	understanding := understand.New(understand.Config{
		Analyzer:       analyzer,
		Limiter:        ratelimit.New(),
		AIEnabled:      cfg.AI.Enabled,
		AnalyzeTimeout: cfg.AI.AnalyzeTimeout,
		ProbeTimeout:   cfg.AI.ProbeTimeout,
	})

	formController := form.New(application.Logger, nil)

	newRecognizer := func() speech.Recognizer {
		if cfg.Recognizer.Provider == "google" {
			r, err := googlespeech.New(ctx, googlespeech.Config{
				LanguageCode:   cfg.Recognizer.LanguageCode,
				SampleRateHz:   int32(cfg.Recognizer.SampleRateHz),
				InterimResults: cfg.Recognizer.InterimResults,
			})
			if err == nil {
				return r
			}
			application.Logger.Warn().Err(err).Msg("Google recognizer unavailable, falling back to mock")
		}
		return mock.New()
	}

	manager := speech.NewManager(func(id string) *speech.Session {
		return speech.NewSession(id, speech.Config{
			Recognizer:   newRecognizer(),
			Understander: understanding,
			WakeWord:     cfg.Session.WakeWord,
			RestartDelay: cfg.Session.RestartDelay,
			Sink: func(u models.Understanding) {
				res := formController.Apply(u)
				if err := publisher.PublishUnderstanding(ctx, id, u, false); err != nil {
					application.Logger.Warn().Err(err).Msg("Failed to publish understanding")
				}
				if res.Record != nil {
					if err := publisher.PublishSubmission(ctx, id, *res.Record); err != nil {
						application.Logger.Warn().Err(err).Msg("Failed to publish submission")
					}
				}
			},
			OnError: func(err error) {
				application.Logger.Warn().Err(err).Str("sessionId", id).Msg("Recognition error")
			},
		})
	})
	defer manager.CloseAll()

	obsServer := observability.NewServer(":" + cfg.Service.MetricsPort)
	obsServer.Start()

	router := apihttp.NewRouter(&apihttp.Handler{
		Sessions:   manager,
		Form:       formController,
		Understand: understanding,
		Publisher:  publisher,
		Log:        application.Logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Service.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		application.Logger.Info().Str("addr", server.Addr).Msg("Voice form service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	application.Logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		application.Logger.Error().Err(err).Msg("HTTP shutdown error")
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		application.Logger.Error().Err(err).Msg("Observability shutdown error")
	}
	application.Shutdown()
}
