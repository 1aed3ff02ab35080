package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/quiz-archive-worker/internal/archiver"
	"github.com/bobmcallan/quiz-archive-worker/internal/browser"
	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
	"github.com/bobmcallan/quiz-archive-worker/internal/moodle"
	"github.com/bobmcallan/quiz-archive-worker/internal/pdfproc"
	"github.com/bobmcallan/quiz-archive-worker/internal/server"
)

func main() {
	common.LoadVersionFromFile()

	var configPath string

	rootCmd := &cobra.Command{
		Use:           common.AppName,
		Short:         "Archive worker service for Moodle quiz attempts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to TOML config file (also reads QUIZ_ARCHIVER_CONFIG env)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(common.GetFullVersion())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runServe wires up all components and runs the worker until interrupted.
func runServe(configPath string) error {
	if configPath == "" {
		configPath = os.Getenv("QUIZ_ARCHIVER_CONFIG")
	}

	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := common.NewLogger(cfg.Logging.Level)
	common.PrintBanner(cfg, logger)
	logger.Debug().Msg(cfg.Dump())

	if cfg.DemoMode {
		logger.Warn().Msg("Demo mode is enabled. Generated artifacts are watermarked and must not be used in production.")
	}

	proxy, err := common.DetectProxy(&cfg.Proxy)
	if err != nil {
		return fmt.Errorf("failed to resolve proxy configuration: %w", err)
	}
	if proxy != nil && proxy.URL != nil {
		logger.Info().Str("proxy", proxy.URL.Redacted()).Msg("Routing outbound traffic through proxy")
	}

	// All host API traffic shares one transport so proxy and TLS settings
	// apply uniformly.
	httpClient := &http.Client{
		Transport: common.NewHTTPTransport(&cfg.Proxy, proxy),
	}

	quizArchiverFactory := interfaces.HostAPIFactory(
		func(conn models.HostConnection, target models.ArchiveTarget) (interfaces.HostAPI, error) {
			return moodle.NewQuizArchiver(conn, target,
				moodle.WithLogger(logger),
				moodle.WithHTTPClient(httpClient),
			)
		})
	archivingmodFactory := interfaces.HostAPIFactory(
		func(conn models.HostConnection, target models.ArchiveTarget) (interfaces.HostAPI, error) {
			return moodle.NewArchivingmod(conn, target,
				moodle.WithLogger(logger),
				moodle.WithHTTPClient(httpClient),
			)
		})

	renderer := browser.NewRenderer(
		browser.WithLogger(logger),
		browser.WithProxy(proxy),
	)
	postproc := pdfproc.NewProcessor(logger)

	scheduler := archiver.NewScheduler(cfg, logger, renderer, postproc)
	scheduler.Start()

	srv := server.NewServer(cfg, logger, scheduler, quizArchiverFactory, archivingmodFactory)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	scheduler.Stop()
	common.PrintShutdownBanner(logger)
	return nil
}
