package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"iati-import-service/cmd/importer/config"
	"iati-import-service/internal/batch"
	"iati-import-service/internal/parseapi"
	"iati-import-service/internal/registry"
	"iati-import-service/internal/server"
	"iati-import-service/internal/store"
	"iati-import-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listenAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the import wizard HTTP API",
	Long: `Serve starts an HTTP server exposing wizard sessions. A frontend
drives the import through the session routes: load a source, preview and
filter activities, choose rules, execute the batch and download the
report.

Examples:
  importer serve
  importer serve --listen :9090 --store-path activities.db`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8080", "HTTP listen address")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := logger.NewLogger(config.CreateLoggerConfig())
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(log)
	handler := NewCLIErrorHandler()

	parseClient, err := parseapi.NewClient(config.CreateParseConfig(), log)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	registryClient, err := registry.NewClient(config.CreateRegistryConfig(), log)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}
	batchClient, err := batch.NewClient(config.CreateBatchConfig(), log)
	if err != nil {
		os.Exit(handler.HandleError(err))
	}

	var matcher server.Matcher
	if path := config.StorePath(); path != "" {
		activityStore, err := store.Open(path, log)
		if err != nil {
			os.Exit(handler.HandleError(err))
		}
		defer activityStore.Close()
		matcher = activityStore
	}

	if !viper.GetBool("verbose") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	api := server.NewAPI(parseClient, registryClient, batchClient, matcher, log)
	api.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    config.ListenAddr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("HTTP server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			os.Exit(handler.HandleError(err))
		}
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("Shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout())
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	}
	return nil
}
