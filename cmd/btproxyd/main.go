// btproxyd CLI
//
// btproxyd exposes a local Bluetooth Low Energy adapter over the ESPHome
// native API, so Home Assistant's bluetooth_proxy integration can scan
// and connect through it as if it were an ESPHome device.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/btproxy/btproxyd/pkg/apiserver"
	"github.com/btproxy/btproxyd/pkg/ble"
	"github.com/btproxy/btproxyd/pkg/config"
	"github.com/btproxy/btproxyd/pkg/logger"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "btproxyd",
		Short: "btproxyd - ESPHome-compatible Bluetooth Low Energy proxy",
		Long: `btproxyd exposes a host Bluetooth adapter over the ESPHome native
API wire protocol, letting Home Assistant's bluetooth_proxy integration
scan and connect through it as if it were a real ESPHome device.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ./btproxyd.yaml)")

	rootCmd.AddCommand(newServeCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("btproxyd %s\n", version)
			fmt.Printf("  Commit: %s\n", gitCommit)
			fmt.Printf("  Built:  %s\n", buildTime)
		},
	}
}

func runServe() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	logger.SetGlobal(log)

	backend := ble.NewTinygoBackend(log)

	identity, err := ble.DiscoverIdentity(backend, cfg.Device.Name, cfg.Device.FriendlyName, cfg.Server.Password, cfg.Server.ActiveConnectionsEnabled, buildTime)
	if err != nil {
		return fmt.Errorf("discover BLE identity: %w", err)
	}
	log.Info("discovered BLE adapter identity", "mac", identity.MACAddress, "active_connections", identity.ActiveConnections)

	coord := ble.NewCoordinator(log, backend, cfg.Server.MaxConnections, cfg.Server.ActiveConnectionsEnabled)
	server := apiserver.New(log, coord, identity, cfg.Server.Password)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = newMetricsServer(cfg.Metrics.BindAddress)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", "error", err)
			}
		}()
		log.Info("metrics server listening", "address", cfg.Metrics.BindAddress)
	}

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- server.Serve(ctx, cfg.Server.BindAddress)
	}()

	select {
	case <-sigCh:
		log.Info("received shutdown signal")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("api server stopped unexpectedly", "error", err)
		}
	}

	cancel()
	server.Shutdown(cfg.Server.ShutdownTimeout)

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	log.Info("btproxyd stopped")
	return nil
}

func newMetricsServer(addr string) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: r}
}
