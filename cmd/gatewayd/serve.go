package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/gatewayd/pkg/adminapi"
	"github.com/cuemby/gatewayd/pkg/driver"
	"github.com/cuemby/gatewayd/pkg/log"
	"github.com/cuemby/gatewayd/pkg/metrics"
	"github.com/cuemby/gatewayd/pkg/proxy"
	"github.com/cuemby/gatewayd/pkg/router"
	"github.com/cuemby/gatewayd/pkg/storage"
	"github.com/cuemby/gatewayd/pkg/tlsfront"
	"github.com/cuemby/gatewayd/pkg/worker"
	"github.com/spf13/cobra"
)

const acmeRenewalSweep = 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway: admin API, proxy, and lifecycle worker",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("control-addr", "127.0.0.1:7700", "Admin HTTP listener address")
	serveCmd.Flags().String("user-addr", ":8443", "User-facing proxy listener address")
	serveCmd.Flags().String("bouncer-addr", ":8080", "HTTP-to-HTTPS redirect listener address")
	serveCmd.Flags().Bool("use-tls", true, "Terminate TLS on the user-facing listener via ACME")
	serveCmd.Flags().String("acme-email", "", "Contact email for the ACME account")
	serveCmd.Flags().String("acme-directory-url", "", "ACME directory URL override (empty uses Let's Encrypt production)")
	serveCmd.Flags().String("proxy-fqdn", "apps.example.com", "Apex FQDN for <project>.<apex> resolution")
	serveCmd.Flags().String("image", "", "Default runtime image for new project containers")
	serveCmd.Flags().String("network-name", "gatewayd", "Container network new projects attach to")
	serveCmd.Flags().String("prefix", "gwd", "Prefix prepended to container names")
	serveCmd.Flags().String("provisioner-host", "", "Hostname of the DB-provisioner service injected into new containers")
}

func runServe(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	dockerHost, _ := cmd.Flags().GetString("docker-host")
	controlAddr, _ := cmd.Flags().GetString("control-addr")
	userAddr, _ := cmd.Flags().GetString("user-addr")
	bouncerAddr, _ := cmd.Flags().GetString("bouncer-addr")
	useTLS, _ := cmd.Flags().GetBool("use-tls")
	acmeEmail, _ := cmd.Flags().GetString("acme-email")
	acmeDirectoryURL, _ := cmd.Flags().GetString("acme-directory-url")
	proxyFQDN, _ := cmd.Flags().GetString("proxy-fqdn")

	defaults := adminapi.ProjectDefaults{}
	defaults.Image, _ = cmd.Flags().GetString("image")
	defaults.NetworkName, _ = cmd.Flags().GetString("network-name")
	defaults.Prefix, _ = cmd.Flags().GetString("prefix")
	defaults.ProvisionerHost, _ = cmd.Flags().GetString("provisioner-host")

	logger := log.WithComponent("serve")

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "open")

	drv, err := driver.NewDockerDriver(dockerHost)
	if err != nil {
		metrics.RegisterComponent("driver", false, err.Error())
		return fmt.Errorf("create docker driver: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	pingErr := drv.Ping(pingCtx)
	cancel()
	if pingErr != nil {
		metrics.RegisterComponent("driver", false, pingErr.Error())
		logger.Warn().Err(pingErr).Msg("docker daemon unreachable at startup, continuing anyway")
	} else {
		metrics.RegisterComponent("driver", true, "connected")
	}

	w := worker.New(store, drv, worker.Config{})
	w.Start()
	defer w.Stop()
	metrics.RegisterComponent("worker", true, "running")

	r := router.New(store, proxyFQDN)

	var front *tlsfront.Front
	var challenge *tlsfront.HTTP01Provider
	if useTLS {
		front, challenge, err = tlsfront.New(store, tlsfront.Config{
			ApexFQDN:     proxyFQDN,
			Email:        acmeEmail,
			DirectoryURL: acmeDirectoryURL,
		})
		if err != nil {
			return fmt.Errorf("initialize ACME front: %w", err)
		}
		if err := front.IssueApex(); err != nil {
			logger.Warn().Err(err).Msg("initial apex certificate issuance failed, will retry on renewal sweep")
		}
	}

	p := proxy.New(store, r, w, challenge)

	adminSrv := adminapi.New(store, w, w.Events(), defaults)

	errCh := make(chan error, 4)

	controlMux := http.NewServeMux()
	controlMux.Handle("/metrics", metrics.Handler())
	controlMux.HandleFunc("/healthz", metrics.HealthHandler())
	controlMux.HandleFunc("/readyz", metrics.ReadyHandler())
	controlMux.HandleFunc("/livez", metrics.LivenessHandler())
	controlMux.Handle("/", adminSrv)

	controlServer := &http.Server{
		Addr:         controlAddr,
		Handler:      controlMux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", controlAddr).Msg("admin listener starting")
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin listener: %w", err)
		}
	}()

	userServer := &http.Server{
		Addr:         userAddr,
		Handler:      p,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streamed proxy responses must not be cut off
		IdleTimeout:  120 * time.Second,
	}

	var bouncerServer *http.Server
	if useTLS {
		userServer.TLSConfig = &tls.Config{GetCertificate: front.GetCertificate}

		listener, err := net.Listen("tcp", userAddr)
		if err != nil {
			return fmt.Errorf("listen on user-addr: %w", err)
		}
		go func() {
			logger.Info().Str("addr", userAddr).Msg("user HTTPS listener starting")
			if err := userServer.ServeTLS(listener, "", ""); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("user listener: %w", err)
			}
		}()

		bouncerServer = &http.Server{
			Addr:         bouncerAddr,
			Handler:      http.HandlerFunc(redirectToHTTPS),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", bouncerAddr).Msg("bouncer listener starting")
			if err := bouncerServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("bouncer listener: %w", err)
			}
		}()
	} else {
		go func() {
			logger.Info().Str("addr", userAddr).Msg("user HTTP listener starting")
			if err := userServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("user listener: %w", err)
			}
		}()
	}

	renewalStop := make(chan struct{})
	if useTLS {
		go runRenewalSweep(front, renewalStop)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("listener error, shutting down")
	}

	close(renewalStop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = controlServer.Shutdown(shutdownCtx)
	_ = userServer.Shutdown(shutdownCtx)
	if bouncerServer != nil {
		_ = bouncerServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// redirectToHTTPS serves the bouncer listener: every request is redirected
// to the same host and path over HTTPS.
func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

func runRenewalSweep(front *tlsfront.Front, stop <-chan struct{}) {
	ticker := time.NewTicker(acmeRenewalSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			front.RenewDue()
		case <-stop:
			return
		}
	}
}
