package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kyxap1/ipmaster/internal/bgp"
	"github.com/kyxap1/ipmaster/internal/cache"
	"github.com/kyxap1/ipmaster/internal/config"
	"github.com/kyxap1/ipmaster/internal/handlers"
	"github.com/kyxap1/ipmaster/internal/ipinfo"
	"github.com/kyxap1/ipmaster/internal/menu"
	"github.com/kyxap1/ipmaster/internal/metrics"
	"github.com/kyxap1/ipmaster/internal/netif"
	"github.com/kyxap1/ipmaster/internal/ping"
	"github.com/kyxap1/ipmaster/internal/ports"
	"github.com/kyxap1/ipmaster/internal/resolver"
	"github.com/kyxap1/ipmaster/internal/routes"
	"github.com/kyxap1/ipmaster/internal/traceroute"
	"github.com/kyxap1/ipmaster/internal/watch"
)

const version = "1.0.0"

var (
	cfg    *config.Config
	logger *logrus.Logger
)

func init() {
	// Initialize logger
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Load configuration
	cfg = config.LoadConfig()

	applyLogLevel()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Fatal(err)
	}
}

// applyLogLevel sets the logger level from cfg.LogLevel
func applyLogLevel() {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, using warn", cfg.LogLevel)
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)
}

// maskToken keeps only the edges of an API token for logging
func maskToken(token string) string {
	if len(token) <= 13 {
		return token
	}
	return token[:10] + "..." + token[len(token)-3:]
}

func newRootCmd() *cobra.Command {
	var once bool

	rootCmd := &cobra.Command{
		Use:   "ipmaster",
		Short: "IP geolocation and network toolkit",
		Long: `IP_Master looks up geolocation for your public IP, any IP or a website,
and wraps traceroute, port scanning, ping, interface listing, the routing
table and BGP route lookups in one menu.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			applyLogLevel()
			logger.WithFields(logrus.Fields{
				"base_url": cfg.BaseURL,
				"token":    maskToken(cfg.APIToken),
				"cache":    cfg.CacheEnabled,
			}).Debug("Configuration loaded")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()

			m := menu.New(cmd.InOrStdin(), cmd.OutOrStdout(), a.menuDeps(), once, logger)
			return m.Run(cmd.Context())
		},
	}
	rootCmd.Flags().BoolVar(&once, "once", false, "Handle a single menu choice and exit")

	// Geolocation API flags
	rootCmd.PersistentFlags().StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "Geolocation API base URL")
	rootCmd.PersistentFlags().StringVar(&cfg.APIToken, "token", cfg.APIToken, "Geolocation API token")
	rootCmd.PersistentFlags().DurationVar(&cfg.HTTPTimeout, "timeout", cfg.HTTPTimeout, "Geolocation API request timeout")
	rootCmd.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	// Cache flags
	rootCmd.PersistentFlags().BoolVar(&cfg.CacheEnabled, "cache-enabled", cfg.CacheEnabled, "Enable lookup caching")
	rootCmd.PersistentFlags().DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Cache TTL duration")
	rootCmd.PersistentFlags().IntVar(&cfg.CacheMaxEntries, "cache-max-entries", cfg.CacheMaxEntries, "Maximum cache entries")

	// Network tool flags
	rootCmd.PersistentFlags().StringVar(&cfg.TracerouteBin, "traceroute-bin", cfg.TracerouteBin, "Traceroute executable (platform default when empty)")
	rootCmd.PersistentFlags().StringVar(&cfg.BGPAPIURL, "bgp-api-url", cfg.BGPAPIURL, "BGP API base URL used when no local routing daemon answers")
	rootCmd.PersistentFlags().IntVar(&cfg.ScanStartPort, "scan-start", cfg.ScanStartPort, "First port to scan")
	rootCmd.PersistentFlags().IntVar(&cfg.ScanEndPort, "scan-end", cfg.ScanEndPort, "Last port to scan")
	rootCmd.PersistentFlags().DurationVar(&cfg.ScanTimeout, "scan-timeout", cfg.ScanTimeout, "Per-port connect timeout")
	rootCmd.PersistentFlags().IntVar(&cfg.ScanWorkers, "scan-workers", cfg.ScanWorkers, "Concurrent port connects")
	rootCmd.PersistentFlags().IntVar(&cfg.PingCount, "ping-count", cfg.PingCount, "Echo requests per ping")
	rootCmd.PersistentFlags().BoolVar(&cfg.PingPrivileged, "ping-privileged", cfg.PingPrivileged, "Use raw ICMP sockets")
	rootCmd.PersistentFlags().DurationVar(&cfg.PingTimeout, "ping-timeout", cfg.PingTimeout, "Overall ping timeout")

	// Server flags
	rootCmd.PersistentFlags().IntVarP(&cfg.Port, "port", "p", cfg.Port, "HTTP port for serve")
	rootCmd.PersistentFlags().StringVar(&cfg.WatchSchedule, "watch-schedule", cfg.WatchSchedule, "IP change check schedule (cron format)")

	// Add subcommands
	rootCmd.AddCommand(newMyIPCmd())
	rootCmd.AddCommand(newLookupCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newWebsiteCmd())
	rootCmd.AddCommand(newTraceCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newIfacesCmd())
	rootCmd.AddCommand(newRoutesCmd())
	rootCmd.AddCommand(newBGPCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// app holds the collaborators built from cfg
type app struct {
	cache    *cache.RecordCache
	client   *ipinfo.Client
	resolver *resolver.Resolver
	tracer   *traceroute.Tracer
	scanner  *menu.LazyScanner
	pinger   *ping.Pinger
	ifaces   *netif.Lister
	routes   *routes.Table
	bgp      *bgp.Looker
}

func newApp(out, errOut io.Writer) *app {
	a := &app{}

	if cfg.CacheEnabled {
		a.cache = cache.New(cfg.CacheTTL, cfg.CacheMaxEntries, logger)
		logger.Debugf("Cache enabled - TTL: %v, Max entries: %d", cfg.CacheTTL, cfg.CacheMaxEntries)
	}

	a.client = ipinfo.NewClient(ipinfo.Options{
		BaseURL: cfg.BaseURL,
		Token:   cfg.APIToken,
		Timeout: cfg.HTTPTimeout,
		Cache:   a.cache,
	}, logger)
	a.resolver = resolver.New(logger)
	a.tracer = traceroute.New(traceroute.Options{
		Binary: cfg.TracerouteBin,
		Stdout: out,
		Stderr: errOut,
	}, logger)
	a.scanner = menu.NewLazyScanner(func() (menu.PortScanner, error) {
		return ports.NewScanner(ports.Options{
			StartPort: cfg.ScanStartPort,
			EndPort:   cfg.ScanEndPort,
			Timeout:   cfg.ScanTimeout,
			Workers:   cfg.ScanWorkers,
		}, logger)
	})
	a.pinger = ping.New(ping.Options{
		Count:      cfg.PingCount,
		Privileged: cfg.PingPrivileged,
		Timeout:    cfg.PingTimeout,
	}, logger)
	a.ifaces = netif.NewLister(logger)
	a.routes = routes.New(routes.Options{}, logger)
	a.bgp = bgp.New(bgp.Options{
		BaseURL: cfg.BGPAPIURL,
		Timeout: cfg.HTTPTimeout,
	}, logger)

	return a
}

func (a *app) menuDeps() menu.Deps {
	return menu.Deps{
		Fetcher:    a.client,
		Resolver:   a.resolver,
		Tracer:     a.tracer,
		Scanner:    a.scanner,
		Pinger:     a.pinger,
		Interfaces: a.ifaces,
		Routes:     a.routes,
		BGP:        a.bgp,
	}
}

// statsProvider returns the cache as a stats source, or nil when caching is off
func (a *app) statsProvider() handlers.StatsProvider {
	if a.cache == nil {
		return nil
	}
	return a.cache
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
}

func newMyIPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "myip",
		Short: "Show geolocation for this device's public IP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()
			return a.client.FetchAndDisplay(cmd.Context(), a.client.SelfEndpoint(), cmd.OutOrStdout())
		},
	}
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <ip>",
		Short: "Show geolocation for an IP address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()
			return a.client.FetchAndDisplay(cmd.Context(), a.client.LookupEndpoint(args[0]), cmd.OutOrStdout())
		},
	}
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <host>",
		Short: "Resolve a hostname to an IP address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()

			ip, err := a.resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ip)
			return nil
		},
	}
}

func newWebsiteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "website <host>",
		Short: "Resolve a website and show geolocation for its IP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()

			ip, err := a.resolver.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "IP obtained %s\n\n", ip)
			return a.client.FetchAndDisplay(cmd.Context(), a.client.LookupEndpoint(ip), cmd.OutOrStdout())
		},
	}
}

func newTraceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trace <destination>",
		Short: "Run the system traceroute against a destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()
			return a.tracer.Trace(cmd.Context(), args[0])
		},
	}
}

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <ip>",
		Short: "Scan a target for open TCP ports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()

			scanner, err := a.scanner.Get()
			if err != nil {
				return fmt.Errorf("port scanner unavailable: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Scanning ports on %s...\n", args[0])
			result, err := scanner.Scan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.String())
			return nil
		},
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <host>...",
		Short: "Send ICMP echo requests to one or more hosts",
		Long:  `Ping each host in turn. Hosts may be separate arguments or comma-separated, e.g. "ping 1.1.1.1, 8.8.8.8".`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts := ping.SplitHosts(strings.Join(args, ","))
			if len(hosts) == 0 {
				return fmt.Errorf("host is empty")
			}

			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()
			return pingHosts(cmd.Context(), a.pinger, hosts, cmd.OutOrStdout())
		},
	}
}

// pingHosts prints every host's statistics and fails when any host failed
func pingHosts(ctx context.Context, pinger menu.Pinger, hosts []string, out io.Writer) error {
	results := pinger.PingAll(ctx, hosts)
	if err := ping.WriteResults(out, results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d hosts failed", failed, len(results))
	}
	return nil
}

func newIfacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ifaces",
		Short: "List local network interfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()

			ifaces, err := a.ifaces.List()
			if err != nil {
				return err
			}
			return netif.Write(cmd.OutOrStdout(), ifaces)
		},
	}
}

func newRoutesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the IP routing table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()
			return a.routes.Show(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newBGPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bgp <prefix>",
		Short: "Show BGP routes for an IP prefix",
		Long:  `Ask the local routing daemon (birdc, or route print on Windows) for the prefix and fall back to the BGP API at --bgp-api-url.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()
			return a.bgp.Lookup(cmd.Context(), args[0], cmd.OutOrStdout())
		},
	}
}

func newServeCmd() *cobra.Command {
	var withWatch bool

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve geolocation lookups over HTTP",
		Long:  `Expose lookups, resolution, health, cache stats and Prometheus metrics over a JSON/text HTTP API.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, withWatch)
		},
	}
	serveCmd.Flags().BoolVar(&withWatch, "watch", false, "Also watch the public IP on --watch-schedule")

	return serveCmd
}

func runServer(cmd *cobra.Command, withWatch bool) error {
	logger.Info("Starting IP_Master API server...")

	a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
	defer a.Close()

	// Setup HTTP handlers
	apiHandler := handlers.NewAPIHandler(a.client, a.resolver, a.statsProvider(), metrics.New(), logger)
	router := apiHandler.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var watcher *watch.Watcher
	if withWatch {
		watcher = watch.New(a.client, cfg.WatchSchedule, cmd.OutOrStdout(), logger)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	serverErrChan := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("Starting HTTP server on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal %v, shutting down gracefully...", sig)
	case err := <-serverErrChan:
		cancel()
		if watcher != nil {
			watcher.Stop()
		}
		return err
	}

	cancel()
	return gracefulShutdown(server, watcher, &wg)
}

// gracefulShutdown stops the watcher, drains the server and waits for its goroutine
func gracefulShutdown(server *http.Server, watcher *watch.Watcher, wg *sync.WaitGroup) error {
	logger.Info("Starting graceful shutdown...")

	if watcher != nil {
		logger.Info("Stopping IP watcher...")
		watcher.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
		server.Close() // Force close if graceful shutdown fails
	} else {
		logger.Info("HTTP server shut down gracefully")
	}

	// Wait for the server goroutine with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All server goroutines finished")
	case <-ctx.Done():
		logger.Warn("Timeout waiting for server goroutines to finish")
	}

	logger.Info("Graceful shutdown completed")
	return nil
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report when the public IP changes",
		Long:  `Check the public IP on --watch-schedule (cron format) and print a line whenever it changes.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			watcher := watch.New(a.client, cfg.WatchSchedule, cmd.OutOrStdout(), logger)
			if err := watcher.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.Info("Stopping IP watcher...")
			watcher.Stop()
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version and build information.`,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "IP_Master v%s\n", version)
			fmt.Fprintf(out, "Geolocation API: %s\n", cfg.BaseURL)
			fmt.Fprintf(out, "Cache support: %v\n", cfg.CacheEnabled)
		},
	}
}
