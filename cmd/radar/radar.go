package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/route.radar/internal/api"
	"github.com/banshee-data/route.radar/internal/config"
	"github.com/banshee-data/route.radar/internal/db"
	"github.com/banshee-data/route.radar/internal/health"
	"github.com/banshee-data/route.radar/internal/metrics"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/nmea"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/planstore"
	"github.com/banshee-data/route.radar/internal/publisher"
	"github.com/banshee-data/route.radar/internal/ride"
	"github.com/banshee-data/route.radar/internal/serialmux"
	"github.com/banshee-data/route.radar/internal/timeutil"
	"github.com/banshee-data/route.radar/internal/version"
)

var (
	envFile       = flag.String("env", ".env", "Environment file read before the process environment")
	listen        = flag.String("listen", "", "HTTP listen address (overrides RADAR_HTTP_ADDR)")
	dbPath        = flag.String("db", "", "Database path (overrides RADAR_DB_PATH)")
	port          = flag.String("port", "", "Serial port of the GPS receiver (overrides RADAR_SERIAL_PORT)")
	disableSerial = flag.Bool("disable-serial", false, "Run without a receiver; fixes arrive over HTTP only")
	rideConfig    = flag.String("ride-config", "", "Ride settings JSON (overrides RADAR_RIDE_CONFIG)")
	logFile       = flag.String("log-file", "", "Rotating log file (overrides RADAR_LOG_FILE)")
	startPlan     = flag.Int64("plan", 0, "Start a ride on this plan id at boot")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

// statsInterval is how often decoder counters are pushed to metrics.
const statsInterval = 10 * time.Second

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("route radar: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// loadSettings reads the service and ride configuration and applies the
// command line overrides.
func loadSettings() (*config.ServiceConfig, *config.RideConfig, error) {
	svc, err := config.LoadService(*envFile)
	if err != nil {
		return nil, nil, err
	}
	if *listen != "" {
		svc.HTTPAddr = *listen
	}
	if *dbPath != "" {
		svc.DBPath = *dbPath
	}
	if *port != "" {
		svc.SerialPort = *port
		svc.SerialEnable = true
	}
	if *disableSerial {
		svc.SerialEnable = false
	}
	if *rideConfig != "" {
		svc.RideConfigPath = *rideConfig
	}
	if *logFile != "" {
		svc.LogFile = *logFile
	}

	rc := config.DefaultRideConfig()
	if svc.RideConfigPath != "" {
		if rc, err = config.LoadRideConfig(svc.RideConfigPath); err != nil {
			return nil, nil, err
		}
	}
	return svc, rc, nil
}

// newLineMux opens the receiver, or returns a mux that never produces a line
// when the serial link is disabled.
func newLineMux(svc *config.ServiceConfig) (serialmux.LineMux, error) {
	if !svc.SerialEnable {
		monitoring.Logf("serial receiver disabled")
		return serialmux.NewDisabledSerialMux(), nil
	}
	m, err := serialmux.NewRealSerialMux(svc.SerialPort, serialmux.PortOptions{BaudRate: svc.SerialBaud})
	if err != nil {
		return nil, fmt.Errorf("failed to open receiver %s: %w", svc.SerialPort, err)
	}
	monitoring.Logf("receiver %s opened at %d baud", svc.SerialPort, svc.SerialBaud)
	return m, nil
}

// pipeNMEA decodes the receiver lines into sink until ctx is done or the mux
// closes the subscription. invalid, when set, receives the number of new
// invalid sentences every statsInterval.
func pipeNMEA(ctx context.Context, lm serialmux.LineMux, dec *nmea.Decoder, sink nmea.Sink, invalid func(int)) {
	id, lines := lm.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		dec.Feed(lines, sink)
	}()

	last := 0
	report := func() {
		n := dec.Stats().Invalid
		if invalid != nil && n > last {
			invalid(n - last)
		}
		last = n
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			lm.Unsubscribe(id)
			<-done
			report()
			return
		case <-done:
			report()
			return
		case <-ticker.C:
			report()
		}
	}
}

func run(ctx context.Context) error {
	svc, rc, err := loadSettings()
	if err != nil {
		return err
	}
	if svc.LogFile != "" {
		closer, err := monitoring.UseFile(svc.LogFile, monitoring.DefaultFileOptions())
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer closer.Close()
	}
	monitoring.Logf("route radar %s starting", version.String())

	store, err := db.Open(svc.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	collector := metrics.NewCollector()
	introspector := plan.NewIntrospector(false)
	plans := planstore.New(store, rc.PlanOptions(introspector), svc.PlanCacheSize, svc.PlanCacheTTL)
	plans.OnBuild = func(e *planstore.Entry) { collector.ObservePlanBuild(e.BuildTime) }

	reporter := health.NewReporter()
	rides := ride.NewManager(plans, store, rc.Radar(), timeutil.RealClock{})
	defer rides.Stop()
	rides.AddListener(collector)
	rides.AddListener(reporter)
	rides.AddObserver(collector)
	rides.AddObserver(reporter)

	if !svc.NATSDisabled {
		pub, err := publisher.NewNATSPublisher(svc.NATSURL, svc.NATSPrefix, collector)
		if err != nil {
			// The ride still runs; only remote subscribers miss out.
			monitoring.Logf("nats unavailable, alarms stay local: %v", err)
		} else {
			defer pub.Close()
			rides.AddListener(pub)
		}
	}

	lm, err := newLineMux(svc)
	if err != nil {
		return err
	}
	defer lm.Close()
	if err := lm.Initialise(); err != nil {
		return fmt.Errorf("failed to initialise receiver: %w", err)
	}

	if *startPlan > 0 {
		s, err := rides.Start(ctx, *startPlan)
		if err != nil {
			return fmt.Errorf("failed to start ride on plan %d: %w", *startPlan, err)
		}
		monitoring.Logf("ride %s started on plan %d", s.ID, s.PlanID)
	}

	mux := api.NewServer(rides, store, plans, introspector).ServeMux()
	lm.AttachAdminRoutes(mux)
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}
	mux.Handle("/metrics", collector.Handler())

	server := &http.Server{
		Addr:              svc.HTTPAddr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthLis, err := net.Listen("tcp", svc.HealthAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for health checks: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := lm.Monitor(gctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("receiver monitor stopped: %v", err)
		}
		monitoring.Logf("monitor routine terminated")
		return nil
	})
	g.Go(func() error {
		pipeNMEA(gctx, lm, nmea.NewDecoder(), rides, collector.NMEAInvalidAdd)
		monitoring.Logf("nmea routine terminated")
		return nil
	})
	g.Go(func() error {
		grpcServer := reporter.Serve(healthLis)
		<-gctx.Done()
		reporter.Shutdown()
		grpcServer.GracefulStop()
		return nil
	})
	g.Go(func() error {
		monitoring.Logf("listening on %s", svc.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		monitoring.Logf("shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}
		return nil
	})

	return g.Wait()
}
