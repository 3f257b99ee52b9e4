package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sleepywoodpecker/rp-goes-power/internal/config"
	"sleepywoodpecker/rp-goes-power/internal/logger"
	"sleepywoodpecker/rp-goes-power/internal/metrics"
	"sleepywoodpecker/rp-goes-power/internal/processing"
	rserial "sleepywoodpecker/rp-goes-power/internal/rSerial"
	"sleepywoodpecker/rp-goes-power/internal/sinks"

	"github.com/rivo/tview"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const SHUTDOWN_GRACE = 500 * time.Millisecond

type transport interface {
	Run(ctx context.Context)
	Err() error
	Close() error
}

func main() {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "rppower",
		Short: "Live power monitor and event detector for a serial INA219 sensor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}
	bindFlags(cmd, &cfg)

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bindFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.Port, "port", cfg.Port, "serial port the sensor is attached to")
	f.IntVar(&cfg.Baudrate, "baud", cfg.Baudrate, "serial baud rate")
	f.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "bound on a single serial read")
	f.StringVar(&cfg.ReplayFile, "replay", cfg.ReplayFile, "read samples from a capture file instead of the serial port")

	f.IntVar(&cfg.WindowSize, "window", cfg.WindowSize, "samples kept per channel for display")
	f.IntVar(&cfg.AverageSamples, "average", cfg.AverageSamples, "samples in the rolling average")
	f.Float64Var(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "nominal sensor sample rate in samples/s")
	f.Float64Var(&cfg.Threshold, "threshold", cfg.Threshold, "current (mA) above which an event starts")
	f.StringVar(&cfg.PowerMode, "power", cfg.PowerMode, "power source: reported (from the record) or derived (V*I)")
	f.BoolVar(&cfg.ShowEvents, "show-events", cfg.ShowEvents, "report event summaries")

	f.DurationVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "how often the display is refreshed")
	f.DurationVar(&cfg.RateInterval, "rate-interval", cfg.RateInterval, "how often the received sample rate is measured")

	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file path")
	f.StringVar(&cfg.CaptureFile, "capture", cfg.CaptureFile, "append accepted samples to this CSV file")

	f.BoolVar(&cfg.Dashboard, "dashboard", cfg.Dashboard, "show the terminal dashboard (otherwise log reports)")
	f.StringVar(&cfg.TelegrafAddr, "telegraf", cfg.TelegrafAddr, "telegraf UDP listener for influx lines, e.g. 127.0.0.1:4020")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address")
	f.StringVar(&cfg.MQTTBroker, "mqtt-broker", cfg.MQTTBroker, "publish event summaries to this MQTT broker (host:port)")
	f.StringVar(&cfg.MQTTTopic, "mqtt-topic", cfg.MQTTTopic, "MQTT topic for event summaries")
	f.StringVar(&cfg.MQTTClientID, "mqtt-client-id", cfg.MQTTClientID, "MQTT client id (random when empty)")
}

func run(parent context.Context, cfg config.Config) (err error) {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	powerMode, _ := processing.ParsePowerMode(cfg.PowerMode)

	// context handler for graceful shutdown
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log, err := logger.NewLogger(cfg.LogFile, logger.Options{Console: !cfg.Dashboard})
	if err != nil {
		return err
	}
	defer log.Sync()

	collector := metrics.NewCollector()
	store := processing.NewDataSampleStore(cfg.StoreOptions())
	messageQueue := make(chan []byte, cfg.MessageQueueN)

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	source, err := openTransport(cfg, messageQueue, log)
	if err != nil {
		return err
	}
	closers = append(closers, source.Close)

	var outputs []processing.Sink
	var dashboard *sinks.Dashboard
	if cfg.Dashboard {
		dashboard = sinks.NewDashboard(tview.NewApplication(), "rppower "+sourceName(cfg), cfg.ShowEvents)
		outputs = append(outputs, dashboard)
	} else {
		outputs = append(outputs, sinks.NewLogSink(log))
	}

	if cfg.TelegrafAddr != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", cfg.TelegrafAddr)
		if err != nil {
			return fmt.Errorf("resolving telegraf address: %w", err)
		}
		udpConn, err := net.DialUDP("udp", nil, udpAddr)
		if err != nil {
			return fmt.Errorf("dialing telegraf: %w", err)
		}
		closers = append(closers, udpConn.Close)
		outputs = append(outputs, sinks.NewInfluxUDP(udpConn))
	}

	if cfg.MQTTBroker != "" {
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		events, err := sinks.DialMQTT(dialCtx, cfg.MQTTBroker, cfg.MQTTClientID, cfg.MQTTTopic, log)
		dialCancel()
		if err != nil {
			return err
		}
		closers = append(closers, events.Close)
		outputs = append(outputs, events)
	}

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, collector, log)
		closers = append(closers, func() error {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), SHUTDOWN_GRACE)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	processor := processing.NewProcessor(cfg.CaptureFile, messageQueue, powerMode, log, store, collector)
	sampler := processing.NewSampler(cfg.SamplerOptions(), store, outputs, log, collector)
	rateMeter := processing.NewRateMeter(cfg.RateInterval, store.SampleCount, func(rate float64) {
		sampler.SetObservedRate(rate)
		collector.SetSampleRate(rate)
	}, log)

	// run everything
	processorDone := make(chan error, 1)
	go source.Run(ctx)
	go func() { processorDone <- processor.Run(ctx) }()
	go sampler.Run(ctx)
	go rateMeter.Run(ctx)

	if dashboard != nil {
		go func() {
			if err := dashboard.Run(ctx); err != nil {
				log.Error("dashboard stopped", zap.Error(err))
			}
			cancel()
		}()
	}

	var procErr error
	select {
	case <-ctx.Done():
		procErr = <-processorDone
	case procErr = <-processorDone:
	}
	if procErr != nil {
		cancel()
		return procErr
	}

	fault := source.Err()
	switch {
	case fault == nil:
	case errors.Is(fault, rserial.ErrEndOfStream):
		log.Info("input exhausted", zap.Uint64("samples", store.SampleCount()))
		sampler.SampleAndLog(ctx)
		if dashboard != nil {
			// keep the final state on screen until the user quits
			<-ctx.Done()
		}
		fault = nil
	default:
		sampler.SampleAndLog(ctx)
		log.Error("acquisition stopped", zap.Error(fault))
		fault = fmt.Errorf("acquisition stopped: %w", fault)
	}

	cancel()
	time.Sleep(SHUTDOWN_GRACE)
	return fault
}

func openTransport(cfg config.Config, messageQueue chan []byte, log *zap.Logger) (transport, error) {
	if cfg.ReplayFile != "" {
		file, err := os.Open(cfg.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("opening replay file: %w", err)
		}
		lineInterval := time.Duration(float64(time.Second) / cfg.SampleRate)
		return rserial.NewFromReader(cfg.ReplayFile, file, lineInterval, messageQueue, log), nil
	}
	port, err := rserial.NewRSerial(cfg.Port, cfg.Baudrate, cfg.ReadTimeout, messageQueue, log)
	if err != nil {
		return nil, err
	}
	return port, nil
}

func sourceName(cfg config.Config) string {
	if cfg.ReplayFile != "" {
		return cfg.ReplayFile
	}
	return cfg.Port
}

func serveMetrics(addr string, collector *metrics.Collector, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err), zap.String("addr", addr))
		}
	}()
	return srv
}
