// ratetest reports how many lines per second actually arrive from the sensor,
// without parsing them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"sleepywoodpecker/rp-goes-power/internal/config"
	"sleepywoodpecker/rp-goes-power/internal/logger"
	"sleepywoodpecker/rp-goes-power/internal/processing"
	rserial "sleepywoodpecker/rp-goes-power/internal/rSerial"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Default()
	cfg.LogFile = "ratetest.logs"

	cmd := &cobra.Command{
		Use:   "ratetest",
		Short: "Measure the sample rate received over the serial port",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
		SilenceUsage: true,
	}
	f := cmd.Flags()
	f.StringVar(&cfg.Port, "port", cfg.Port, "serial port the sensor is attached to")
	f.IntVar(&cfg.Baudrate, "baud", cfg.Baudrate, "serial baud rate")
	f.DurationVar(&cfg.RateInterval, "interval", cfg.RateInterval, "measurement interval")
	f.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "log file path")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(parent context.Context, cfg config.Config) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log, err := logger.NewLogger(cfg.LogFile, logger.Options{Console: true})
	if err != nil {
		return err
	}
	defer log.Sync()

	messageQueue := make(chan []byte, processing.DEFAULT_QUEUE_SIZE)
	port, err := rserial.NewRSerial(cfg.Port, cfg.Baudrate, cfg.ReadTimeout, messageQueue, log)
	if err != nil {
		return err
	}
	defer port.Close()

	var received atomic.Uint64
	meter := processing.NewRateMeter(cfg.RateInterval, received.Load, func(rate float64) {
		fmt.Printf("observed receive rate: %.2f samples/sec\n", rate)
	}, log)

	go port.Run(ctx)
	go meter.Run(ctx)

	for range messageQueue {
		received.Add(1)
	}

	if err := port.Err(); err != nil {
		log.Error("serial read stopped", zap.Error(err), zap.Uint64("received", received.Load()))
		return err
	}
	return nil
}
