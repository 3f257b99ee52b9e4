package config

import (
	"errors"
	"fmt"
	"time"

	"sleepywoodpecker/rp-goes-power/internal/processing"

	"go.uber.org/multierr"
)

const (
	DEFAULT_PORT             = "/dev/tty.usbmodem13101"
	DEFAULT_BAUDRATE         = 921600
	DEFAULT_READ_TIMEOUT     = 100 * time.Millisecond
	DEFAULT_WINDOW_SIZE      = 10000
	DEFAULT_AVERAGE_SAMPLES  = processing.DEFAULT_AVERAGE_SAMPLES
	DEFAULT_SAMPLE_RATE      = 200
	DEFAULT_THRESHOLD        = 15
	DEFAULT_REPORT_INTERVAL  = 100 * time.Millisecond
	DEFAULT_RATE_INTERVAL    = time.Second
	DEFAULT_LOG_FILE_PATH    = "rppower.logs"
	DEFAULT_MQTT_TOPIC       = "rppower/events"
	DEFAULT_MESSAGE_QUEUE_SZ = processing.DEFAULT_QUEUE_SIZE
)

type Config struct {
	Port        string
	Baudrate    int
	ReadTimeout time.Duration
	ReplayFile  string // read from a capture instead of a serial port

	WindowSize     int
	AverageSamples int
	SampleRate     float64
	Threshold      float64
	PowerMode      string
	ShowEvents     bool

	ReportInterval time.Duration
	RateInterval   time.Duration

	LogFile     string
	CaptureFile string

	Dashboard     bool
	TelegrafAddr  string // influx line protocol over UDP, empty disables
	MetricsAddr   string // prometheus listen address, empty disables
	MQTTBroker    string // host:port, empty disables
	MQTTTopic     string
	MQTTClientID  string
	MessageQueueN int
}

func Default() Config {
	return Config{
		Port:           DEFAULT_PORT,
		Baudrate:       DEFAULT_BAUDRATE,
		ReadTimeout:    DEFAULT_READ_TIMEOUT,
		WindowSize:     DEFAULT_WINDOW_SIZE,
		AverageSamples: DEFAULT_AVERAGE_SAMPLES,
		SampleRate:     DEFAULT_SAMPLE_RATE,
		Threshold:      DEFAULT_THRESHOLD,
		PowerMode:      string(processing.PowerReported),
		ShowEvents:     true,
		ReportInterval: DEFAULT_REPORT_INTERVAL,
		RateInterval:   DEFAULT_RATE_INTERVAL,
		LogFile:        DEFAULT_LOG_FILE_PATH,
		Dashboard:      true,
		MQTTTopic:      DEFAULT_MQTT_TOPIC,
		MessageQueueN:  DEFAULT_MESSAGE_QUEUE_SZ,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Port == "" && c.ReplayFile == "" {
		errs = append(errs, errors.New("a serial port or a replay file is required"))
	}
	if c.ReplayFile == "" && c.Baudrate <= 0 {
		errs = append(errs, fmt.Errorf("baudrate must be positive, got %d", c.Baudrate))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read timeout must be positive, got %s", c.ReadTimeout))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("window size must be positive, got %d", c.WindowSize))
	}
	if c.AverageSamples <= 0 || c.AverageSamples > c.WindowSize {
		errs = append(errs, fmt.Errorf("average samples must be in [1, %d], got %d", c.WindowSize, c.AverageSamples))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %g", c.SampleRate))
	}
	if _, err := processing.ParsePowerMode(c.PowerMode); err != nil {
		errs = append(errs, err)
	}
	if c.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("report interval must be positive, got %s", c.ReportInterval))
	}
	if c.RateInterval <= 0 {
		errs = append(errs, fmt.Errorf("rate interval must be positive, got %s", c.RateInterval))
	}
	if c.MQTTBroker != "" && c.MQTTTopic == "" {
		errs = append(errs, errors.New("mqtt topic is required when a broker is set"))
	}
	if c.MessageQueueN <= 0 {
		errs = append(errs, fmt.Errorf("message queue length must be positive, got %d", c.MessageQueueN))
	}
	return multierr.Combine(errs...)
}

func (c Config) StoreOptions() processing.StoreOptions {
	return processing.StoreOptions{
		WindowSize: c.WindowSize,
		Threshold:  c.Threshold,
		SampleRate: c.SampleRate,
	}
}

func (c Config) SamplerOptions() processing.SamplerOptions {
	return processing.SamplerOptions{
		Interval:       c.ReportInterval,
		AverageSamples: c.AverageSamples,
		SampleRate:     c.SampleRate,
		ShowEvents:     c.ShowEvents,
	}
}
