package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"sleepywoodpecker/rp-goes-power/internal/processing"

	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const mqttKeepAlive = 30

type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// EventMessage is the JSON payload published for every closed event.
type EventMessage struct {
	Session         string    `json:"session"`
	Seq             uint64    `json:"seq"`
	StartIndex      uint64    `json:"start_index"`
	EndIndex        uint64    `json:"end_index"`
	DurationSeconds float64   `json:"duration_seconds"`
	SampleCount     uint64    `json:"sample_count"`
	AvgVoltage      float64   `json:"avg_voltage"`
	AvgCurrent      float64   `json:"avg_current"`
	AvgPower        float64   `json:"avg_power"`
	PeakCurrent     float64   `json:"peak_current"`
	PeakPower       float64   `json:"peak_power"`
	EndedAt         time.Time `json:"ended_at"`
}

func NewEventMessage(session string, ev *processing.EventSummary) EventMessage {
	return EventMessage{
		Session:         session,
		Seq:             ev.Seq,
		StartIndex:      ev.StartIndex,
		EndIndex:        ev.EndIndex,
		DurationSeconds: ev.DurationSeconds,
		SampleCount:     ev.DurationSamples,
		AvgVoltage:      ev.AvgVoltage,
		AvgCurrent:      ev.AvgCurrent,
		AvgPower:        ev.AvgPower,
		PeakCurrent:     ev.PeakCurrent,
		PeakPower:       ev.PeakPower,
		EndedAt:         ev.EndedAt,
	}
}

// MQTTEvents publishes event summaries. Ticks without a new event publish
// nothing.
type MQTTEvents struct {
	client  publisher
	closeFn func() error
	topic   string
	session string
	logger  *zap.Logger
}

// DialMQTT connects to a broker at addr (host:port) over plain TCP. An empty
// clientID gets a random one.
func DialMQTT(ctx context.Context, addr, clientID, topic string, logger *zap.Logger) (*MQTTEvents, error) {
	if clientID == "" {
		clientID = "rppower-" + uuid.NewString()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("[mqtt] dialing %s: %w", addr, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnClientError: func(err error) {
			logger.Warn("[mqtt] client error", zap.Error(err))
		},
	})

	connack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  mqttKeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("[mqtt] connecting to %s: %w", addr, err)
	}
	if connack.ReasonCode != 0 {
		conn.Close()
		return nil, fmt.Errorf("[mqtt] broker %s refused connection: reason %d", addr, connack.ReasonCode)
	}
	logger.Info("[mqtt] connected", zap.String("broker", addr), zap.String("clientID", clientID))

	m := newMQTTEvents(client, topic, logger)
	m.closeFn = func() error {
		return client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	return m, nil
}

func newMQTTEvents(client publisher, topic string, logger *zap.Logger) *MQTTEvents {
	return &MQTTEvents{
		client:  client,
		topic:   topic,
		session: uuid.NewString(),
		logger:  logger,
	}
}

func (m *MQTTEvents) Name() string { return "mqtt" }

func (m *MQTTEvents) Render(ctx context.Context, report processing.Report) error {
	if report.Event == nil {
		return nil
	}

	payload, err := json.Marshal(NewEventMessage(m.session, report.Event))
	if err != nil {
		return fmt.Errorf("[mqtt] encoding event %d: %w", report.Event.Seq, err)
	}

	_, err = m.client.Publish(ctx, &paho.Publish{
		Topic:   m.topic,
		QoS:     1,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType: "application/json",
		},
	})
	if err != nil {
		return fmt.Errorf("[mqtt] publishing event %d: %w", report.Event.Seq, err)
	}
	m.logger.Debug("[mqtt] published event", zap.Uint64("seq", report.Event.Seq), zap.String("topic", m.topic))
	return nil
}

func (m *MQTTEvents) Close() error {
	if m.closeFn == nil {
		return nil
	}
	return m.closeFn()
}
