package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"os"
	"sync"
	"time"

	pmqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog"
	uuid "github.com/satori/go.uuid"
)

// Mqtt subscribes to the field gateway's uplink topic and hands every
// decoded packet payload to the service. Framing and parsing of raw radio
// bytes happens on the gateway; payloads arriving here are already JSON.
type Mqtt struct {
	Topic    string
	MgtUrl   string
	logger   zerolog.Logger
	opt      *pmqtt.ClientOptions
	ClientID uuid.UUID
	client   pmqtt.Client
	svc      model.IService
}

type MqttConfig struct {
	Connection string `yaml:"Connection"`
	Topic      string `yaml:"Topic"`
}

func NewMqtt(conf MqttConfig, svc model.IService, logl int, ctx context.Context) (*Mqtt, error) {
	var (
		err error
		l   zerolog.Logger
		cid uuid.UUID
	)

	l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.InfoLevel+zerolog.Level(logl)).With().Timestamp().Int("pid", os.Getpid()).Logger()
	cid = uuid.NewV4()
	c := &Mqtt{
		Topic:    conf.Topic,
		MgtUrl:   conf.Connection,
		logger:   l,
		ClientID: cid,
		svc:      svc,
		opt: pmqtt.NewClientOptions().
			AddBroker(conf.Connection).
			SetClientID("cloud-sub-" + cid.String()).
			SetCleanSession(false).
			SetAutoReconnect(true).
			SetTLSConfig(&tls.Config{
				InsecureSkipVerify: true,
			}).
			SetConnectionLostHandler(ConnectLostHandler(l)).
			SetOnConnectHandler(ConnectHandler(l)),
	}

	go func() {
		<-ctx.Done()
		if c.client != nil {
			c.client.Disconnect(250)
		}
		c.logger.Warn().Msg("Mqtt disconnect")
	}()

	err = c.Connect()
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Start subscribes to the uplink topic; delivery runs on paho's own
// goroutines until the context is cancelled.
func (m *Mqtt) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		token := m.client.Subscribe(m.Topic, 1, m.onPacket)
		if token.Wait() && token.Error() != nil {
			m.logger.Error().Err(token.Error()).Str("topic", m.Topic).Msg("Error subscribing to uplink topic")
			return
		}
		m.logger.Info().Str("topic", m.Topic).Msg("Subscribed to uplink topic")

		<-ctx.Done()
	}()
}

func (m *Mqtt) onPacket(_ pmqtt.Client, msg pmqtt.Message) {
	if err := m.svc.Observe(msg.Payload()); err != nil {
		m.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("failed to observe packet")
	}
}

func (m *Mqtt) Connect() error {
	m.client = pmqtt.NewClient(m.opt)
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		m.logger.Error().Err(token.Error()).Msg("Error connecting to mqtt broker")
		return errors.Join(token.Error(), errors.New("Error connecting to mqtt broker"))
	}
	return nil
}

func (m *Mqtt) Disconnect() {
	m.client.Disconnect(500)
	m.logger.Info().Msg("Disconnected from mqtt broker")
	m.client = nil
}

func ConnectHandler(logger zerolog.Logger) func(client pmqtt.Client) {
	return func(client pmqtt.Client) {
		logger.Info().Msg("Connected to mqtt broker")
	}
}

func ConnectLostHandler(logger zerolog.Logger) func(client pmqtt.Client, err error) {
	return func(client pmqtt.Client, err error) {
		logger.Warn().Err(err).Msg("Connection Lost")
	}
}
