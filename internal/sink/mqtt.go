package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/logger"
	"codeberg.org/mutker/treadlink/internal/session"
)

const mqttTimeout = 5 * time.Second

// MQTT publishes finalized sessions to a broker topic, one retained
// message per save.
type MQTT struct {
	client pahomqtt.Client
	topic  string
}

func NewMQTT(broker, topic string) (*MQTT, error) {
	errFactory := errors.New()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("treadlink-%d", time.Now().UnixNano()))
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttTimeout)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, errFactory.WithMessage(ErrMQTTConnect, "connection timeout")
	}
	if token.Error() != nil {
		return nil, errFactory.Wrap(ErrMQTTConnect, token.Error())
	}

	logger.Info().Str("broker", broker).Str("topic", topic).Msg("Connected to MQTT broker")

	return &MQTT{client: client, topic: topic}, nil
}

func (m *MQTT) Save(ctx context.Context, s *session.DailySession) error {
	errFactory := errors.New()

	body, err := json.Marshal(s)
	if err != nil {
		return errFactory.Wrap(ErrSinkEncode, err)
	}

	token := m.client.Publish(m.topic, 1, true, body)
	if !token.WaitTimeout(mqttTimeout) {
		return errFactory.WithMessage(ErrMQTTPublish, "publish timeout")
	}
	if token.Error() != nil {
		return errFactory.Wrap(ErrMQTTPublish, token.Error())
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrMQTTPublish, err)
	}

	logger.Info().Str("topic", m.topic).Str("date", s.StartDate).Msg("Session published")

	return nil
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
