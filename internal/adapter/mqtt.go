package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/models"
)

// mqttDispatchEnvelope is published to a robot's command topic.
type mqttDispatchEnvelope struct {
	CommandID string          `json:"command_id"`
	Type      string          `json:"type"`
	Params    json.RawMessage `json:"params"`
	TraceID   string          `json:"trace_id"`
	Timestamp string          `json:"timestamp"`
}

// mqttReplyEnvelope is expected on the robot's reply topic.
type mqttReplyEnvelope struct {
	CommandID string          `json:"command_id"`
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`
}

// MQTTAdapter dispatches commands by publishing to "<endpoint>/cmd" and
// matching replies by command id on the single wildcard subscription
// robotmw/+/reply, which is shared across all in-flight commands. A
// robot's "<endpoint>/reply" topic is therefore only heard when its
// endpoint has the form robotmw/<name>.
type MQTTAdapter struct {
	client mqtt.Client
	logger *common.Logger

	mu      sync.Mutex
	waiters map[string]chan mqttReplyEnvelope // command id -> reply waiter
}

// NewMQTTAdapter connects to the given broker URL and subscribes to the
// wildcard reply topic robotmw/+/reply.
func NewMQTTAdapter(brokerURL string, logger *common.Logger) (*MQTTAdapter, error) {
	a := &MQTTAdapter{
		logger:  logger,
		waiters: make(map[string]chan mqttReplyEnvelope),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("robotmw-core").
		SetAutoReconnect(true).
		SetConnectRetry(true)
	opts.SetDefaultPublishHandler(a.handleMessage)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, apperr.New(apperr.CodeProtocol, "failed to connect to mqtt broker").WithDetail("error", token.Error().Error())
	}
	a.client = client

	if token := client.Subscribe("robotmw/+/reply", 1, a.handleMessage); token.Wait() && token.Error() != nil {
		return nil, apperr.New(apperr.CodeProtocol, "failed to subscribe to reply topic").WithDetail("error", token.Error().Error())
	}

	return a, nil
}

func (a *MQTTAdapter) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var reply mqttReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		a.logger.Warn().Err(err).Msg("failed to decode mqtt reply")
		return
	}

	a.mu.Lock()
	ch, ok := a.waiters[reply.CommandID]
	a.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

// Protocol reports "mqtt".
func (a *MQTTAdapter) Protocol() models.Protocol { return models.ProtocolMQTT }

// Dispatch publishes the command to the robot's command topic and waits
// on its reply topic for a matching command id.
func (a *MQTTAdapter) Dispatch(ctx context.Context, robot *models.RobotEntry, req DispatchRequest) (*DispatchResult, error) {
	if !a.client.IsConnected() {
		return nil, apperr.New(apperr.CodeRobotOffline, "mqtt broker connection is down")
	}

	waiter := make(chan mqttReplyEnvelope, 1)
	a.mu.Lock()
	a.waiters[req.CommandID] = waiter
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiters, req.CommandID)
		a.mu.Unlock()
	}()

	body, err := json.Marshal(mqttDispatchEnvelope{
		CommandID: req.CommandID,
		Type:      req.Type,
		Params:    req.Params,
		TraceID:   req.TraceID,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		return nil, apperr.New(apperr.CodeInternal, "failed to encode mqtt dispatch body")
	}

	topic := fmt.Sprintf("%s/cmd", robot.Endpoint)
	token := a.client.Publish(topic, 1, false, body)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		return nil, apperr.New(apperr.CodeProtocol, "failed to publish mqtt command").WithDetail("error", token.Error().Error())
	}

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, apperr.New(apperr.CodeTimeout, "dispatch cancelled before robot replied")
	case <-timer.C:
		return nil, apperr.New(apperr.CodeTimeout, "robot did not reply before timeout")
	case reply := <-waiter:
		if reply.Error != "" {
			return nil, apperr.New(apperr.CodeActionInvalid, reply.Error)
		}
		return &DispatchResult{Result: reply.Result}, nil
	}
}

// Close disconnects the broker connection.
func (a *MQTTAdapter) Close() error {
	a.client.Disconnect(250)
	return nil
}
