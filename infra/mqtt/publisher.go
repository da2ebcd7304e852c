package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremetrics "github.com/kilianp07/ebusdepot/core/metrics"
	coremon "github.com/kilianp07/ebusdepot/core/monitoring"
	"github.com/kilianp07/ebusdepot/core/trace"
	"github.com/kilianp07/ebusdepot/infra/logger"
)

// TracePublisher publishes trace records as JSON. Records of a vehicle go
// to <prefix>/<run>/vehicles/<id>/<kind>, the others to <prefix>/<run>/<kind>.
// The run summary is retained on <prefix>/<run>/summary.
type TracePublisher struct {
	cli        pahoClient
	prefix     string
	runID      string
	qos        byte
	maxRetries int
	backoff    time.Duration
	logger     logger.Logger

	mu   sync.Mutex
	sent int
	err  error
}

// NewTracePublisher connects to the broker.
func NewTracePublisher(cfg Config, runID string) (*TracePublisher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_publisher")
	opts.OnConnect = func(paho.Client) { log.Infof("MQTT connected to %s", cfg.Broker) }
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &TracePublisher{
		cli:        c,
		prefix:     cfg.TopicPrefix,
		runID:      runID,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		logger:     log,
	}, nil
}

// Topic returns the topic a record is published on.
func (p *TracePublisher) Topic(rec trace.Record) string {
	if rec.Vehicle != "" {
		return fmt.Sprintf("%s/%s/vehicles/%s/%s", p.prefix, p.runID, rec.Vehicle, rec.Kind)
	}
	return fmt.Sprintf("%s/%s/%s", p.prefix, p.runID, rec.Kind)
}

// Record publishes rec. After the first failure the publisher stops and
// the error is kept for Err.
func (p *TracePublisher) Record(rec trace.Record) {
	payload, err := json.Marshal(rec)
	if err != nil {
		p.fail(err, "")
		return
	}
	topic := p.Topic(rec)
	if err := p.publish(topic, false, payload); err != nil {
		p.fail(err, topic)
	}
}

// RecordRunSummary publishes the retained run summary.
func (p *TracePublisher) RecordRunSummary(s coremetrics.RunSummary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/summary", p.prefix, p.runID)
	if err := p.publish(topic, true, payload); err != nil {
		p.fail(err, topic)
		return err
	}
	return nil
}

func (p *TracePublisher) publish(topic string, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var err error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		token := p.cli.Publish(topic, p.qos, retained, payload)
		token.Wait()
		if err = token.Error(); err == nil {
			p.sent++
			return nil
		}
		p.logger.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, err)
		if attempt < p.maxRetries {
			time.Sleep(p.backoff * time.Duration(1<<attempt))
		}
	}
	return err
}

func (p *TracePublisher) fail(err error, topic string) {
	p.mu.Lock()
	first := p.err == nil
	if first {
		p.err = err
	}
	p.mu.Unlock()
	if first {
		coremon.CaptureException(err, map[string]string{"component": "mqtt", "run_id": p.runID, "topic": topic})
	}
}

// Sent returns the number of published messages.
func (p *TracePublisher) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Err returns the first publish error.
func (p *TracePublisher) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Disconnect gracefully closes the MQTT connection.
func (p *TracePublisher) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
