package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/klog/v2"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/ports"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

type Config struct {
	// Identity
	DeviceID string

	// MQTT connection
	BrokerURL string
	ClientID  string

	// Topics
	BaseTopic string

	// Behavior
	QoS             byte
	RetainSnapshot  bool
	PublishInterval time.Duration

	Username string
	Password string
}

// Controller publishes snapshots and lock events and applies set/ commands.
// It is a simulator.TickSink for the lock edge.
type Controller struct {
	svc ports.SimulatorService
	cfg Config

	mu     sync.Mutex
	client mqtt.Client
}

func New(svc ports.SimulatorService, cfg Config) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}

	if cfg.DeviceID == "" {
		return nil, errors.New("mqtt: DeviceID is required")
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "pvmocktat/" + cfg.DeviceID
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pvmocktat-" + cfg.DeviceID
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 1 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	return &Controller{
		svc: svc,
		cfg: cfg,
	}, nil
}

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		topic := c.topic("set/+")
		token := cl.Subscribe(topic, c.cfg.QoS, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			klog.ErrorS(err, "MQTT subscribe failed", "topic", topic)
		}
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.setClient(client)
	klog.InfoS("MQTT connected", "broker", c.cfg.BrokerURL, "base", c.cfg.BaseTopic)

	// Publish loop: publish snapshot on interval, and only when a new tick committed.
	ticker := time.NewTicker(c.cfg.PublishInterval)
	defer ticker.Stop()

	// publish immediately once
	last := c.publishSnapshot()

	for {
		select {
		case <-ctx.Done():
			c.setClient(nil)
			client.Disconnect(250)
			return ctx.Err()

		case <-ticker.C:
			if cur := c.svc.Get(); cur.Ticks != last.Ticks || cur.Config != last.Config || cur.Environment != last.Environment {
				last = c.publishSnapshot()
			}
		}
	}
}

// OnTick publishes the lock edge on <base>/events/lock.
func (c *Controller) OnTick(r simulator.TickResult) {
	if !r.LockAcquired {
		return
	}
	cl := c.getClient()
	if cl == nil {
		return
	}
	b, _ := json.Marshal(lockEventDTO{
		DeviceID:  c.cfg.DeviceID,
		Seq:       r.Seq,
		Time:      r.Time,
		Algorithm: r.Algorithm,
		Voltage:   r.OperatingVoltage,
		Power:     r.OperatingPower,
	})
	cl.Publish(c.topic("events/lock"), c.cfg.QoS, false, b)
}

func (c *Controller) publishSnapshot() simulator.Snapshot {
	s := c.svc.Get()
	cl := c.getClient()
	if cl == nil {
		return s
	}
	b, _ := json.Marshal(toDTO(c.cfg.DeviceID, s))
	cl.Publish(c.topic("snapshot"), c.cfg.QoS, c.cfg.RetainSnapshot, b)
	return s
}

func (c *Controller) setClient(cl mqtt.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = cl
}

func (c *Controller) getClient() mqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

type snapshotDTO struct {
	DeviceID         string             `json:"device_id"`
	Irradiance       float64            `json:"irradiance"`
	Temperature      float64            `json:"temperature"`
	Rows             int                `json:"rows"`
	Cols             int                `json:"cols"`
	Panel            string             `json:"panel"`
	Algorithm        mppt.Algorithm     `json:"algorithm"`
	Topology         converter.Topology `json:"topology"`
	OperatingVoltage float64            `json:"operating_voltage"`
	OperatingCurrent float64            `json:"operating_current"`
	OperatingPower   float64            `json:"operating_power"`
	DutyCycle        float64            `json:"duty_cycle"`
	LoadVoltage      float64            `json:"load_voltage"`
	LoadCurrent      float64            `json:"load_current"`
	LoadPower        float64            `json:"load_power"`
	Efficiency       float64            `json:"efficiency"`
	Status           string             `json:"status"`
	ConverterStatus  string             `json:"converter_status"`
	Locked           bool               `json:"locked"`
	Ticks            uint64             `json:"ticks"`
}

func toDTO(deviceID string, s simulator.Snapshot) snapshotDTO {
	r := s.Latest
	return snapshotDTO{
		DeviceID:         deviceID,
		Irradiance:       s.Environment.Irradiance,
		Temperature:      s.Environment.Temperature,
		Rows:             s.Config.Array.Rows,
		Cols:             s.Config.Array.Cols,
		Panel:            s.Config.Panel.Name,
		Algorithm:        s.Config.Algorithm,
		Topology:         s.Config.Topology,
		OperatingVoltage: r.OperatingVoltage,
		OperatingCurrent: r.OperatingCurrent,
		OperatingPower:   r.OperatingPower,
		DutyCycle:        r.DutyCycle,
		LoadVoltage:      r.LoadVoltage,
		LoadCurrent:      r.LoadCurrent,
		LoadPower:        r.LoadPower,
		Efficiency:       r.Efficiency(),
		Status:           r.Status,
		ConverterStatus:  r.ConverterStatus,
		Locked:           r.Locked,
		Ticks:            s.Ticks,
	}
}

type lockEventDTO struct {
	DeviceID  string         `json:"device_id"`
	Seq       uint64         `json:"seq"`
	Time      time.Time      `json:"time"`
	Algorithm mppt.Algorithm `json:"algorithm"`
	Voltage   float64        `json:"voltage"`
	Power     float64        `json:"power"`
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	// topic format: <base>/set/<field>
	t := msg.Topic()
	prefix := strings.TrimRight(c.cfg.BaseTopic, "/") + "/set/"
	if !strings.HasPrefix(t, prefix) {
		return
	}
	field := strings.TrimPrefix(t, prefix)

	if err := c.apply(field, msg.Payload()); err != nil {
		klog.V(2).InfoS("MQTT command rejected", "field", field, "err", err)
	}
}

func (c *Controller) apply(field string, payload []byte) error {
	// Dispatch by field
	switch field {
	case "irradiance":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return c.svc.SetIrradiance(v)

	case "temperature":
		v, err := decodeValueStrict[float64](payload)
		if err != nil {
			return err
		}
		return c.svc.SetTemperature(v)

	case "algorithm":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		a, err := mppt.ParseAlgorithm(s)
		if err != nil {
			return err
		}
		return c.svc.SetAlgorithm(a)

	case "topology":
		s, err := decodeValueStrict[string](payload)
		if err != nil {
			return err
		}
		tp, err := converter.ParseTopology(s)
		if err != nil {
			return err
		}
		return c.svc.SetTopology(tp)

	case "rows":
		v, err := decodeValueStrict[int](payload)
		if err != nil {
			return err
		}
		cur := c.svc.Get()
		c.svc.SetArray(v, cur.Config.Array.Cols)
		return nil

	case "cols":
		v, err := decodeValueStrict[int](payload)
		if err != nil {
			return err
		}
		cur := c.svc.Get()
		c.svc.SetArray(cur.Config.Array.Rows, v)
		return nil

	default:
		return fmt.Errorf("unknown field %q", field)
	}
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
