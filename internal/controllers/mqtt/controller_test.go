package mqttctrl

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
	"github.com/Agrid-Dev/pvmocktat/internal/testutil"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct {
	err  error
	done chan struct{}
}

func (t fakeToken) Done() <-chan struct{} {
	if t.done == nil {
		t.done = make(chan struct{})
		close(t.done)
	}
	return t.done
}

func (t fakeToken) Wait() bool                       { return true }
func (t fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t fakeToken) Error() error                     { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	publishes []publishCall
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return fakeToken{} }
func (c *fakeClient) Disconnect(_ uint)      {}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = append([]byte(nil), v...)
	case string:
		b = []byte(v)
	default:
		tmp, _ := json.Marshal(v)
		b = tmp
	}
	c.publishes = append(c.publishes, publishCall{
		topic: topic, qos: qos, retain: retained, payload: b,
	})
	return fakeToken{}
}
func (c *fakeClient) Subscribe(_ string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) Unsubscribe(_ ...string) mqtt.Token       { return fakeToken{} }
func (c *fakeClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader  { return mqtt.ClientOptionsReader{} }

// ---- tests ----
func newDefaultSvc() *testutil.FakeSimulatorService {
	return testutil.NewFakeSimulatorService()
}

func newConnected(t *testing.T, svc *testutil.FakeSimulatorService, cfg Config) (*Controller, *fakeClient) {
	t.Helper()
	c, err := New(svc, cfg)
	if err != nil {
		t.Fatal(err)
	}
	fc := &fakeClient{}
	c.client = fc
	return c, fc
}

func TestNewDefaults(t *testing.T) {
	svc := newDefaultSvc()
	c, err := New(svc, Config{DeviceID: "roof1"})
	if err != nil {
		t.Fatal(err)
	}

	if c.cfg.BrokerURL != "tcp://localhost:1883" {
		t.Fatalf("expected default BrokerURL, got %q", c.cfg.BrokerURL)
	}
	if c.cfg.BaseTopic != "pvmocktat/roof1" {
		t.Fatalf("expected default BaseTopic, got %q", c.cfg.BaseTopic)
	}
	if c.cfg.ClientID != "pvmocktat-roof1" {
		t.Fatalf("expected default ClientID, got %q", c.cfg.ClientID)
	}
	if c.cfg.PublishInterval != 1*time.Second {
		t.Fatalf("expected default PublishInterval, got %v", c.cfg.PublishInterval)
	}
}

func TestNewValidation(t *testing.T) {
	svc := newDefaultSvc()

	if _, err := New(svc, Config{}); err == nil {
		t.Fatal("expected error when DeviceID missing")
	}

	if _, err := New(svc, Config{DeviceID: "x", QoS: 2}); err == nil {
		t.Fatal("expected error when QoS > 1")
	}
}

func TestTopicJoin(t *testing.T) {
	svc := newDefaultSvc()
	c, err := New(svc, Config{DeviceID: "roof1", BaseTopic: "pvmocktat/roof1/"})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.topic("snapshot"); got != "pvmocktat/roof1/snapshot" {
		t.Fatalf("expected topic without double slashes, got %q", got)
	}
}

func TestDecodeValueStrict(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v, err := decodeValueStrict[float64]([]byte(`{"value": 812.5}`))
		if err != nil {
			t.Fatal(err)
		}
		if v != 812.5 {
			t.Fatalf("expected 812.5, got %v", v)
		}
	})

	t.Run("missing value", func(t *testing.T) {
		_, err := decodeValueStrict[int]([]byte(`{}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := decodeValueStrict[string]([]byte(`{"value":"pno","extra":1}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := decodeValueStrict[string]([]byte(`{"value":`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("fractional rows rejected", func(t *testing.T) {
		_, err := decodeValueStrict[int]([]byte(`{"value":2.5}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestOnMessage_IgnoresWrongPrefix(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newConnected(t, svc, Config{DeviceID: "roof1"})

	c.onMessage(nil, fakeMessage{
		topic:   "otherprefix/set/irradiance",
		payload: []byte(`{"value":500}`),
	})

	if svc.SetIrradianceCalled {
		t.Fatal("expected SetIrradiance not called")
	}
}

func TestOnMessage_Commands(t *testing.T) {
	cases := []struct {
		name    string
		field   string
		payload string
		check   func(t *testing.T, svc *testutil.FakeSimulatorService)
	}{
		{"irradiance", "irradiance", `{"value":640}`, func(t *testing.T, svc *testutil.FakeSimulatorService) {
			if !svc.SetIrradianceCalled || svc.SetIrradianceArg != 640 {
				t.Fatalf("expected SetIrradiance(640), got called=%v arg=%v", svc.SetIrradianceCalled, svc.SetIrradianceArg)
			}
		}},
		{"temperature", "temperature", `{"value":-5.5}`, func(t *testing.T, svc *testutil.FakeSimulatorService) {
			if !svc.SetTemperatureCalled || svc.SetTemperatureArg != -5.5 {
				t.Fatalf("expected SetTemperature(-5.5), got called=%v arg=%v", svc.SetTemperatureCalled, svc.SetTemperatureArg)
			}
		}},
		{"algorithm", "algorithm", `{"value":"inccond"}`, func(t *testing.T, svc *testutil.FakeSimulatorService) {
			if !svc.SetAlgorithmCalled || svc.SetAlgorithmArg != mppt.IncrementalConductance {
				t.Fatalf("expected SetAlgorithm(IncCond), got called=%v arg=%v", svc.SetAlgorithmCalled, svc.SetAlgorithmArg)
			}
		}},
		{"topology", "topology", `{"value":"boost"}`, func(t *testing.T, svc *testutil.FakeSimulatorService) {
			if !svc.SetTopologyCalled || svc.SetTopologyArg != converter.TopologyBoost {
				t.Fatalf("expected SetTopology(Boost), got called=%v arg=%v", svc.SetTopologyCalled, svc.SetTopologyArg)
			}
		}},
		{"rows keeps cols", "rows", `{"value":4}`, func(t *testing.T, svc *testutil.FakeSimulatorService) {
			if !svc.SetArrayCalled || svc.SetArrayRows != 4 || svc.SetArrayCols != 2 {
				t.Fatalf("expected SetArray(4,2), got called=%v rows=%v cols=%v", svc.SetArrayCalled, svc.SetArrayRows, svc.SetArrayCols)
			}
		}},
		{"cols keeps rows", "cols", `{"value":3}`, func(t *testing.T, svc *testutil.FakeSimulatorService) {
			if !svc.SetArrayCalled || svc.SetArrayRows != 2 || svc.SetArrayCols != 3 {
				t.Fatalf("expected SetArray(2,3), got called=%v rows=%v cols=%v", svc.SetArrayCalled, svc.SetArrayRows, svc.SetArrayCols)
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newDefaultSvc()
			c, _ := newConnected(t, svc, Config{DeviceID: "roof1"})
			c.onMessage(nil, fakeMessage{
				topic:   "pvmocktat/roof1/set/" + tc.field,
				payload: []byte(tc.payload),
			})
			tc.check(t, svc)
		})
	}
}

func TestOnMessage_AlgorithmInvalid_DoesNotCallService(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newConnected(t, svc, Config{DeviceID: "roof1"})

	c.onMessage(nil, fakeMessage{
		topic:   "pvmocktat/roof1/set/algorithm",
		payload: []byte(`{"value":"weird"}`),
	})

	if svc.SetAlgorithmCalled {
		t.Fatal("expected SetAlgorithm not called")
	}
}

func TestOnMessage_TopologyInvalid_DoesNotCallService(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newConnected(t, svc, Config{DeviceID: "roof1"})

	c.onMessage(nil, fakeMessage{
		topic:   "pvmocktat/roof1/set/topology",
		payload: []byte(`{"value":"flyback"}`),
	})

	if svc.SetTopologyCalled {
		t.Fatal("expected SetTopology not called")
	}
}

func TestApply_UnknownField(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := newConnected(t, svc, Config{DeviceID: "roof1"})

	if err := c.apply("panel", []byte(`{"value":"x"}`)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestPublishSnapshot_PublishesJSON(t *testing.T) {
	svc := newDefaultSvc()
	c, fc := newConnected(t, svc, Config{DeviceID: "roof1", QoS: 1, RetainSnapshot: true})

	c.publishSnapshot()

	if len(fc.publishes) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fc.publishes))
	}

	p := fc.publishes[0]
	if p.topic != "pvmocktat/roof1/snapshot" {
		t.Fatalf("expected snapshot topic, got %q", p.topic)
	}
	if p.qos != 1 || p.retain != true {
		t.Fatalf("expected qos=1 retain=true, got qos=%d retain=%v", p.qos, p.retain)
	}

	var got map[string]any
	if err := json.Unmarshal(p.payload, &got); err != nil {
		t.Fatalf("invalid published json: %v payload=%s", err, string(p.payload))
	}
	if got["algorithm"] != "pno" {
		t.Fatalf("expected algorithm=pno, got %v", got["algorithm"])
	}
	if got["topology"] != "buck" {
		t.Fatalf("expected topology=buck, got %v", got["topology"])
	}
	if got["panel"] != pv.DefaultPanelName {
		t.Fatalf("expected panel=%s, got %v", pv.DefaultPanelName, got["panel"])
	}
	if got["locked"] != true {
		t.Fatalf("expected locked=true, got %v", got["locked"])
	}
}

func TestPublishSnapshot_NotConnected(t *testing.T) {
	svc := newDefaultSvc()
	c, err := New(svc, Config{DeviceID: "roof1"})
	if err != nil {
		t.Fatal(err)
	}
	if s := c.publishSnapshot(); s.Ticks != svc.S.Ticks {
		t.Fatalf("expected snapshot returned while disconnected")
	}
}

func TestOnTick_PublishesLockEdgeOnly(t *testing.T) {
	svc := newDefaultSvc()
	c, fc := newConnected(t, svc, Config{DeviceID: "roof1"})

	c.OnTick(simulator.TickResult{Seq: 66, Locked: true})
	if len(fc.publishes) != 0 {
		t.Fatalf("expected no publish without lock edge, got %d", len(fc.publishes))
	}

	c.OnTick(simulator.TickResult{
		Seq: 67, Locked: true, LockAcquired: true,
		Algorithm: mppt.PerturbObserve, OperatingVoltage: 74.9, OperatingPower: 1262.4,
	})
	if len(fc.publishes) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fc.publishes))
	}
	p := fc.publishes[0]
	if p.topic != "pvmocktat/roof1/events/lock" || p.retain {
		t.Fatalf("unexpected publish topic=%q retain=%v", p.topic, p.retain)
	}
	var got map[string]any
	if err := json.Unmarshal(p.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got["seq"] != float64(67) || got["algorithm"] != "pno" || got["voltage"] != 74.9 {
		t.Fatalf("unexpected lock payload %v", got)
	}
}

// Service errors are logged and swallowed.
func TestOnMessage_ServiceError_IsIgnored(t *testing.T) {
	svc := newDefaultSvc()
	svc.SetIrradianceErr = errors.New("boom")
	c, _ := newConnected(t, svc, Config{DeviceID: "roof1"})
	c.onMessage(nil, fakeMessage{
		topic:   "pvmocktat/roof1/set/irradiance",
		payload: []byte(`{"value":25}`),
	})

	if !svc.SetIrradianceCalled {
		t.Fatal("expected SetIrradiance called")
	}
}
