package events

import (
	"os"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/futureproathletes/timing-gates/internal/broadcast"
	"github.com/futureproathletes/timing-gates/internal/gate"
	"github.com/futureproathletes/timing-gates/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func subscribe(t *testing.T, url, subject string) chan *nats.Msg {
	t.Helper()
	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	t.Cleanup(nc.Close)

	ch := make(chan *nats.Msg, 16)
	if _, err := nc.ChanSubscribe(subject, ch); err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return ch
}

func receive(t *testing.T, ch chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
		return nil
	}
}

func TestNATSPublisher_Subjects(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	if got := pub.Subject(broadcast.TypeDistance); got != "gate.distance" {
		t.Errorf("distance subject = %q", got)
	}
	for _, typ := range []string{broadcast.TypeHello, broadcast.TypeStart, broadcast.TypeFinish, broadcast.TypeReset} {
		if got := pub.Subject(typ); got != "gate.events" {
			t.Errorf("%s subject = %q, want gate.events", typ, got)
		}
	}
	if got := pub.CommandSubject(); got != "gate.commands" {
		t.Errorf("command subject = %q", got)
	}
}

func TestNATSPublisher_AsHubEndpoint(t *testing.T) {
	url := startTestNATS(t)
	events := subscribe(t, url, "lane1.events")
	distances := subscribe(t, url, "lane1.distance")

	pub, err := NewNATSPublisher(url, "lane1")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}

	hello, err := broadcast.EncodeHello(broadcast.Hello{SessionID: "s1", PresenceThresholdCM: 100})
	if err != nil {
		t.Fatal(err)
	}
	hub := broadcast.NewHub(hello)
	defer hub.Close()

	if _, err := hub.Join("nats", pub); err != nil {
		t.Fatalf("join: %v", err)
	}

	hub.BroadcastDistance(gate.Sample{DistanceCM: 150, CapturedAtMs: 1040})
	hub.BroadcastEvent(gate.Event{Kind: gate.Start, AtMs: 1040})

	if msg := receive(t, events); string(msg.Data) != string(hello.Data) {
		t.Errorf("first event = %s, want hello", msg.Data)
	}
	if msg := receive(t, distances); string(msg.Data) != `{"type":"distance","distance":150,"unit":"cm","ts":1040}` {
		t.Errorf("distance = %s", msg.Data)
	}
	if msg := receive(t, events); string(msg.Data) != `{"type":"start","ts":1040}` {
		t.Errorf("event = %s", msg.Data)
	}
}

func TestNATSPublisher_Commands(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "gate")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	got := make(chan broadcast.ClientMessage, 2)
	if err := pub.SubscribeCommands(func(m broadcast.ClientMessage) { got <- m }); err != nil {
		t.Fatalf("SubscribeCommands: %v", err)
	}

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer nc.Close()
	_ = nc.Publish("gate.commands", []byte(`garbage`))
	_ = nc.Publish("gate.commands", []byte(`{"type":"reset"}`))
	_ = nc.Flush()

	select {
	case m := <-got:
		if m.Type != broadcast.TypeReset {
			t.Errorf("command = %q, want reset", m.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}
}

func TestNATSPublisher_CloseEndsEndpoint(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url, "gate")
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := pub.WriteFrame(broadcast.Frame{Type: broadcast.TypeStart, Data: []byte(`{}`)}); err == nil {
		t.Error("WriteFrame on a closed connection should fail so the hub drops the endpoint")
	}
}

func TestNewNATSPublisher_BadURL(t *testing.T) {
	if _, err := NewNATSPublisher("nats://127.0.0.1:1", "gate", nats.Timeout(200*time.Millisecond)); err == nil {
		t.Error("expected connection error")
	}
}
