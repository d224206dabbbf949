package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BertoldVdb/PiFaceGPIO/hostpin"
	"github.com/BertoldVdb/PiFaceGPIO/pin"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// flakyPin fails writes once broken is set.
type flakyPin struct {
	gpiotest.Pin
	broken bool
}

func (f *flakyPin) Out(l gpio.Level) error {
	f.Lock()
	broken := f.broken
	f.Unlock()

	if broken {
		return errors.New("line busy")
	}
	return f.Pin.Out(l)
}

func (f *flakyPin) setBroken(b bool) {
	f.Lock()
	f.broken = b
	f.Unlock()
}

type fixture struct {
	api    *API
	server *httptest.Server
	relay  *hostpin.Pin
	button *hostpin.Pin
	raw    *flakyPin
	input  *gpiotest.Pin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		raw:   &flakyPin{Pin: gpiotest.Pin{N: "GPIO17"}},
		input: &gpiotest.Pin{N: "GPIO4"},
	}

	out := pin.ModeOutput
	var err error
	if f.relay, err = hostpin.New(f.raw, 17, &hostpin.Options{Mode: &out}); err != nil {
		t.Fatal(err)
	}
	if f.button, err = hostpin.New(f.input, 4, nil); err != nil {
		t.Fatal(err)
	}

	f.api, err = New(map[string]pin.DigitalPin{"relay": f.relay, "button": f.button})
	if err != nil {
		t.Fatal(err)
	}
	f.server = httptest.NewServer(f.api)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, out interface{}) int {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestListPins(t *testing.T) {
	f := newFixture(t)

	var pins []PinInfo
	if code := f.do(t, "GET", "/pins", "", &pins); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(pins) != 2 || pins[0].Name != "button" || pins[1].Name != "relay" {
		t.Fatalf("pins=%+v", pins)
	}
	if pins[1].Mode != "output" || pins[1].Address != 17 || pins[1].State {
		t.Fatalf("relay=%+v", pins[1])
	}

	if code := f.do(t, "POST", "/pins", "", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", code)
	}
}

func TestWriteAndEvents(t *testing.T) {
	f := newFixture(t)

	var info PinInfo
	if code := f.do(t, "POST", "/pins/relay/write", `{"state":true}`, &info); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if !info.State {
		t.Fatalf("info=%+v", info)
	}
	if f.raw.Read() != gpio.High {
		t.Fatalf("line not driven")
	}

	if code := f.do(t, "POST", "/pins/relay/pulse", `{"ms":1}`, nil); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}

	var events []Event
	if code := f.do(t, "GET", "/pins/relay/events", "", &events); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	// Pulsing a high output drives it low at the end.
	if len(events) != 2 || !events[0].Current || events[1].Current || events[1].Seq != 2 {
		t.Fatalf("events=%+v", events)
	}

	if code := f.do(t, "GET", "/pins/relay/events?after=1", "", &events); code != http.StatusOK || len(events) != 1 {
		t.Fatalf("status %d events=%+v", code, events)
	}
	if code := f.do(t, "GET", "/pins/relay/events?after=x", "", nil); code != http.StatusBadRequest {
		t.Fatalf("status %d", code)
	}
}

func TestInputEvents(t *testing.T) {
	f := newFixture(t)

	f.input.Lock()
	f.input.L = gpio.High
	f.input.Unlock()

	var info PinInfo
	if code := f.do(t, "GET", "/pins/button", "", &info); code != http.StatusOK || !info.State {
		t.Fatalf("status %d info=%+v", code, info)
	}

	var events []Event
	f.do(t, "GET", "/pins/button/events", "", &events)
	if len(events) != 1 || events[0].Address != 4 || !events[0].Current {
		t.Fatalf("events=%+v", events)
	}
}

func TestEventBacklog(t *testing.T) {
	e := &entry{}
	for i := 0; i < EventBacklog+10; i++ {
		e.record(pin.StateChangeEvent{Current: i%2 == 0})
	}

	events := e.since(0)
	if len(events) != EventBacklog || events[0].Seq != 11 {
		t.Fatalf("len=%d first=%d", len(events), events[0].Seq)
	}
}

func TestErrorStatus(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		method, path, body string
		code               int
	}{
		{"GET", "/pins/missing", "", http.StatusNotFound},
		{"GET", "/pins/relay/unknown", "", http.StatusNotFound},
		{"GET", "/pins/relay/write", "", http.StatusMethodNotAllowed},
		{"POST", "/pins/relay/write", "{", http.StatusBadRequest},
		{"POST", "/pins/relay/pulse", `{"ms":-1}`, http.StatusBadRequest},
		{"POST", "/pins/button/write", `{"state":true}`, http.StatusConflict},
		{"POST", "/pins/button/pulse", `{"ms":1}`, http.StatusConflict},
	}
	for _, c := range cases {
		if code := f.do(t, c.method, c.path, c.body, nil); code != c.code {
			t.Fatalf("%s %s: status %d, want %d", c.method, c.path, code, c.code)
		}
	}

	f.raw.setBroken(true)
	if code := f.do(t, "POST", "/pins/relay/write", `{"state":true}`, nil); code != http.StatusBadGateway {
		t.Fatalf("status %d", code)
	}
	f.raw.setBroken(false)

	f.relay.Dispose()
	if code := f.do(t, "GET", "/pins/relay", "", nil); code != http.StatusGone {
		t.Fatalf("status %d", code)
	}
}

func TestInvalidName(t *testing.T) {
	raw := &gpiotest.Pin{N: "GPIO1"}
	p, err := hostpin.New(raw, 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := New(map[string]pin.DigitalPin{"a/b": p}); err == nil {
		t.Fatalf("name with slash accepted")
	}
}
