package api

import (
	"encoding/json"
	"errors"
	"io"
	"io/ioutil"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BertoldVdb/PiFaceGPIO/pin"
)

const (
	ctJSON string = "application/json"

	// EventBacklog is the number of events kept per pin.
	EventBacklog = 64

	maxBody    = 4096
	maxPulseMs = 10000
)

type PinInfo struct {
	Name    string `json:"name"`
	Address int    `json:"address"`
	Mode    string `json:"mode"`
	State   bool   `json:"state"`
}

type Event struct {
	Seq      uint64 `json:"seq"`
	Address  int    `json:"address"`
	Previous bool   `json:"previous"`
	Current  bool   `json:"current"`
}

type WriteRequest struct {
	State bool `json:"state"`
}

type PulseRequest struct {
	Ms int `json:"ms"`
}

type entry struct {
	name   string
	pin    pin.DigitalPin
	handle pin.ListenerHandle

	mu     sync.Mutex
	seq    uint64
	events []Event
}

func (e *entry) record(ev pin.StateChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	e.events = append(e.events, Event{
		Seq:      e.seq,
		Address:  int(ev.Address),
		Previous: bool(ev.Previous),
		Current:  bool(ev.Current),
	})
	if len(e.events) > EventBacklog {
		e.events = append(e.events[:0:0], e.events[len(e.events)-EventBacklog:]...)
	}
}

func (e *entry) since(after uint64) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := []Event{}
	for _, ev := range e.events {
		if ev.Seq > after {
			result = append(result, ev)
		}
	}
	return result
}

type API struct {
	mux   *http.ServeMux
	pins  map[string]*entry
	names []string
}

// New exposes pins under their map keys and starts recording their events.
func New(pins map[string]pin.DigitalPin) (*API, error) {
	s := &API{
		mux:  &http.ServeMux{},
		pins: make(map[string]*entry, len(pins)),
	}

	for name, p := range pins {
		if name == "" || strings.Contains(name, "/") {
			s.Close()
			return nil, errors.New("invalid pin name: " + strconv.Quote(name))
		}

		e := &entry{name: name, pin: p}
		e.handle = p.AddListener(e.record)
		s.pins[name] = e
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)

	s.mux.HandleFunc("/pins", s.listHandler)
	s.mux.HandleFunc("/pins/", s.pinHandler)

	return s, nil
}

// Close stops recording events. The pins themselves are not disposed.
func (s *API) Close() error {
	for _, e := range s.pins {
		e.pin.RemoveListener(e.handle)
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pin.ErrDisposed):
		return http.StatusGone
	case errors.Is(err, pin.ErrInvalidOperation):
		return http.StatusConflict
	case errors.Is(err, pin.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pin.ErrIO):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func sendError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ctJSON)
	w.Write(data)
}

func readJSON(r *http.Request, v interface{}) error {
	data, err := ioutil.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (e *entry) info() (PinInfo, error) {
	s, err := e.pin.State()
	if err != nil {
		return PinInfo{}, err
	}

	return PinInfo{
		Name:    e.name,
		Address: int(e.pin.Address()),
		Mode:    e.pin.Mode().String(),
		State:   bool(s),
	}, nil
}

func (s *API) listHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	result := make([]PinInfo, 0, len(s.names))
	for _, name := range s.names {
		info, err := s.pins[name].info()
		if err != nil {
			sendError(w, err)
			return
		}
		result = append(result, info)
	}

	sendJSON(w, result)
}

func (s *API) pinHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/pins/"), "/")
	if len(parts) > 2 {
		http.NotFound(w, r)
		return
	}

	e, ok := s.pins[parts[0]]
	if !ok {
		http.NotFound(w, r)
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.infoHandler(w, r, e)
	case "write":
		s.writeHandler(w, r, e)
	case "pulse":
		s.pulseHandler(w, r, e)
	case "events":
		s.eventsHandler(w, r, e)
	default:
		http.NotFound(w, r)
	}
}

func (s *API) infoHandler(w http.ResponseWriter, r *http.Request, e *entry) {
	if r.Method != "GET" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	sendInfo(w, e)
}

func (s *API) writeHandler(w http.ResponseWriter, r *http.Request, e *entry) {
	if r.Method != "POST" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	var req WriteRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := e.pin.Write(pin.State(req.State)); err != nil {
		sendError(w, err)
		return
	}
	sendInfo(w, e)
}

func (s *API) pulseHandler(w http.ResponseWriter, r *http.Request, e *entry) {
	if r.Method != "POST" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	var req PulseRequest
	if err := readJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Ms < 0 || req.Ms > maxPulseMs {
		http.Error(w, "Invalid pulse duration", http.StatusBadRequest)
		return
	}

	if err := e.pin.Pulse(time.Duration(req.Ms) * time.Millisecond); err != nil {
		sendError(w, err)
		return
	}
	sendInfo(w, e)
}

func sendInfo(w http.ResponseWriter, e *entry) {
	info, err := e.info()
	if err != nil {
		sendError(w, err)
		return
	}
	sendJSON(w, info)
}

func (s *API) eventsHandler(w http.ResponseWriter, r *http.Request, e *entry) {
	if r.Method != "GET" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		var err error
		after, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid sequence number", http.StatusBadRequest)
			return
		}
	}

	sendJSON(w, e.since(after))
}

func (s *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
