package pinclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/BertoldVdb/PiFaceGPIO/pinserver/api"
)

type PinClient struct {
	client http.Client
	url    string

	user, pass string
}

// StatusError is returned for every non 200 response.
type StatusError struct {
	Code    int
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request error %s", e.Status)
	}
	return fmt.Sprintf("request error %s: %s", e.Status, e.Message)
}

func New(url string) (*PinClient, error) {
	c := &PinClient{
		client: http.Client{
			Timeout: 30 * time.Second,
		},

		url: url,
	}

	if _, err := c.Pins(); err != nil {
		return nil, err
	}

	return c, nil
}

// NewWithAuth is New for servers started with an API key.
func NewWithAuth(url string, user string, pass string) (*PinClient, error) {
	c := &PinClient{
		client: http.Client{
			Timeout: 30 * time.Second,
		},

		url:  url,
		user: user,
		pass: pass,
	}

	if _, err := c.Pins(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *PinClient) doReq(endpoint string, body interface{}, result interface{}) error {
	var rdr io.Reader
	t := "GET"

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewBuffer(data)
		t = "POST"
	}

	req, err := http.NewRequest(t, c.url+"/"+endpoint, rdr)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := ioutil.ReadAll(io.LimitReader(resp.Body, 65536))
	if err != nil {
		return err
	}

	if resp.StatusCode != 200 {
		return &StatusError{
			Code:    resp.StatusCode,
			Status:  resp.Status,
			Message: string(bytes.TrimSpace(data)),
		}
	}

	return json.Unmarshal(data, result)
}

func pinPath(name string) string {
	return "pins/" + url.PathEscape(name)
}

func (c *PinClient) Pins() ([]api.PinInfo, error) {
	var result []api.PinInfo
	err := c.doReq("pins", nil, &result)
	return result, err
}

func (c *PinClient) Pin(name string) (api.PinInfo, error) {
	var result api.PinInfo
	err := c.doReq(pinPath(name), nil, &result)
	return result, err
}

func (c *PinClient) Write(name string, state bool) (api.PinInfo, error) {
	var result api.PinInfo
	err := c.doReq(pinPath(name)+"/write", &api.WriteRequest{State: state}, &result)
	return result, err
}

func (c *PinClient) Pulse(name string, d time.Duration) (api.PinInfo, error) {
	var result api.PinInfo
	err := c.doReq(pinPath(name)+"/pulse", &api.PulseRequest{Ms: int(d / time.Millisecond)}, &result)
	return result, err
}

// Events returns the buffered events of a pin with a sequence number above
// after.
func (c *PinClient) Events(name string, after uint64) ([]api.Event, error) {
	var result []api.Event
	err := c.doReq(pinPath(name)+"/events?after="+strconv.FormatUint(after, 10), nil, &result)
	return result, err
}

func (c *PinClient) Close() error {
	return nil
}
