// Package discovery advertises a pin server over mDNS and finds advertised
// servers on the local network.
package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

const (
	ServiceType = "_pinface._tcp"
	domain      = "local."

	addrPollInterval = 250 * time.Millisecond
	recordTTL        = 60
)

// Advertiser publishes one pin server. The TXT record carries the expander
// device and the number of pins, and follows SetPins while running.
type Advertiser struct {
	name   string
	port   int
	device string
	pins   int

	addr   net.IP
	server *zeroconf.Server
}

// NewAdvertiser prepares an advertisement for a server on port exposing
// pins pins of the expander at device.
func NewAdvertiser(name string, port int, device string, pins int) *Advertiser {
	if name == "" {
		name = "pinserver"
	}

	return &Advertiser{name: name, port: port, device: device, pins: pins}
}

func (a *Advertiser) text() []string {
	return []string{"txtvers=1", "device=" + a.device, "pins=" + strconv.Itoa(a.pins)}
}

// SetPins updates the advertised pin count.
func (a *Advertiser) SetPins(n int) {
	a.pins = n
	if a.server != nil {
		a.server.SetText(a.text())
	}
}

// firstIPv4 returns the first IPv4 address in addrs, or nil.
func firstIPv4(addrs []net.Addr) net.IP {
	for _, m := range addrs {
		if n, ok := m.(*net.IPNet); ok {
			if ip := n.IP.To4(); ip != nil {
				return ip
			}
		}
	}
	return nil
}

// waitIPv4 returns the IPv4 address of iface once it has one. Interfaces
// brought up together with the server may take a while to get a lease.
func waitIPv4(ctx context.Context, iface *net.Interface) (net.IP, error) {
	ticker := time.NewTicker(addrPollInterval)
	defer ticker.Stop()

	for {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, errors.Wrapf(err, "addresses of %s", iface.Name)
		}
		if ip := firstIPv4(addrs); ip != nil {
			return ip, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "no IPv4 address on %s", iface.Name)
		case <-ticker.C:
		}
	}
}

// Start registers the service on ifaceName, waiting up to maxWaitIP for the
// interface to get an IPv4 address. A running advertisement is replaced.
func (a *Advertiser) Start(ifaceName string, maxWaitIP time.Duration) error {
	a.Stop()

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), maxWaitIP)
	ip, err := waitIPv4(ctx, iface)
	cancel()
	if err != nil {
		return err
	}

	server, err := zeroconf.RegisterProxy(a.name, ServiceType, domain, a.port, a.name,
		[]string{ip.String()}, a.text(), []net.Interface{*iface})
	if err != nil {
		return errors.Wrap(err, "register "+ServiceType)
	}
	server.TTL(recordTTL)

	a.addr = ip
	a.server = server
	return nil
}

func (a *Advertiser) Stop() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.addr = nil
}

// CurrentAddress is the advertised host:port, empty while stopped.
func (a *Advertiser) CurrentAddress() string {
	if a.addr == nil {
		return ""
	}
	return net.JoinHostPort(a.addr.String(), strconv.Itoa(a.port))
}

func (a *Advertiser) String() string {
	return a.name + "." + ServiceType + "." + domain
}
