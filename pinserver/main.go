package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/BertoldVdb/PiFaceGPIO/discovery"
	"github.com/BertoldVdb/PiFaceGPIO/expander"
	"github.com/BertoldVdb/PiFaceGPIO/hostpin"
	"github.com/BertoldVdb/PiFaceGPIO/pin"
	"github.com/BertoldVdb/PiFaceGPIO/pinfactory"
	"github.com/BertoldVdb/PiFaceGPIO/pinopen"
	"github.com/BertoldVdb/PiFaceGPIO/pinserver/api"
	"github.com/BertoldVdb/go-misc/httplog"
	"go.uber.org/multierr"
)

// pathList collects repeated name=path flags.
type pathList []string

func (p *pathList) String() string { return strings.Join(*p, ",") }

func (p *pathList) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected name=path, got %q", v)
	}
	*p = append(*p, v)
	return nil
}

func busPath(path string, speed int64) (string, error) {
	cfg, err := pinopen.ParseBusPath(path)
	if err != nil {
		return "", err
	}
	if speed <= 0 {
		return path, nil
	}
	return fmt.Sprintf("platform:%s:%d", cfg.Port, speed), nil
}

func main() {
	apiKey := flag.String("apikey", "", "API key to use")
	address := flag.String("addr", ":8067", "Address to listen on")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	bus := flag.String("bus", "platform:"+pinopen.DefaultSPIPort, "Expander SPI bus, empty to disable")
	hwAddr := flag.Int("device", 0, "Expander hardware address (0-3)")
	speed := flag.Int64("speed", 0, "SPI clock in Hz, 0 to use the bus setting")
	poll := flag.Duration("poll", expander.DefaultPollInterval, "Input poll interval")
	iface := flag.String("iface", "", "Interface to advertise the server on")
	name := flag.String("name", "pinserver", "Advertised service name")

	var hostIn, hostOut pathList
	flag.Var(&hostIn, "hostin", "Host input pin as name=path, may be repeated")
	flag.Var(&hostOut, "hostout", "Host output pin as name=path, may be repeated")

	flag.Parse()

	if *apiKey != "" {
		expiry := time.Now().AddDate(10, 0, 0)
		for _, scope := range []authScope{scopeRead, scopeControl} {
			user, pass := authCalculate(*apiKey, scope, *name, expiry)
			log.Printf("Password for %s access, username '%s': %s", scope, user, pass)
		}
	}

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	logOut := log.Printf
	if !*verbose {
		logOut = nil
	}

	pins := make(map[string]pin.DigitalPin)
	var closers []func() error
	defer func() {
		var err error
		for _, p := range pins {
			err = multierr.Append(err, p.Dispose())
		}
		for _, c := range closers {
			err = multierr.Append(err, c())
		}
		if err != nil {
			log.Println("Shutdown:", err)
		}
	}()

	device, err := expander.HardwareAddress(*hwAddr)
	if err != nil {
		log.Println(err)
		return
	}

	if *bus != "" {
		path, err := busPath(*bus, *speed)
		if err != nil {
			log.Println(err)
			return
		}

		log.Printf("Initializing expander %s on '%s':", device, path)

		f := &pinfactory.Factory{
			Open:         pinopen.BusOpener(path),
			Device:       device,
			PollInterval: *poll,
			LogFunc:      logOut,
			OnPollError: func(err error) {
				log.Println(" -> Poll failed:", err)
			},
		}

		for i := 0; i < pin.PortWidth; i++ {
			n := "out" + strconv.Itoa(i)
			p, err := f.CreateOutputPin(pinfactory.PiFaceOutput(i), n)
			if err != nil {
				log.Printf(" -> Failed to open %s: %v", n, err)
				return
			}
			pins[n] = p

			n = "in" + strconv.Itoa(i)
			p, err = f.CreateInputPin(pinfactory.PiFaceInput(i), n)
			if err != nil {
				log.Printf(" -> Failed to open %s: %v", n, err)
				return
			}
			pins[n] = p
		}
		log.Printf(" -> %d pins ready", 2*pin.PortWidth)
	}

	hostAddr := pin.Address(2000)
	for _, m := range []struct {
		list pathList
		mode pin.Mode
	}{{hostIn, pin.ModeInput}, {hostOut, pin.ModeOutput}} {
		for _, arg := range m.list {
			kv := strings.SplitN(arg, "=", 2)
			if _, ok := pins[kv[0]]; ok {
				log.Printf("Duplicate pin name '%s'", kv[0])
				return
			}

			raw, err := pinopen.OpenRawPin(kv[1], logOut)
			if err != nil {
				log.Printf("Failed to open '%s': %v", kv[1], err)
				return
			}
			closers = append(closers, raw.Close)

			mode := m.mode
			p, err := hostpin.New(raw, hostAddr, &hostpin.Options{Name: kv[0], Mode: &mode, LogFunc: logOut})
			if err != nil {
				log.Printf("Failed to configure '%s': %v", kv[1], err)
				return
			}
			hostAddr++

			log.Printf("Host pin '%s' ready on %s as %s", kv[0], raw.Name(), mode)
			pins[kv[0]] = p
		}
	}

	if len(pins) == 0 {
		log.Println("No pins available")
		return
	}

	pinAPI, err := api.New(pins)
	if err != nil {
		log.Println(err)
		return
	}
	defer pinAPI.Close()

	var mux http.ServeMux
	mux.Handle("/", pinAPI)

	logger := httplog.HTTPLog{
		LogOut:     log.Printf,
		ServerName: "PiFaceGPIO",
	}

	server := &http.Server{
		Addr:    *address,
		Handler: logger.GetHandler(authProcess(mux.ServeHTTP, *apiKey)),

		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
	}

	if *iface != "" {
		_, portStr, err := net.SplitHostPort(*address)
		if err != nil {
			log.Println(err)
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Println(err)
			return
		}

		adv := discovery.NewAdvertiser(*name, port, device.String(), len(pins))
		if err := adv.Start(*iface, 30*time.Second); err != nil {
			log.Println("Failed to advertise:", err)
		} else {
			log.Printf("Advertising %s on %s", discovery.ServiceType, adv.CurrentAddress())
			defer adv.Stop()
		}
	}

	go func() {
		log.Printf("Starting server on: http://%s", *address)
		log.Println("Server stopped:", server.ListenAndServe())

		select {
		case closeChan <- nil:
		default:
		}
	}()

	<-closeChan
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	server.Shutdown(ctx)
	cancel()
}
