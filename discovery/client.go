package discovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

type Result struct {
	Name   string
	Device string
	Pins   int
	Addr   string
}

func parseText(txt []string) (device string, pins int, ok bool) {
	var pinsStr string
	for _, m := range txt {
		kv := strings.SplitN(m, "=", 2)
		if len(kv) != 2 {
			continue
		}

		switch strings.ToLower(kv[0]) {
		case "device":
			device = kv[1]
		case "pins":
			pinsStr = kv[1]
		}
	}

	if device == "" || pinsStr == "" {
		return "", 0, false
	}

	pins, err := strconv.Atoi(pinsStr)
	if err != nil {
		return "", 0, false
	}
	return device, pins, true
}

func entryAddr(e *zeroconf.ServiceEntry) string {
	var addr string
	if len(e.AddrIPv4) > 0 {
		addr = e.AddrIPv4[0].String()
	} else if len(e.AddrIPv6) > 0 {
		addr = "[" + e.AddrIPv6[0].String() + "]"
	}
	return addr + fmt.Sprintf(":%d", e.Port)
}

// Find browses until the first server matching name is found or ctx ends.
// An empty name matches any server.
func Find(ctx context.Context, name string) (Result, error) {
	var result Result

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return result, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		return result, err
	}

	for e := range entries {
		if name != "" && e.Instance != name {
			continue
		}

		device, pins, ok := parseText(e.Text)
		if !ok {
			continue
		}

		return Result{
			Name:   e.Instance,
			Device: device,
			Pins:   pins,
			Addr:   entryAddr(e),
		}, nil
	}

	return result, errors.New("no results")
}
