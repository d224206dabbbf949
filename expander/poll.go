package expander

import (
	"sync/atomic"
	"time"

	"github.com/BertoldVdb/PiFaceGPIO/pin"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
)

const pollBackoffMax = time.Second

func (d *Device) polling() bool {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()
	return d.pollStop != nil
}

func (d *Device) startPoll() error {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	if d.pollStop != nil {
		return errors.Wrap(pin.ErrInvalidOperation, "poll loop already running")
	}
	d.startPollLocked()
	return nil
}

func (d *Device) startPollLocked() {
	stop := make(chan struct{})
	d.pollStop = stop
	d.pollWG.Add(1)
	go d.pollWorker(stop)

	d.log("Interrupt polling started")
}

// stopPoll requests the loop to stop without waiting for it. shutdown waits
// on pollWG before releasing the bus.
func (d *Device) stopPoll() {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()
	d.stopPollLocked()
}

func (d *Device) stopPollLocked() {
	if d.pollStop == nil {
		return
	}
	close(d.pollStop)
	d.pollStop = nil

	d.log("Interrupt polling stopped")
}

// setPolling starts or stops the loop if it is not in the wanted state.
// Callers hold stateMu so the decision and the change are not reordered.
func (d *Device) setPolling(on bool) {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	if on == (d.pollStop != nil) {
		return
	}
	if on {
		d.startPollLocked()
	} else {
		d.stopPollLocked()
	}
}

func (d *Device) pollWorker(stop chan struct{}) {
	defer d.pollWG.Done()

	b := &backoff.Backoff{
		Min:    d.pollInterval,
		Max:    pollBackoffMax,
		Factor: 2,
		Jitter: false,
	}

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		delay := d.pollInterval
		if err := d.pollOnce(); err != nil {
			n := atomic.AddUint64(&d.pollErrors, 1)
			delay = b.Duration()
			d.log("Interrupt poll failed (%d), retrying in %v: %v", n, delay, err)

			if d.onPollError != nil {
				d.onPollError(err)
			}
		} else {
			b.Reset()
		}

		timer.Reset(delay)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// pollOnce checks the interrupt flags of every port with input pins and
// reports the flagged bits whose value differs from the shadow.
func (d *Device) pollOnce() error {
	defer d.flush()

	for i, r := range ports {
		p := Port(i)

		d.stateMu.Lock()
		inputs := d.ports[p].IntEnable
		d.stateMu.Unlock()

		if inputs == 0 {
			continue
		}

		flags, err := d.readRegister(r.intf)
		if err != nil {
			return err
		}
		if flags&inputs == 0 {
			continue
		}

		d.stateMu.Lock()
		v, err := d.readRegister(r.gpio)
		if err != nil {
			d.stateMu.Unlock()
			return err
		}
		d.refreshPort(p, v, flags&d.ports[p].IntEnable)
		d.stateMu.Unlock()
	}

	return nil
}
