package sensor

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// ErrBacklogOverflow is reported through OnFrameError when the oldest unread
// frame is discarded to make room for a new one.
var ErrBacklogOverflow = errors.New("sensor backlog full, oldest frame dropped")

// DefaultBacklog holds a little over a quarter second of frames at the
// sensor's fastest rate.
const DefaultBacklog = 256

// Device is the interface the rest of the system uses to talk to a
// rangefinder.
type Device interface {
	// ReadDistance takes the oldest unread reading. ok is false when every
	// decoded frame has been read.
	ReadDistance() (distanceCM int, ok bool)
	// Latest returns the most recent reading, read or not.
	Latest() (Reading, bool)
	// Subscribe creates a channel receiving a text line per decoded frame.
	// The channel ID is used to identify the channel when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes a raw command frame to the sensor.
	SendCommand([]byte) error
	// Initialise configures the output format and frame rate.
	Initialise(frameRateHz int) error
	// Monitor decodes frames from the port until ctx is done or the port
	// fails.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches sensor debugging endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// Driver decodes TFmini-S frames from a serial port and queues them in
// arrival order for the polling loop to pull.
type Driver[T SerialPorter] struct {
	port T

	latestMu sync.Mutex
	latest   Reading
	hasAny   bool
	backlog  []Reading
	capacity int

	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex

	// OnFrameError is called for every corrupt frame. It must not block.
	OnFrameError func(error)
}

// NewDriver creates a Driver reading from port.
func NewDriver[T SerialPorter](port T) *Driver[T] {
	return &Driver[T]{
		port:        port,
		capacity:    DefaultBacklog,
		subscribers: make(map[string]chan string),
	}
}

// SetBacklog changes how many unread frames are kept. Values below one are
// ignored.
func (d *Driver[T]) SetBacklog(n int) {
	if n < 1 {
		return
	}
	d.latestMu.Lock()
	defer d.latestMu.Unlock()
	d.capacity = n
	if over := len(d.backlog) - n; over > 0 {
		d.backlog = append(d.backlog[:0], d.backlog[over:]...)
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (d *Driver[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, 16)
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	d.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the driver.
func (d *Driver[T]) Unsubscribe(id string) {
	d.subscriberMu.Lock()
	defer d.subscriberMu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// ReadDistance implements sampler.Source.
func (d *Driver[T]) ReadDistance() (int, bool) {
	d.latestMu.Lock()
	defer d.latestMu.Unlock()
	if len(d.backlog) == 0 {
		return 0, false
	}
	r := d.backlog[0]
	d.backlog[0] = Reading{}
	d.backlog = d.backlog[1:]
	return r.DistanceCM, true
}

// Latest returns the most recent reading regardless of whether it was read.
func (d *Driver[T]) Latest() (Reading, bool) {
	d.latestMu.Lock()
	defer d.latestMu.Unlock()
	return d.latest, d.hasAny
}

// store queues r. It reports false when the backlog was full and the oldest
// frame was dropped.
func (d *Driver[T]) store(r Reading) bool {
	d.latestMu.Lock()
	defer d.latestMu.Unlock()
	d.latest = r
	d.hasAny = true
	dropped := false
	if len(d.backlog) >= d.capacity {
		d.backlog = append(d.backlog[:0], d.backlog[len(d.backlog)-d.capacity+1:]...)
		dropped = true
	}
	d.backlog = append(d.backlog, r)
	return !dropped
}

// Initialise puts the sensor in centimeter output at frameRateHz and enables
// output. Settings are not saved to flash.
func (d *Driver[T]) Initialise(frameRateHz int) error {
	for _, command := range InitCommands(frameRateHz) {
		if err := d.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send init command % X: %w", command, err)
		}
		// the sensor needs a moment between configuration frames
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// SendCommand writes a command frame to the serial port.
func (d *Driver[T]) SendCommand(command []byte) error {
	d.commandMu.Lock()
	defer d.commandMu.Unlock()
	n, err := d.port.Write(command)
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads frames from the serial port, queues them for ReadDistance
// and copies a text line to every subscriber.
func (d *Driver[T]) Monitor(ctx context.Context) error {
	frames := NewFrameReader(d.port)

	readingChan := make(chan Reading)
	readErrChan := make(chan error, 1)

	// the blocking reads happen in their own goroutine so the loop below can
	// still observe ctx cancellation.
	go func() {
		defer close(readingChan)
		for {
			r, err := frames.Next()
			if errors.Is(err, ErrChecksum) || errors.Is(err, ErrHeader) {
				if d.OnFrameError != nil {
					d.OnFrameError(err)
				}
				continue
			}
			if err != nil {
				select {
				case readErrChan <- err:
				case <-ctx.Done():
				}
				return
			}
			select {
			case readingChan <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err

		case r, ok := <-readingChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if errors.Is(err, io.EOF) {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			d.closingMu.Lock()
			if d.closing {
				d.closingMu.Unlock()
				return nil
			}
			d.closingMu.Unlock()

			if !d.store(r) && d.OnFrameError != nil {
				d.OnFrameError(ErrBacklogOverflow)
			}

			line := r.String()
			d.subscriberMu.Lock()
			for _, ch := range d.subscribers {
				select {
				case ch <- line:
				default:
					// a slow subscriber misses lines rather than stalling the sensor
				}
			}
			d.subscriberMu.Unlock()
		}
	}
}

func (d *Driver[T]) Close() error {
	d.closingMu.Lock()
	if d.closing {
		d.closingMu.Unlock()
		return nil
	}
	d.closing = true
	d.closingMu.Unlock()

	d.subscriberMu.Lock()
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.subscriberMu.Unlock()
	return d.port.Close()
}
