// Package ble implements the link transport on top of the system's
// Bluetooth adapter. Everything console-specific lives here: the vendor
// service and its write/notify characteristics.
package ble

import (
	"context"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"codeberg.org/mutker/treadlink/internal/errors"
	"codeberg.org/mutker/treadlink/internal/link"
	"codeberg.org/mutker/treadlink/internal/logger"
)

const ErrAdapter errors.ErrorCode = "ble_adapter_failed"

var (
	serviceUUID = bluetooth.New16BitUUID(0xFFF0)
	notifyUUID  = bluetooth.New16BitUUID(0xFFF1)
	writeUUID   = bluetooth.New16BitUUID(0xFFF2)
)

type Transport struct {
	adapter *bluetooth.Adapter

	mu    sync.Mutex
	addrs map[string]bluetooth.Address
	conns map[string]*conn
}

func NewTransport() (*Transport, error) {
	t := &Transport{
		adapter: bluetooth.DefaultAdapter,
		addrs:   map[string]bluetooth.Address{},
		conns:   map[string]*conn{},
	}

	if err := t.adapter.Enable(); err != nil {
		return nil, errors.New().Wrap(ErrAdapter, err)
	}

	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		t.mu.Lock()
		c := t.conns[device.Address.String()]
		delete(t.conns, device.Address.String())
		t.mu.Unlock()
		if c != nil {
			c.dropped()
		}
	})

	return t, nil
}

func (t *Transport) Scan(ctx context.Context) (<-chan link.Advertisement, error) {
	ch := make(chan link.Advertisement, 16)

	go func() {
		<-ctx.Done()
		if err := t.adapter.StopScan(); err != nil {
			logger.Debug().Err(err).Msg("StopScan failed")
		}
	}()

	go func() {
		defer close(ch)
		err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			id := result.Address.String()
			t.mu.Lock()
			t.addrs[id] = result.Address
			t.mu.Unlock()

			select {
			case ch <- link.Advertisement{ID: id, Name: result.LocalName()}:
			default:
			}
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("Scan aborted")
		}
	}()

	return ch, nil
}

func (t *Transport) Connect(ctx context.Context, id string) (link.Conn, error) {
	errFactory := errors.New()

	t.mu.Lock()
	addr, ok := t.addrs[id]
	t.mu.Unlock()
	if !ok {
		return nil, errFactory.WithData(link.ErrDeviceNotFound, id)
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return nil, errFactory.Wrap(link.ErrConnectFailed, err)
	}

	c, err := newConn(device)
	if err != nil {
		device.Disconnect()
		return nil, err
	}

	t.mu.Lock()
	t.conns[id] = c
	t.mu.Unlock()

	return c, nil
}

type conn struct {
	device bluetooth.Device
	write  bluetooth.DeviceCharacteristic

	mu     sync.Mutex
	closed bool
	notify chan []byte
}

func newConn(device bluetooth.Device) (*conn, error) {
	errFactory := errors.New()

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		return nil, errFactory.Wrap(link.ErrHandshake, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{notifyUUID, writeUUID})
	if err != nil || len(chars) < 2 {
		return nil, errFactory.Wrap(link.ErrHandshake, err)
	}

	c := &conn{
		device: device,
		write:  chars[1],
		notify: make(chan []byte, 64),
	}

	err = chars[0].EnableNotifications(func(buf []byte) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return
		}
		select {
		case c.notify <- append([]byte(nil), buf...):
		default:
			logger.Debug().Msg("Notification buffer full, dropping")
		}
	})
	if err != nil {
		return nil, errFactory.Wrap(link.ErrHandshake, err)
	}

	return c, nil
}

func (c *conn) Write(cmd []byte) error {
	if _, err := c.write.WriteWithoutResponse(cmd); err != nil {
		return errors.New().Wrap(link.ErrConnectionLost, err)
	}

	return nil
}

func (c *conn) Notifications() <-chan []byte {
	return c.notify
}

func (c *conn) Close() error {
	c.dropped()

	return c.device.Disconnect()
}

func (c *conn) dropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.notify)
	}
}
