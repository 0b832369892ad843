package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// Client is the writer side of the real-time broadcast store. Current trip
// state lives in a JetStream key-value bucket keyed per bus; the rolling
// location feed is additionally published on plain subjects so riders can
// subscribe to movement without polling the bucket.
//
// The bucket is a mirror, not a system of record: every write here is
// best-effort and the durable store wins when they disagree.
type Client struct {
	nc      *nats.Conn
	kv      nats.KeyValue
	logKeys bool
	metrics Metrics
}

type Metrics interface {
	BroadcastWrittenInc()
	BroadcastWriteErrInc()
	WriteObserve(d time.Duration)
	SetConnected(connected bool)
}

func New(url, bucket string, logKeys bool, m Metrics) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("bus-tracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.SetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("key-value bucket %q: %w", bucket, err)
	}
	if m != nil {
		m.SetConnected(true)
	}
	return &Client{nc: nc, kv: kv, logKeys: logKeys, metrics: m}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Drain()
		c.nc.Close()
	}
}

// PutLocation mirrors the latest sample into the bucket and streams it on
// buses.{bus}.location for live subscribers.
func (c *Client) PutLocation(busNumber string, doc LocationDoc) error {
	key := fmt.Sprintf("buses.%s.location", keyToken(busNumber))
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := c.put(key, b); err != nil {
		return err
	}
	// Stream publish is secondary; the KV mirror already carries the state.
	if err := c.nc.Publish(key, b); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (c *Client) PutRouteMeta(busNumber string, doc RouteMetaDoc) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return c.put(fmt.Sprintf("buses.%s.meta", keyToken(busNumber)), b)
}

// PutRouteStartNotified writes the one-shot flag the notification dedupe
// gate keys on. The core only ever writes false (at trip start); the gate
// owns flipping it to true.
func (c *Client) PutRouteStartNotified(busNumber string, notified bool) error {
	b, err := json.Marshal(notified)
	if err != nil {
		return err
	}
	return c.put(fmt.Sprintf("buses.%s.meta.routeStartNotified", keyToken(busNumber)), b)
}

func (c *Client) PutRouteState(busNumber, state string) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.put(fmt.Sprintf("buses.%s.routeState", keyToken(busNumber)), b)
}

// PutStop writes one stop's projection under stops/{id} and mirrors it under
// stopsByName/{safeName}.
func (c *Client) PutStop(busNumber string, doc StopDoc) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	bus := keyToken(busNumber)
	if err := c.put(fmt.Sprintf("buses.%s.stops.%s", bus, keyToken(doc.ID)), b); err != nil {
		return err
	}
	return c.put(fmt.Sprintf("buses.%s.stopsByName.%s", bus, keyToken(doc.Name)), b)
}

// PutCurrentStop updates the denormalized current-stop pointer. A nil doc
// clears it (trip completed or cancelled).
func (c *Client) PutCurrentStop(busNumber string, doc *StopDoc) error {
	b, err := json.Marshal(doc) // nil marshals to "null"
	if err != nil {
		return err
	}
	return c.put(fmt.Sprintf("buses.%s.currentStop", keyToken(busNumber)), b)
}

func (c *Client) put(key string, value []byte) error {
	if c.logKeys {
		log.Printf("broadcast put key=%s", key)
	}
	start := time.Now()
	_, err := c.kv.Put(key, value)
	if c.metrics != nil {
		c.metrics.WriteObserve(time.Since(start))
		if err != nil {
			c.metrics.BroadcastWriteErrInc()
		} else {
			c.metrics.BroadcastWrittenInc()
		}
	}
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}
