// Package events publishes committed ticks so other processes can follow prices
// without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const TickSubject = "market.ticks"

type TickEvent struct {
	TickID  uuid.UUID            `json:"tick_id"`
	At      time.Time            `json:"at"`
	Changes []market.PriceChange `json:"changes"`
}

type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

func ConnectNATS(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("cryptobot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSPublisher(nc, TickSubject), nil
}

func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = TickSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

func (p *NATSPublisher) PublishTick(_ context.Context, ev TickEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

func DecodeTick(data []byte) (TickEvent, error) {
	var ev TickEvent
	err := json.Unmarshal(data, &ev)
	return ev, err
}
