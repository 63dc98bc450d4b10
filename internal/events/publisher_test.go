package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cryptobot/internal/market"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTick(t *testing.T) {
	ev := TickEvent{
		TickID: uuid.New(),
		At:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Changes: []market.PriceChange{
			{AssetID: 1, Tag: "ABC", Old: decimal.NewFromInt(100), New: decimal.NewFromInt(93)},
		},
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	got, err := DecodeTick(data)
	require.NoError(t, err)
	assert.Equal(t, ev.TickID, got.TickID)
	assert.True(t, ev.At.Equal(got.At))
	require.Len(t, got.Changes, 1)
	assert.True(t, got.Changes[0].New.Equal(decimal.NewFromInt(93)))

	_, err = DecodeTick([]byte("{"))
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByTag(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)
	ev := TickEvent{
		TickID: uuid.New(),
		At:     time.Now().UTC(),
		Changes: []market.PriceChange{
			{AssetID: 1, Tag: "ABC", Old: decimal.NewFromInt(100), New: decimal.NewFromInt(101)},
			{AssetID: 2, Tag: "XYZ", Old: decimal.NewFromInt(5), New: decimal.NewFromInt(1)},
		},
	}
	require.NoError(t, p.PublishTick(context.Background(), ev))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "XYZ", string(w.msgs[1].Key))

	var got PriceUpdate
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, ev.TickID.String(), got.TickID)
	assert.True(t, got.New.Equal(decimal.NewFromInt(101)))

	require.NoError(t, p.PublishTick(context.Background(), TickEvent{}))
	assert.Len(t, w.msgs, 2)
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) PublishTick(context.Context, TickEvent) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutReachesEveryPublisher(t *testing.T) {
	bad := &failingPublisher{}
	w := &fakeWriter{}
	f := Fanout{bad, NewKafkaPublisher(w)}

	err := f.PublishTick(context.Background(), TickEvent{Changes: []market.PriceChange{{Tag: "ABC"}}})
	assert.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, w.msgs, 1)
}
