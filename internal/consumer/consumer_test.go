package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	args := m.Called(ctx, stream, group, start)
	cmd := redis.NewStatusCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal("OK")
	}
	return cmd
}

func (m *MockStreamClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	args := m.Called(ctx, a)
	cmd := redis.NewXStreamSliceCmd(ctx)
	if err := args.Error(1); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	if v := args.Get(0); v != nil {
		cmd.SetVal(v.([]redis.XStream))
	}
	return cmd
}

func (m *MockStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	args := m.Called(ctx, stream, group, ids)
	cmd := redis.NewIntCmd(ctx)
	if err := args.Error(0); err != nil {
		cmd.SetErr(err)
	} else {
		cmd.SetVal(int64(len(ids)))
	}
	return cmd
}

func intPtr(n int) *int { return &n }

func levelMessage(t *testing.T, id, productID string, qty *int) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"type": stockLevelChecked,
		"payload": map[string]interface{}{
			"product_id":         productID,
			"title":              "O Cortiço",
			"available_quantity": qty,
			"is_available":       qty != nil && *qty > 0,
			"outcome":            "in_stock",
			"checked_at":         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	})
	require.NoError(t, err)

	return redis.XMessage{
		ID: id,
		Values: map[string]interface{}{
			"event_type": stockLevelChecked,
			"data":       string(data),
		},
	}
}

func TestTracker_Observe(t *testing.T) {
	tracker := NewTracker()

	_, ok := tracker.Observe(Level{ProductID: "177776045", AvailableQuantity: intPtr(4)})
	assert.False(t, ok, "first sighting has no previous level")

	_, ok = tracker.Observe(Level{ProductID: "177776045", AvailableQuantity: intPtr(4)})
	assert.False(t, ok)

	tr, ok := tracker.Observe(Level{ProductID: "177776045", AvailableQuantity: intPtr(0)})
	require.True(t, ok)
	assert.Equal(t, SoldOut, tr.Kind)
	assert.Equal(t, 4, tr.Previous)
	assert.Equal(t, 0, tr.Current)

	_, ok = tracker.Observe(Level{ProductID: "177776045"})
	assert.False(t, ok, "unknown quantity is ignored")

	tr, ok = tracker.Observe(Level{ProductID: "177776045", AvailableQuantity: intPtr(12)})
	require.True(t, ok)
	assert.Equal(t, Restocked, tr.Kind)

	tr, ok = tracker.Observe(Level{ProductID: "177776045", AvailableQuantity: intPtr(7)})
	require.True(t, ok)
	assert.Equal(t, Changed, tr.Kind)
}

func TestConsumer_PollNotifiesTransitions(t *testing.T) {
	client := new(MockStreamClient)
	var got []Transition
	c := New(client, Config{}, func(tr Transition) { got = append(got, tr) }, slog.Default())

	client.On("XReadGroup", mock.Anything, mock.MatchedBy(func(a *redis.XReadGroupArgs) bool {
		return a.Group == "stock-consumer-group" && a.Streams[0] == "stream:stock_levels"
	})).Return([]redis.XStream{{
		Stream: "stream:stock_levels",
		Messages: []redis.XMessage{
			levelMessage(t, "1-0", "177776045", intPtr(3)),
			levelMessage(t, "2-0", "177776045", intPtr(0)),
		},
	}}, nil).Once()
	client.On("XAck", mock.Anything, "stream:stock_levels", "stock-consumer-group", mock.Anything).Return(nil)

	acked, err := c.poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, acked)
	require.Len(t, got, 1)
	assert.Equal(t, SoldOut, got[0].Kind)
	assert.Equal(t, "O Cortiço", got[0].Title)
	client.AssertNumberOfCalls(t, "XAck", 2)
}

func TestConsumer_PollSkipsBadMessages(t *testing.T) {
	client := new(MockStreamClient)
	c := New(client, Config{}, nil, slog.Default())

	client.On("XReadGroup", mock.Anything, mock.Anything).Return([]redis.XStream{{
		Stream: "stream:stock_levels",
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"event_type": stockLevelChecked, "data": "{"}},
			{ID: "2-0", Values: map[string]interface{}{"event_type": stockLevelChecked}},
			{ID: "3-0", Values: map[string]interface{}{"event_type": "SOMETHING_ELSE"}},
		},
	}}, nil).Once()
	client.On("XAck", mock.Anything, "stream:stock_levels", "stock-consumer-group", []string{"3-0"}).Return(nil)

	acked, err := c.poll(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, acked, "unrelated events are acknowledged, broken ones stay pending")
	client.AssertExpectations(t)
}

func TestConsumer_PollNoMessages(t *testing.T) {
	client := new(MockStreamClient)
	c := New(client, Config{}, nil, slog.Default())

	client.On("XReadGroup", mock.Anything, mock.Anything).Return(nil, redis.Nil).Once()

	acked, err := c.poll(context.Background())

	require.NoError(t, err)
	assert.Zero(t, acked)
}

func TestConsumer_RunGroupCreateFails(t *testing.T) {
	client := new(MockStreamClient)
	c := New(client, Config{}, nil, slog.Default())

	client.On("XGroupCreateMkStream", mock.Anything, "stream:stock_levels", "stock-consumer-group", "0").
		Return(errors.New("connection refused"))

	err := c.Run(context.Background())

	assert.ErrorContains(t, err, "create consumer group")
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	client := new(MockStreamClient)
	c := New(client, Config{Block: 10 * time.Millisecond}, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())

	client.On("XGroupCreateMkStream", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("BUSYGROUP Consumer Group name already exists"))
	client.On("XReadGroup", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, redis.Nil)

	err := c.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}
