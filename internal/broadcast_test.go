package internal_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/tileclear/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain 把訂閱讀到空為止，返回收到的事件
func drain(t *testing.T, sub *internal.Subscription) []internal.ServerMsg {
	t.Helper()

	var msgs []internal.ServerMsg
	for {
		msg, err := sub.TryReceive()
		if errors.Is(err, internal.ErrNoMessage) || errors.Is(err, internal.ErrHubClosed) {
			return msgs
		}
		var lag *internal.LagError
		if errors.As(err, &lag) {
			continue
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

// TestHub_PublishOrder 測試單一訂閱者按發布順序收到事件
func TestHub_PublishOrder(t *testing.T) {
	hub := internal.NewHub()
	sub := hub.Subscribe()

	for i := 0; i < 5; i++ {
		hub.Publish(internal.TimerTick{RemainingSecs: uint64(i)})
	}

	msgs := drain(t, sub)
	require.Len(t, msgs, 5)
	for i, msg := range msgs {
		tick, ok := msg.(internal.TimerTick)
		require.True(t, ok)
		assert.Equal(t, uint64(i), tick.RemainingSecs)
	}
}

// TestHub_SubscribeAtNow 測試訂閱者不補收歷史事件
func TestHub_SubscribeAtNow(t *testing.T) {
	hub := internal.NewHub()

	// 訂閱前發布的事件不可見
	hub.Publish(internal.TimerTick{RemainingSecs: 99})

	sub := hub.Subscribe()
	_, err := sub.TryReceive()
	assert.ErrorIs(t, err, internal.ErrNoMessage)

	// 訂閱後發布的事件可見
	hub.Publish(internal.TimerTick{RemainingSecs: 1})
	msg, err := sub.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, internal.TimerTick{RemainingSecs: 1}, msg)
}

// TestHub_SlowSubscriberLags 測試慢訂閱者丟最舊事件並回報落後
func TestHub_SlowSubscriberLags(t *testing.T) {
	hub := internal.NewHub()
	sub := hub.Subscribe()

	// 超出緩衝容量 32，最舊的 8 條被丟棄
	const total = 40
	for i := 0; i < total; i++ {
		hub.Publish(internal.TimerTick{RemainingSecs: uint64(i)})
	}

	// 第一次接收先回報落後
	_, err := sub.TryReceive()
	var lag *internal.LagError
	require.ErrorAs(t, err, &lag)
	assert.Equal(t, 8, lag.Missed)

	// 之後收到的是最新的 32 條，順序保持
	msgs := drain(t, sub)
	require.Len(t, msgs, 32)
	first, ok := msgs[0].(internal.TimerTick)
	require.True(t, ok)
	assert.Equal(t, uint64(8), first.RemainingSecs)
	last, ok := msgs[len(msgs)-1].(internal.TimerTick)
	require.True(t, ok)
	assert.Equal(t, uint64(total-1), last.RemainingSecs)

	// 落後計數已歸零，不再重複回報
	_, err = sub.TryReceive()
	assert.ErrorIs(t, err, internal.ErrNoMessage)
}

// TestHub_SlowSubscriberDoesNotAffectOthers 測試慢訂閱者不影響其他人
func TestHub_SlowSubscriberDoesNotAffectOthers(t *testing.T) {
	hub := internal.NewHub()
	slow := hub.Subscribe()
	fast := hub.Subscribe()

	for i := 0; i < 40; i++ {
		hub.Publish(internal.TimerTick{RemainingSecs: uint64(i)})
		// 快的訂閱者即時消費
		msg, err := fast.TryReceive()
		require.NoError(t, err)
		assert.Equal(t, internal.TimerTick{RemainingSecs: uint64(i)}, msg)
	}

	// 慢的自己落後
	_, err := slow.TryReceive()
	var lag *internal.LagError
	assert.ErrorAs(t, err, &lag)
}

// TestHub_Close 測試關閉語義
func TestHub_Close(t *testing.T) {
	tests := []struct {
		name     string
		scenario func(t *testing.T)
	}{
		{
			name: "close after drain returns closed",
			scenario: func(t *testing.T) {
				hub := internal.NewHub()
				sub := hub.Subscribe()
				hub.Close()

				_, err := sub.TryReceive()
				assert.ErrorIs(t, err, internal.ErrHubClosed)
			},
		},
		{
			name: "buffered messages delivered before closed",
			scenario: func(t *testing.T) {
				hub := internal.NewHub()
				sub := hub.Subscribe()
				hub.Publish(internal.TimerTick{RemainingSecs: 7})
				hub.Close()

				// 先讀完緩衝，再觀察到關閉
				msg, err := sub.TryReceive()
				require.NoError(t, err)
				assert.Equal(t, internal.TimerTick{RemainingSecs: 7}, msg)

				_, err = sub.TryReceive()
				assert.ErrorIs(t, err, internal.ErrHubClosed)
			},
		},
		{
			name: "subscribe after close is immediately closed",
			scenario: func(t *testing.T) {
				hub := internal.NewHub()
				hub.Close()

				sub := hub.Subscribe()
				_, err := sub.TryReceive()
				assert.ErrorIs(t, err, internal.ErrHubClosed)
			},
		},
		{
			name: "close is idempotent",
			scenario: func(t *testing.T) {
				hub := internal.NewHub()
				sub := hub.Subscribe()
				hub.Close()
				hub.Close()

				_, err := sub.TryReceive()
				assert.ErrorIs(t, err, internal.ErrHubClosed)
			},
		},
		{
			name: "publish after close is dropped",
			scenario: func(t *testing.T) {
				hub := internal.NewHub()
				sub := hub.Subscribe()
				hub.Close()
				hub.Publish(internal.TimerTick{RemainingSecs: 1})

				_, err := sub.TryReceive()
				assert.ErrorIs(t, err, internal.ErrHubClosed)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.scenario)
	}
}

// TestSubscription_Cancel 測試退訂後不再收到事件
func TestSubscription_Cancel(t *testing.T) {
	hub := internal.NewHub()
	sub := hub.Subscribe()
	other := hub.Subscribe()

	sub.Cancel()
	hub.Publish(internal.TimerTick{RemainingSecs: 1})

	// 退訂者觀察到關閉，其他人照常收事件
	_, err := sub.TryReceive()
	assert.ErrorIs(t, err, internal.ErrHubClosed)

	msg, err := other.TryReceive()
	require.NoError(t, err)
	assert.Equal(t, internal.TimerTick{RemainingSecs: 1}, msg)

	assert.Equal(t, 1, hub.Subscribers())
}

// TestSubscription_Receive 測試阻塞接收
func TestSubscription_Receive(t *testing.T) {
	t.Run("wakes up on publish", func(t *testing.T) {
		hub := internal.NewHub()
		sub := hub.Subscribe()

		go func() {
			time.Sleep(10 * time.Millisecond)
			hub.Publish(internal.TimerTick{RemainingSecs: 3})
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		msg, err := sub.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, internal.TimerTick{RemainingSecs: 3}, msg)
	})

	t.Run("context cancellation unblocks", func(t *testing.T) {
		hub := internal.NewHub()
		sub := hub.Subscribe()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := sub.Receive(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// TestHub_ConcurrentPublish 並發發布壓力測試
func TestHub_ConcurrentPublish(t *testing.T) {
	hub := internal.NewHub()

	const subscribers = 8
	subs := make([]*internal.Subscription, subscribers)
	for i := range subs {
		subs[i] = hub.Subscribe()
	}

	const publishers = 4
	const perPublisher = 100

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				hub.Publish(internal.ChatBroadcast{
					RoomID:  "room-1",
					Message: fmt.Sprintf("p%d-%d", p, i),
				})
			}
		}(p)
	}

	// 消費者併發讀，確保沒有 race 和丟失以外的異常
	done := make(chan int, subscribers)
	for _, sub := range subs {
		go func(sub *internal.Subscription) {
			received := 0
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for received < publishers*perPublisher {
				_, err := sub.Receive(ctx)
				if err != nil {
					var lag *internal.LagError
					if errors.As(err, &lag) {
						received += lag.Missed
						continue
					}
					break
				}
				received++
			}
			done <- received
		}(sub)
	}

	wg.Wait()
	for i := 0; i < subscribers; i++ {
		// 收到 + 丟棄的總數必須等於發布總數，事件不會憑空消失
		assert.Equal(t, publishers*perPublisher, <-done)
	}
}
