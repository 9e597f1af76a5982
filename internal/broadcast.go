package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// 廣播層設計：
//   每個房間持有一個 Hub，房間內所有事件（成員變化、開局、倒數、
//   計分、聊天）經由 Hub 扇出到每條連接各自的 Subscription。
//
// 為什麼不直接對每條連接的發送通道寫入？
//   - 發布者（註冊表操作、計時器任務）不能被任何一條慢連接阻塞
//   - 每個訂閱者獨立緩衝，慢的只丟自己的舊事件，不影響別人
//   - Close 信號統一下發，房間銷毀時所有會話同步觀察到
//
// 語義：
//   - Subscribe 從「現在」開始接收，不補發歷史事件
//   - 每個訂閱者的緩衝上限為 subscriptionCapacity，滿了丟最舊的
//   - 丟失會被記帳，下一次接收先回報 LagError（含丟失數）再繼續
//   - Hub 關閉後，訂閱者把剩餘緩衝讀完才看到 ErrHubClosed

// subscriptionCapacity 單一訂閱者的事件緩衝上限
const subscriptionCapacity = 32

var (
	// ErrNoMessage 緩衝為空且 Hub 仍然開啟
	ErrNoMessage = errors.New("broadcast: no message available")

	// ErrHubClosed 緩衝已讀完且 Hub 已關閉
	ErrHubClosed = errors.New("broadcast: hub closed")
)

// LagError 訂閱者落後，Missed 條事件已被丟棄
//
// 收到後訂閱者可以繼續接收，落後計數已歸零。
type LagError struct {
	Missed int
}

func (e *LagError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, missed %d messages", e.Missed)
}

// Hub 單一房間的事件扇出中心
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub 創建廣播中心
func NewHub() *Hub {
	return &Hub{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscription 單一連接的事件接收端
type Subscription struct {
	hub *Hub

	mu      sync.Mutex
	queue   []ServerMsg
	dropped int
	closed  bool

	// ready 容量 1 的信號通道，有新事件或關閉時觸發。
	// 發送端非阻塞寫入，接收端每次醒來自行把緩衝讀空。
	ready chan struct{}
}

// Subscribe 註冊一個新訂閱者，從當前位置開始接收
//
// Hub 已關閉時返回的訂閱者立即處於關閉狀態。
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		hub:   h,
		ready: make(chan struct{}, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.closed = true
		sub.signal()
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish 向所有訂閱者扇出一條事件，永不阻塞
//
// 訂閱者緩衝已滿時丟棄其最舊的一條並記帳。
func (h *Hub) Publish(msg ServerMsg) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for sub := range h.subs {
		sub.push(msg)
	}
}

// Close 關閉 Hub，所有訂閱者讀完剩餘緩衝後觀察到 ErrHubClosed
//
// 可重複調用，第二次起無效果。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.close()
	}
	h.subs = nil
}

// Subscribers 當前訂閱者數量（統計用）
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Subscription) push(msg ServerMsg) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= subscriptionCapacity {
		// 丟最舊的，保持最新事件可達
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped++
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	s.signal()
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready 有事件待讀或已關閉時可讀的信號通道
//
// 每次收到信號後應循環調用 TryReceive 直到 ErrNoMessage，
// 信號會合併，一次喚醒可能對應多條事件。
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// TryReceive 非阻塞接收下一條事件
//
// 返回順序：先回報累積的落後（LagError），再交付緩衝中的事件，
// 緩衝讀完後依 Hub 狀態返回 ErrHubClosed 或 ErrNoMessage。
func (s *Subscription) TryReceive() (ServerMsg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		missed := s.dropped
		s.dropped = 0
		return nil, &LagError{Missed: missed}
	}
	if len(s.queue) > 0 {
		msg := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		return msg, nil
	}
	if s.closed {
		return nil, ErrHubClosed
	}
	return nil, ErrNoMessage
}

// Receive 阻塞接收下一條事件，直到有事件、Hub 關閉或 ctx 取消
func (s *Subscription) Receive(ctx context.Context) (ServerMsg, error) {
	for {
		msg, err := s.TryReceive()
		if !errors.Is(err, ErrNoMessage) {
			return msg, err
		}

		select {
		case <-s.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cancel 主動退訂，之後的 Publish 不再投遞給此訂閱者
func (s *Subscription) Cancel() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()

	s.close()
}
