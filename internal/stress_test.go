package internal_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/koopa0/tileclear/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStress_ConcurrentRooms 併發房間生命週期壓力測試
//
// 每個房間獨立走完整流程：創建、加入、準備、開局、計分、全員離開。
// 驗證兩級鎖下房間之間互不干擾，結束後註冊表乾淨。
func TestStress_ConcurrentRooms(t *testing.T) {
	reg, _ := newTestRegistry(t)

	const rooms = 20
	const joiners = 3

	var wg sync.WaitGroup
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			ownerID := fmt.Sprintf("owner-%d", i)
			roomID, _, _, _ := reg.CreateRoom(mkPlayer(ownerID, fmt.Sprintf("房主%d", i)))

			ids := []string{ownerID}
			for j := 0; j < joiners; j++ {
				pid := fmt.Sprintf("p-%d-%d", i, j)
				_, _, _, _, err := reg.JoinRoom(roomID, mkPlayer(pid, fmt.Sprintf("玩家%d-%d", i, j)))
				require.NoError(t, err)
				require.NoError(t, reg.ReadyUp(roomID, pid, true))
				ids = append(ids, pid)
			}

			require.NoError(t, reg.StartGame(roomID, ownerID))

			for turn := uint32(1); turn <= 5; turn++ {
				for _, pid := range ids {
					require.NoError(t, reg.ReportScore(roomID, pid, 2, turn))
				}
			}

			for _, pid := range ids {
				reg.LeaveRoom(roomID, pid)
			}
		}(i)
	}
	wg.Wait()

	stats := reg.Stats()
	assert.Equal(t, 0, stats.Rooms, "全員離開後不應殘留房間")
	assert.Equal(t, 0, stats.Players)
}

// TestStress_SingleRoomChurn 單一房間的併發進出與計分
//
// 多個 goroutine 對同一房間同時加入、計分、離開，
// 驗證房間鎖下三個 map 的鍵集合不變量不被破壞。
func TestStress_SingleRoomChurn(t *testing.T) {
	reg, _ := newTestRegistry(t)
	roomID, _, _, _ := reg.CreateRoom(mkPlayer("anchor", "常駐"))

	const workers = 16
	const iterations = 30

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()

			for i := 0; i < iterations; i++ {
				pid := fmt.Sprintf("w%d-i%d", w, i)
				_, _, _, _, err := reg.JoinRoom(roomID, mkPlayer(pid, "過客"))
				if err != nil {
					// 房間可能在掃尾競態中剛好被銷毀，屬正常
					continue
				}
				_ = reg.ReportScore(roomID, pid, 1, uint32(i))
				_ = reg.PostChat(roomID, pid, "路過")
				reg.LeaveRoom(roomID, pid)
			}
		}(w)
	}
	wg.Wait()

	// 常駐玩家還在，房間只剩它一人
	stats := reg.Stats()
	assert.Equal(t, 1, stats.Rooms)
	assert.Equal(t, 1, stats.Players)
}

// TestStress_BroadcastUnderLoad 廣播層在持續發布下的吞吐與守恆
func TestStress_BroadcastUnderLoad(t *testing.T) {
	reg, _ := newTestRegistry(t)
	roomID, _, sub, _ := reg.CreateRoom(mkPlayer("p1", "甲"))

	const updates = 500

	go func() {
		for i := 0; i < updates; i++ {
			_ = reg.ReportScore(roomID, "p1", 1, uint32(i))
		}
	}()

	// 持續消費，收到的最後一張分數表必須是 500 分
	deadline := time.After(5 * time.Second)
	var last internal.LeaderboardUpdate
	for last.Scores == nil || last.Scores[0].Score < updates {
		select {
		case <-deadline:
			t.Fatalf("5 秒內未收斂到最終分數表，目前 %+v", last)
		case <-sub.Ready():
			msgs := drain(t, sub)
			for _, m := range msgs {
				if lb, ok := m.(internal.LeaderboardUpdate); ok {
					last = lb
				}
			}
		}
	}

	require.Len(t, last.Scores, 1)
	assert.Equal(t, uint32(updates), last.Scores[0].Score)
}
