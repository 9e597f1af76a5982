package internal

import (
	"context"
	"sort"
	"sync"
)

// 系統設計問題：
//   如何管理消除遊戲房間的生命週期，處理並發操作，並實時同步狀態？
//
// 核心挑戰：
//   1. 並發控制：多個玩家同時操作（加入、準備、計分、離開）
//   2. 實時通信：任何變更需要立即廣播給房間內所有連接
//   3. 回合管理：倒數計時器可被重開局或房間銷毀取消
//   4. 資源回收：最後一人離開時房間必須立即銷毀
//
// 設計方案：
//   ✅ 每房一把 Mutex - 鎖粒度縮小到單一房間，房間之間互不阻塞
//   ✅ 每房一個 Hub - 廣播扇出與業務邏輯解耦，發布永不阻塞
//   ✅ context 取消 - 計時器生命週期綁定回合
//
// 鎖序約定：先註冊表、後房間，絕不反向。
// Hub.Publish 不取房間鎖，所以持房間鎖時發布是安全的，
// 這保證了「廣播順序 = 狀態變更順序」。

// Room 遊戲房間
//
// 不變量：players、scores、turns 三個 map 的鍵集合永遠相等。
// 任何加入/離開都同步維護三者。
type Room struct {
	ID string

	mu      sync.Mutex
	players map[string]*Player
	scores  map[string]uint32
	turns   map[string]uint32
	ownerID string
	board   Board

	hub *Hub

	// cancelRound 當前回合計時器的取消函數，無回合進行時為 nil
	cancelRound context.CancelFunc
}

// NewRoom 以 owner 為首位成員創建房間
//
// 創建者自動成為房主。調用方（註冊表）負責把房間放入表中。
func NewRoom(id string, owner Player) *Room {
	r := &Room{
		ID:      id,
		players: make(map[string]*Player),
		scores:  make(map[string]uint32),
		turns:   make(map[string]uint32),
		ownerID: owner.ID,
		hub:     NewHub(),
	}
	p := owner
	r.players[owner.ID] = &p
	r.scores[owner.ID] = 0
	r.turns[owner.ID] = 0
	return r
}

// Subscribe 訂閱房間廣播，不發布任何事件
//
// 創建流程專用：創建者的確認訊息由會話直接發送，不走廣播。
func (r *Room) Subscribe() *Subscription {
	return r.hub.Subscribe()
}

// Join 加入玩家並廣播最新成員列表
//
// 訂閱發生在廣播之前（同一鎖區間內），
// 因此加入者保證能收到包含自己的那次 RoomPlayersUpdate。
func (r *Room) Join(p Player) (*Subscription, []Player, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[p.ID]; exists {
		return nil, nil, "", ErrAlreadyInRoom
	}

	cp := p
	r.players[p.ID] = &cp
	r.scores[p.ID] = 0
	r.turns[p.ID] = 0

	sub := r.hub.Subscribe()

	players := r.playerListLocked()
	r.hub.Publish(RoomPlayersUpdate{
		RoomID:  r.ID,
		Players: players,
		OwnerID: r.ownerID,
	})
	return sub, players, r.ownerID, nil
}

// SetReady 切換準備狀態並廣播最新成員列表
func (r *Room) SetReady(playerID string, ready bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.players[playerID]
	if !exists {
		return ErrNotInRoom
	}
	p.Ready = ready

	r.hub.Publish(RoomPlayersUpdate{
		RoomID:  r.ID,
		Players: r.playerListLocked(),
		OwnerID: r.ownerID,
	})
	return nil
}

// StartRound 開始新回合
//
// 只有房主可以開始，且房主以外的所有玩家必須已準備
// （房主自己不需要準備，開局動作即表態）。
//
// 開局在同一鎖區間內完成：
//   1. 取消上一回合的計時器（重開局場景）
//   2. 換上新棋盤，所有分數與回合數歸零
//   3. 清除所有人的準備狀態（下一回合需重新準備）
//   4. 先廣播 RoomPlayersUpdate 再廣播 GameStarted，
//      客戶端先看到準備狀態被清除，再收到開局
//
// 返回綁定本回合的 context，調用方用它驅動計時器任務；
// 再次開局或房間銷毀都會取消它。
func (r *Room) StartRound(callerID string, board Board, durationSecs uint64) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if callerID != r.ownerID {
		return nil, ErrNotOwner
	}
	for _, p := range r.players {
		if p.ID != r.ownerID && !p.Ready {
			return nil, ErrPlayersNotReady
		}
	}

	if r.cancelRound != nil {
		r.cancelRound()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancelRound = cancel

	r.board = board
	for id := range r.players {
		r.scores[id] = 0
		r.turns[id] = 0
	}
	for _, p := range r.players {
		p.Ready = false
	}

	r.hub.Publish(RoomPlayersUpdate{
		RoomID:  r.ID,
		Players: r.playerListLocked(),
		OwnerID: r.ownerID,
	})
	r.hub.Publish(GameStarted{
		RoomID:       r.ID,
		Board:        board,
		DurationSecs: durationSecs,
	})
	return ctx, nil
}

// RecordScore 累加玩家分數並廣播完整分數表
//
// 分數是累加的（cleared 是本次消除的格數），
// turn 是客戶端自報的回合序號，直接覆寫。
func (r *Room) RecordScore(playerID string, cleared, turn uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[playerID]; !exists {
		return ErrNotInRoom
	}
	r.scores[playerID] += cleared
	r.turns[playerID] = turn

	r.hub.Publish(LeaderboardUpdate{
		RoomID: r.ID,
		Scores: r.scoreListLocked(),
	})
	return nil
}

// Chat 廣播聊天訊息，攜帶發送者當前的完整公開資訊
func (r *Room) Chat(playerID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.players[playerID]
	if !exists {
		return ErrNotInRoom
	}
	r.hub.Publish(ChatBroadcast{
		RoomID:  r.ID,
		Player:  *p,
		Message: message,
	})
	return nil
}

// Leave 移除玩家
//
// 返回移除後房間是否已空。空房間的計時器在此取消，
// Hub 關閉與表中刪除由註冊表完成（需要註冊表寫鎖）。
//
// 房主離開且房間非空時，任選一名剩餘玩家接任
// （map 迭代順序，不保證是誰），並隨成員列表一起廣播。
func (r *Room) Leave(playerID string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[playerID]; !exists {
		return false
	}
	delete(r.players, playerID)
	delete(r.scores, playerID)
	delete(r.turns, playerID)

	if len(r.players) == 0 {
		if r.cancelRound != nil {
			r.cancelRound()
			r.cancelRound = nil
		}
		return true
	}

	if r.ownerID == playerID {
		for id := range r.players {
			r.ownerID = id
			break
		}
	}

	r.hub.Publish(RoomPlayersUpdate{
		RoomID:  r.ID,
		Players: r.playerListLocked(),
		OwnerID: r.ownerID,
	})
	return false
}

// FinishRound 回合結束時的收尾
//
// ctx 是 StartRound 返回的回合 context。若它已被取消
// （重開局或房間已空），本次收尾作廢，返回 ok=false。
// 否則快照所有在房玩家的 (最終分數, 名字) 並清除計時器句柄。
//
// 只做快照不碰排行榜，排行榜的鎖由調用方在釋放房間鎖之後再取，
// 兩把鎖永不同時持有。
func (r *Room) FinishRound(ctx context.Context) ([]TopScore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx.Err() != nil {
		return nil, false
	}
	r.cancelRound = nil

	finals := make([]TopScore, 0, len(r.players))
	for id, p := range r.players {
		finals = append(finals, TopScore{Score: r.scores[id], Name: p.Name})
	}
	return finals, true
}

// CloseHub 關閉房間的廣播中心，所有會話觀察到關閉信號
func (r *Room) CloseHub() {
	r.hub.Close()
}

// Shutdown 停機收尾：取消回合計時器並關閉 Hub
func (r *Room) Shutdown() {
	r.mu.Lock()
	if r.cancelRound != nil {
		r.cancelRound()
		r.cancelRound = nil
	}
	r.mu.Unlock()

	r.hub.Close()
}

// Publish 對房間廣播一條事件（計時器任務使用）
func (r *Room) Publish(msg ServerMsg) {
	r.hub.Publish(msg)
}

// Players 成員列表快照
func (r *Room) Players() []Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playerListLocked()
}

// OwnerID 當前房主
func (r *Room) OwnerID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerID
}

// PlayerCount 成員數量
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// InRound 是否有回合進行中
func (r *Room) InRound() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelRound != nil
}

// playerListLocked 成員快照，按 player_id 排序保證輸出穩定
func (r *Room) playerListLocked() []Player {
	players := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}

// scoreListLocked 分數表快照，分數高的在前，同分按 player_id
func (r *Room) scoreListLocked() []PlayerScore {
	scores := make([]PlayerScore, 0, len(r.scores))
	for id, s := range r.scores {
		scores = append(scores, PlayerScore{PlayerID: id, Score: s})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].PlayerID < scores[j].PlayerID
	})
	return scores
}
