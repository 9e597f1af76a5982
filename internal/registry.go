package internal

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// 錯誤即協議：這些哨兵錯誤的文案會原封不動放進 Error 訊息的
// msg 欄位發給客戶端，前端依字串顯示，所以保持英文且不可改動。
var (
	ErrRoomNotFound      = errors.New("Room not found")
	ErrAlreadyInRoom     = errors.New("Already in room")
	ErrNotInRoom         = errors.New("Not in room")
	ErrPlayerNotAssigned = errors.New("Player ID not assigned")
	ErrNotOwner          = errors.New("Only owner can start")
	ErrPlayersNotReady   = errors.New("All players must be ready")
	ErrRoomClosed        = errors.New("Room closed")
	ErrInvalidRequest    = errors.New("Invalid request")
)

// Registry 房間註冊表
//
// 系統設計考量：
//
//  1. 兩級鎖（RWMutex + 每房 Mutex）：
//     問題：單把大鎖會讓所有房間的操作互相排隊，
//     一個房間的計分風暴拖慢其他房間的加入/聊天
//     方案：註冊表只用 RWMutex 保護 roomID → Room 的表本身，
//     房間內部狀態由各房自己的鎖保護
//     代價：跨房操作需要遵守鎖序（先註冊表、後房間）
//
//  2. 生命週期收斂在註冊表：
//     房間的創建（入表）與銷毀（出表 + Hub 關閉）只發生在這裡，
//     會話層只持有 roomID 與 playerID，不直接持有 *Room
//
//  3. 無後台清理：
//     房間銷毀是同步的（最後一人離開時），不需要掃描協程；
//     崩潰的連接由讀取超時兜底，最終一樣走 LeaveRoom
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	store  *Store
	config *Config
	logger *slog.Logger
}

// RegistryStats 註冊表統計
type RegistryStats struct {
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
	InRound int `json:"in_round"`
}

// NewRegistry 創建房間註冊表
func NewRegistry(store *Store, config *Config, logger *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		store:  store,
		config: config,
		logger: logger,
	}
}

// CreateRoom 創建房間，創建者自動成為房主並完成訂閱
//
// 房間 ID 由服務器生成（UUID）。玩家未自帶 ID 時一併分配。
// 不廣播任何事件，確認訊息由會話直接發給創建者。
func (reg *Registry) CreateRoom(p Player) (string, Player, *Subscription, []Player) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	roomID := uuid.NewString()
	room := NewRoom(roomID, p)
	sub := room.Subscribe()

	reg.mu.Lock()
	reg.rooms[roomID] = room
	reg.mu.Unlock()

	reg.logger.Info("房間已創建",
		"room_id", roomID,
		"owner_id", p.ID,
		"owner_name", p.Name)

	return roomID, p, sub, room.Players()
}

// JoinRoom 加入既有房間
//
// 返回（可能被分配了 ID 的）玩家、訂閱、當前成員列表與房主。
// 成員列表廣播在房間鎖內完成，加入者的訂閱先於廣播建立。
func (reg *Registry) JoinRoom(roomID string, p Player) (Player, *Subscription, []Player, string, error) {
	room, err := reg.lookup(roomID)
	if err != nil {
		return Player{}, nil, nil, "", err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	sub, players, ownerID, err := room.Join(p)
	if err != nil {
		return Player{}, nil, nil, "", err
	}

	reg.logger.Info("玩家加入房間",
		"room_id", roomID,
		"player_id", p.ID,
		"player_name", p.Name,
		"players", len(players))

	return p, sub, players, ownerID, nil
}

// ReadyUp 切換玩家準備狀態
func (reg *Registry) ReadyUp(roomID, playerID string, ready bool) error {
	room, err := reg.lookup(roomID)
	if err != nil {
		return err
	}
	return room.SetReady(playerID, ready)
}

// StartGame 開始回合並啟動倒數計時任務
//
// 棋盤在這裡生成，回合時長與計時間隔來自配置。
func (reg *Registry) StartGame(roomID, playerID string) error {
	room, err := reg.lookup(roomID)
	if err != nil {
		return err
	}

	board := GenerateBoard()
	ctx, err := room.StartRound(playerID, board, reg.config.GameDurationSecs)
	if err != nil {
		return err
	}

	reg.logger.Info("回合開始",
		"room_id", roomID,
		"starter_id", playerID,
		"duration_secs", reg.config.GameDurationSecs)

	go RunGameTimer(ctx, room, reg.store, reg.config.GameDurationSecs, reg.config.TimerTick, reg.logger)
	return nil
}

// ReportScore 累加玩家分數並廣播房間分數表
func (reg *Registry) ReportScore(roomID, playerID string, cleared, turn uint32) error {
	room, err := reg.lookup(roomID)
	if err != nil {
		return err
	}
	return room.RecordScore(playerID, cleared, turn)
}

// PostChat 在房間內廣播聊天訊息
func (reg *Registry) PostChat(roomID, playerID, message string) error {
	room, err := reg.lookup(roomID)
	if err != nil {
		return err
	}
	return room.Chat(playerID, message)
}

// LeaveRoom 玩家離開房間
//
// 房間變空時銷毀它：取消計時器（Leave 內完成）、出表、關閉 Hub。
// 出表前在寫鎖下重新確認房間仍為空，Leave 與 Join 之間
// 可能有新玩家趕在銷毀前加入。
func (reg *Registry) LeaveRoom(roomID, playerID string) {
	room, err := reg.lookup(roomID)
	if err != nil {
		return
	}

	if !room.Leave(playerID) {
		reg.logger.Info("玩家離開房間", "room_id", roomID, "player_id", playerID)
		return
	}

	reg.mu.Lock()
	current, exists := reg.rooms[roomID]
	if exists && current == room && room.PlayerCount() == 0 {
		delete(reg.rooms, roomID)
		reg.mu.Unlock()
		room.CloseHub()
		reg.logger.Info("房間已清空，銷毀", "room_id", roomID)
		return
	}
	reg.mu.Unlock()
}

// Stats 返回註冊表統計（/stats 端點使用）
func (reg *Registry) Stats() RegistryStats {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.RUnlock()

	stats := RegistryStats{Rooms: len(rooms)}
	for _, r := range rooms {
		stats.Players += r.PlayerCount()
		if r.InRound() {
			stats.InRound++
		}
	}
	return stats
}

// Stop 關閉所有房間，用於服務優雅停機
//
// 每個房間的計時器被取消、Hub 被關閉，
// 仍在線的會話觀察到關閉信號後自行退出。
func (reg *Registry) Stop() {
	reg.mu.Lock()
	rooms := reg.rooms
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for id, room := range rooms {
		room.Shutdown()
		reg.logger.Info("房間已關閉", "room_id", id)
	}
}

func (reg *Registry) lookup(roomID string) (*Room, error) {
	reg.mu.RLock()
	room, exists := reg.rooms[roomID]
	reg.mu.RUnlock()

	if !exists {
		return nil, ErrRoomNotFound
	}
	return room, nil
}
