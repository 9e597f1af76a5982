package internal

import (
	"encoding/json"
	"fmt"
)

// 訊息協議設計：
//   前後端透過單一 WebSocket 通道交換帶標籤的 JSON 訊息，
//   格式統一為 {"type": "...", "data": {...}}。
//
// 為什麼用 type + data 信封？
//   - 單一通道承載多種訊息（加入、準備、計分、聊天）
//   - 前端可以用 type 做路由（switch 一次搞定）
//   - data 延遲解析（json.RawMessage），無效訊息不影響信封解析

// Player 玩家公開資訊
//
// ID 是全局唯一識別碼（UUID 字串），客戶端可自帶，
// 空字串時由服務器分配。Name 在加入時固定，Ready 在回合開始前切換。
type Player struct {
	ID    string `json:"player_id"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// 客戶端 → 服務器 命令類型
const (
	TypeCreateRoom  = "CreateRoom"
	TypeJoinRoom    = "JoinRoom"
	TypeReadyUp     = "ReadyUp"
	TypeStartGame   = "StartGame"
	TypeScoreUpdate = "ScoreUpdate"
	TypeChatMessage = "ChatMessage"
)

// ClientEnvelope 客戶端命令信封
type ClientEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CreateRoomData 創建房間命令
type CreateRoomData struct {
	Player Player `json:"player"`
}

// JoinRoomData 加入房間命令
type JoinRoomData struct {
	RoomID string `json:"room_id"`
	Player Player `json:"player"`
}

// ReadyUpData 準備狀態切換命令
type ReadyUpData struct {
	Ready bool `json:"ready"`
}

// ScoreUpdateData 回報本次消除數量
type ScoreUpdateData struct {
	ClearedCount uint32 `json:"cleared_count"`
	Turn         uint32 `json:"turn"`
}

// ChatMessageData 聊天訊息命令
type ChatMessageData struct {
	Message string `json:"message"`
}

// ServerMsg 服務器 → 客戶端 事件
//
// 每種事件實現 msgType()，由 EncodeServerMsg 包進信封。
type ServerMsg interface {
	msgType() string
}

// RoomCreated 房間創建成功（只發給創建者）
type RoomCreated struct {
	RoomID string `json:"room_id"`
}

// RoomPlayersUpdate 成員列表更新（任何加入/離開/準備變化時廣播）
type RoomPlayersUpdate struct {
	RoomID  string   `json:"room_id"`
	Players []Player `json:"players"`
	OwnerID string   `json:"owner_id"`
}

// GameStarted 回合開始，攜帶完整棋盤與回合時長
type GameStarted struct {
	RoomID       string `json:"room_id"`
	Board        Board  `json:"board"`
	DurationSecs uint64 `json:"duration_secs"`
}

// TimerTick 倒數計時，每秒一次
type TimerTick struct {
	RemainingSecs uint64 `json:"remaining_secs"`
}

// LeaderboardUpdate 房間內即時分數表
type LeaderboardUpdate struct {
	RoomID string        `json:"room_id"`
	Scores []PlayerScore `json:"scores"`
}

// ChatBroadcast 聊天廣播，攜帶發送者完整公開資訊
type ChatBroadcast struct {
	RoomID  string `json:"room_id"`
	Player  Player `json:"player"`
	Message string `json:"message"`
}

// ErrorMsg 錯誤通知（只發給出錯的連接）
type ErrorMsg struct {
	RoomID string `json:"room_id,omitempty"`
	Msg    string `json:"msg"`
}

// Top10Scores 全局排行榜快照（連接建立時立即發送）
type Top10Scores struct {
	Scores []TopScore `json:"scores"`
}

func (RoomCreated) msgType() string       { return "RoomCreated" }
func (RoomPlayersUpdate) msgType() string { return "RoomPlayersUpdate" }
func (GameStarted) msgType() string       { return "GameStarted" }
func (TimerTick) msgType() string         { return "TimerTick" }
func (LeaderboardUpdate) msgType() string { return "LeaderboardUpdate" }
func (ChatBroadcast) msgType() string     { return "ChatBroadcast" }
func (ErrorMsg) msgType() string          { return "Error" }
func (Top10Scores) msgType() string       { return "Top10Scores" }

type serverEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EncodeServerMsg 編碼服務器事件為 {type, data} 信封
func EncodeServerMsg(m ServerMsg) ([]byte, error) {
	return json.Marshal(serverEnvelope{Type: m.msgType(), Data: m})
}

// PlayerScore 房間分數表條目
//
// 線上格式是二元組 ["player_id", score]（而非物件），
// 與前端既有協議保持一致。
type PlayerScore struct {
	PlayerID string
	Score    uint32
}

func (p PlayerScore) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.PlayerID, p.Score})
}

func (p *PlayerScore) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("player score pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &p.PlayerID); err != nil {
		return fmt.Errorf("player score pair: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Score); err != nil {
		return fmt.Errorf("player score pair: %w", err)
	}
	return nil
}

// TopScore 全局排行榜條目，線上格式為 [score, "name"]
type TopScore struct {
	Score uint32
	Name  string
}

func (s TopScore) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.Score, s.Name})
}

func (s *TopScore) UnmarshalJSON(data []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("top score pair: %w", err)
	}
	if err := json.Unmarshal(raw[0], &s.Score); err != nil {
		return fmt.Errorf("top score pair: %w", err)
	}
	if err := json.Unmarshal(raw[1], &s.Name); err != nil {
		return fmt.Errorf("top score pair: %w", err)
	}
	return nil
}
