package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// 系統設計問題：
//   如何用單一 WebSocket 通道同時承載「客戶端命令」與「房間廣播」？
//
// 核心挑戰：
//   1. 雙向流量交織：命令處理期間廣播仍在湧入，順序不能亂
//   2. 慢客戶端：不能拖累發布者，也不能無限堆積內存
//   3. 心跳機制：檢測死連接（網絡異常、瀏覽器崩潰）
//   4. 清理語義：無論怎麼退出，離房處理都只執行一次
//
// 設計方案：
//   ✅ 單寫者模型 - 所有寫入都在會話主循環這一個 goroutine
//   ✅ 偏置調度 - 每輪先把廣播訂閱讀空，再處理下一條客戶端命令
//   ✅ Ping/Pong 心跳 - 54s Ping / 60s 讀超時（留 6 秒余量）
//   ✅ defer 清理 - 離房與退訂收斂在一處

const (
	// writeWait 單次寫入的期限
	writeWait = 10 * time.Second

	// readWait 讀超時，收到 Pong 後重置
	readWait = 60 * time.Second

	// pingPeriod Ping 間隔，必須小於 readWait
	// 54 秒同時避開常見代理的 60 秒空閒超時
	pingPeriod = 54 * time.Second
)

// Gateway WebSocket 接入層
//
// 負責升級連接並為每條連接啟動一個 Session。
type Gateway struct {
	registry *Registry
	store    *Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewGateway 創建接入層
func NewGateway(registry *Registry, store *Store, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		store:    store,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeWS 處理 WebSocket 升級請求
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("升級 WebSocket 失敗", "error", err, "remote", r.RemoteAddr)
		return
	}

	g.logger.Info("WebSocket 連接建立", "remote", r.RemoteAddr)

	session := &Session{
		conn:     conn,
		registry: g.registry,
		store:    g.store,
		logger:   g.logger.With("remote", r.RemoteAddr),
	}
	go session.run()
}

// Session 單一連接的會話狀態
//
// roomID 與 playerID 在 CreateRoom / JoinRoom 成功後才有值，
// 其他命令先經過 require() 守門，不碰註冊表。
type Session struct {
	conn     *websocket.Conn
	registry *Registry
	store    *Store
	logger   *slog.Logger

	roomID   string
	playerID string
	sub      *Subscription
}

// run 會話主循環，也是本連接唯一的寫者
//
// 調度是偏置的：每次醒來先把廣播訂閱讀空再處理客戶端命令，
// 保證房間事件以發布順序送達，不被命令處理插隊。
func (s *Session) run() {
	done := make(chan struct{})
	defer func() {
		close(done)
		if s.roomID != "" && s.playerID != "" {
			s.registry.LeaveRoom(s.roomID, s.playerID)
		}
		if s.sub != nil {
			s.sub.Cancel()
		}
		s.conn.Close()
		s.logger.Info("WebSocket 連接關閉")
	}()

	// 連接建立後立即推送全局排行榜
	if err := s.write(Top10Scores{Scores: s.store.Snapshot()}); err != nil {
		return
	}

	inbound := make(chan []byte)
	go s.readLoop(inbound, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		if !s.drainBroadcast() {
			return
		}

		// 沒有訂閱時 readyCh 為 nil，select 永不選中該分支
		var readyCh <-chan struct{}
		if s.sub != nil {
			readyCh = s.sub.Ready()
		}

		select {
		case <-readyCh:
			// 回到循環頂部讀空訂閱

		case raw, ok := <-inbound:
			if !ok {
				return
			}
			// 偏置：命令處理前再次清空期間到達的廣播
			if !s.drainBroadcast() {
				return
			}
			if !s.handleCommand(raw) {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop 讀取協程，把文本幀餵給主循環
//
// 心跳的接收端：60 秒內沒有任何幀（含 Pong）就判定死連接。
func (s *Session) readLoop(inbound chan<- []byte, done <-chan struct{}) {
	defer close(inbound)

	s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket 讀取錯誤", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		select {
		case inbound <- message:
		case <-done:
			return
		}
	}
}

// drainBroadcast 把廣播訂閱讀到空為止
//
// 落後（LagError）只記日誌就繼續，客戶端靠後續的全量快照
// （成員列表、分數表都是完整狀態）自行追平。
// Hub 關閉表示房間已銷毀，通知客戶端後返回 false 結束會話。
func (s *Session) drainBroadcast() bool {
	if s.sub == nil {
		return true
	}

	for {
		msg, err := s.sub.TryReceive()
		switch {
		case err == nil:
			if werr := s.write(msg); werr != nil {
				return false
			}

		case errors.Is(err, ErrNoMessage):
			return true

		case errors.Is(err, ErrHubClosed):
			s.write(ErrorMsg{RoomID: s.roomID, Msg: ErrRoomClosed.Error()})
			return false

		default:
			var lag *LagError
			if errors.As(err, &lag) {
				s.logger.Warn("會話落後，部分廣播被丟棄", "missed", lag.Missed, "room_id", s.roomID)
				continue
			}
			return false
		}
	}
}

// handleCommand 處理一條客戶端命令，返回 false 表示會話應結束
//
// 業務錯誤不終止會話，轉成 Error 訊息發回給這條連接；
// 只有寫入失敗（連接已死）才結束。
func (s *Session) handleCommand(raw []byte) bool {
	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return s.writeError(ErrInvalidRequest)
	}

	var err error
	switch env.Type {
	case TypeCreateRoom:
		err = s.handleCreateRoom(env.Data)
	case TypeJoinRoom:
		err = s.handleJoinRoom(env.Data)
	case TypeReadyUp:
		err = s.handleReadyUp(env.Data)
	case TypeStartGame:
		err = s.handleStartGame()
	case TypeScoreUpdate:
		err = s.handleScoreUpdate(env.Data)
	case TypeChatMessage:
		err = s.handleChatMessage(env.Data)
	default:
		err = ErrInvalidRequest
	}

	if err != nil {
		return s.writeError(err)
	}
	return true
}

func (s *Session) handleCreateRoom(data json.RawMessage) error {
	var payload CreateRoomData
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrInvalidRequest
	}
	if s.roomID != "" {
		return ErrAlreadyInRoom
	}

	roomID, player, sub, players := s.registry.CreateRoom(payload.Player)
	s.roomID = roomID
	s.playerID = player.ID
	s.sub = sub

	// 確認訊息直接發給創建者，不走廣播
	if err := s.write(RoomCreated{RoomID: roomID}); err != nil {
		return nil
	}
	s.write(RoomPlayersUpdate{RoomID: roomID, Players: players, OwnerID: player.ID})
	return nil
}

func (s *Session) handleJoinRoom(data json.RawMessage) error {
	var payload JoinRoomData
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrInvalidRequest
	}
	if s.roomID != "" {
		return ErrAlreadyInRoom
	}

	player, sub, players, ownerID, err := s.registry.JoinRoom(payload.RoomID, payload.Player)
	if err != nil {
		return err
	}
	s.roomID = payload.RoomID
	s.playerID = player.ID
	s.sub = sub

	// 加入者除了廣播外再收一條直達確認
	s.write(RoomPlayersUpdate{RoomID: payload.RoomID, Players: players, OwnerID: ownerID})
	return nil
}

func (s *Session) handleReadyUp(data json.RawMessage) error {
	var payload ReadyUpData
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrInvalidRequest
	}
	if err := s.require(); err != nil {
		return err
	}
	return s.registry.ReadyUp(s.roomID, s.playerID, payload.Ready)
}

func (s *Session) handleStartGame() error {
	if err := s.require(); err != nil {
		return err
	}
	return s.registry.StartGame(s.roomID, s.playerID)
}

func (s *Session) handleScoreUpdate(data json.RawMessage) error {
	var payload ScoreUpdateData
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrInvalidRequest
	}
	if err := s.require(); err != nil {
		return err
	}
	return s.registry.ReportScore(s.roomID, s.playerID, payload.ClearedCount, payload.Turn)
}

func (s *Session) handleChatMessage(data json.RawMessage) error {
	var payload ChatMessageData
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrInvalidRequest
	}
	if err := s.require(); err != nil {
		return err
	}
	return s.registry.PostChat(s.roomID, s.playerID, payload.Message)
}

// require 守門：需要在房內的命令先驗證會話狀態，不碰註冊表
func (s *Session) require() error {
	if s.roomID == "" {
		return ErrNotInRoom
	}
	if s.playerID == "" {
		return ErrPlayerNotAssigned
	}
	return nil
}

// write 編碼並寫出一條服務器事件（只能由主循環調用）
func (s *Session) write(msg ServerMsg) error {
	data, err := EncodeServerMsg(msg)
	if err != nil {
		s.logger.Error("序列化服務器事件失敗", "error", err)
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// writeError 把業務錯誤轉成 Error 訊息發回，返回 false 表示連接已死
func (s *Session) writeError(err error) bool {
	msg := ErrorMsg{Msg: err.Error()}
	if s.roomID != "" {
		msg.RoomID = s.roomID
	}
	return s.write(msg) == nil
}
