// Package internal 實現多人消除遊戲的房間與會話服務。
//
// 整體架構：
//
//	Session（每連接一個 goroutine，單寫者）
//	    │  客戶端命令
//	    ▼
//	Registry（RWMutex 保護的房間表）
//	    │  查表後進入單一房間
//	    ▼
//	Room（每房一把 Mutex）──► Hub（廣播扇出）──► 各 Session 的 Subscription
//	    │
//	    └─► RunGameTimer（每回合一個 goroutine，結束時餵入 Store）
//
// 客戶端與服務器之間只有一條 WebSocket 通道，
// 雙向都是 {"type": ..., "data": ...} 的 JSON 信封（見 message.go）。
//
// 鎖序約定：註冊表 → 房間，排行榜的鎖永不與房間鎖同時持有。
package internal
