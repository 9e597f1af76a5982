package internal

import (
	"container/heap"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// 全局排行榜設計：
//   跨房間、跨回合保留歷史最高的 10 筆 (分數, 玩家名)。
//
// 為什麼用最小堆？
//   - 榜滿時只需和堆頂（榜上最低分）比較，O(1) 判斷是否上榜
//   - 插入/淘汰 O(log n)，n 固定為 10
//   - 和「淘汰最低分」的語義天然對應
//
// 持久化是盡力而為：整檔重寫 top10.json，寫失敗只記日誌；
// 啟動時檔案缺失或損壞一律視為空榜，服務照常啟動。

// leaderboardSize 榜上保留的條目數
const leaderboardSize = 10

// topScoreEntry 持久化格式，檔案內是 {score, name} 物件陣列
// （線上的 Top10Scores 則是 [score, name] 二元組，兩者刻意分開）
type topScoreEntry struct {
	Score uint32 `json:"score"`
	Name  string `json:"name"`
}

// topHeap 以分數為序的最小堆，堆頂是榜上最低分
type topHeap []TopScore

func (h topHeap) Len() int           { return len(h) }
func (h topHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h topHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *topHeap) Push(x any)        { *h = append(*h, x.(TopScore)) }
func (h *topHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Store 有界的全局排行榜
type Store struct {
	mu      sync.Mutex
	entries topHeap
	path    string
	logger  *slog.Logger
}

// NewStore 創建排行榜並從 path 載入既有條目
//
// 檔案不存在或內容損壞時從空榜開始，不返回錯誤。
func NewStore(path string, logger *slog.Logger) *Store {
	s := &Store{
		path:   path,
		logger: logger,
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("排行榜檔案讀取失敗，以空榜啟動", "path", s.path, "error", err)
		}
		return
	}

	var entries []topScoreEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.logger.Warn("排行榜檔案解析失敗，以空榜啟動", "path", s.path, "error", err)
		return
	}

	// 防禦外部編輯過的檔案超出上限
	s.entries = make(topHeap, 0, len(entries))
	for _, e := range entries {
		s.entries = append(s.entries, TopScore{Score: e.Score, Name: e.Name})
	}
	heap.Init(&s.entries)
	for s.entries.Len() > leaderboardSize {
		heap.Pop(&s.entries)
	}
	s.logger.Info("排行榜已載入", "path", s.path, "entries", s.entries.Len())
}

// Offer 嘗試把一筆成績放上榜
//
// 榜未滿直接收錄；榜滿時只有嚴格高於榜上最低分才淘汰它。
// 返回榜是否發生變化。
func (s *Store) Offer(score uint32, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offerLocked(score, name)
}

// OfferAll 批次上榜，返回榜是否發生任何變化
func (s *Store) OfferAll(entries []TopScore) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, e := range entries {
		if s.offerLocked(e.Score, e.Name) {
			changed = true
		}
	}
	return changed
}

func (s *Store) offerLocked(score uint32, name string) bool {
	if s.entries.Len() < leaderboardSize {
		heap.Push(&s.entries, TopScore{Score: score, Name: name})
		return true
	}
	if score > s.entries[0].Score {
		s.entries[0] = TopScore{Score: score, Name: name}
		heap.Fix(&s.entries, 0)
		return true
	}
	return false
}

// Snapshot 返回榜的副本，按分數由高到低排列
func (s *Store) Snapshot() []TopScore {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TopScore, len(s.entries))
	copy(out, s.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Save 整檔重寫持久化，失敗只記日誌
func (s *Store) Save() {
	snapshot := s.Snapshot()

	entries := make([]topScoreEntry, len(snapshot))
	for i, t := range snapshot {
		entries[i] = topScoreEntry{Score: t.Score, Name: t.Name}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		s.logger.Error("排行榜序列化失敗", "error", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		s.logger.Error("排行榜寫入失敗", "path", s.path, "error", err)
		return
	}
	s.logger.Debug("排行榜已持久化", "path", s.path, "entries", len(snapshot))
}
