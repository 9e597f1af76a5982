package internal

import (
	"context"
	"log/slog"
	"time"
)

// RunGameTimer 回合倒數計時任務，每回合一個 goroutine
//
// 行為：
//   - 從 durationSecs 倒數到 0（含），每個 tick 廣播一次 TimerTick，
//     一共 durationSecs+1 次
//   - 每次 tick 之間檢查 ctx，重開局或房間銷毀立即退出，不做收尾
//   - 倒數結束後把所有在房玩家的最終成績餵給全局排行榜，
//     榜有變化才持久化
//
// tick 通常是 1 秒，測試中壓縮到毫秒級以免整個回合真跑兩分鐘。
//
// 鎖的走法：收尾時先在房間鎖內快照成績並釋放，
// 之後才碰排行榜的鎖，任何時刻只持有其中一把。
func RunGameTimer(ctx context.Context, room *Room, store *Store, durationSecs uint64, tick time.Duration, logger *slog.Logger) {
	timer := time.NewTimer(tick)
	defer timer.Stop()

	for remaining := durationSecs; ; remaining-- {
		room.Publish(TimerTick{RemainingSecs: remaining})
		if remaining == 0 {
			break
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(tick)

		select {
		case <-ctx.Done():
			logger.Debug("回合計時器被取消", "room_id", room.ID, "remaining_secs", remaining)
			return
		case <-timer.C:
		}
	}

	finals, ok := room.FinishRound(ctx)
	if !ok {
		// 最後一個 tick 與取消同時發生，收尾讓位給新回合
		return
	}

	logger.Info("回合結束", "room_id", room.ID, "players", len(finals))

	if len(finals) > 0 && store.OfferAll(finals) {
		store.Save()
	}
}
