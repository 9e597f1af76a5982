package internal

import "math/rand/v2"

// 棋盤尺寸，與前端渲染網格一致
const (
	BoardRows = 10
	BoardCols = 17
)

// Board 扁平化的棋盤，row-major，共 BoardRows*BoardCols 格
//
// 元素類型刻意用 int 而非 byte，JSON 序列化必須是數字陣列
// （[]byte 會被編碼成 base64 字串，前端無法解析）。
type Board []int

// GenerateBoard 生成一個新棋盤，每格為 1..9 的隨機數字
func GenerateBoard() Board {
	board := make(Board, BoardRows*BoardCols)
	for i := range board {
		board[i] = rand.IntN(9) + 1
	}
	return board
}
