// Package repository はリモートテーブルストアの永続化インターフェースを定義する。
package repository

import (
	"context"

	"github.com/maks-bond/hike-coverage/internal/model"
)

// RemoteHikeRepository はリモートのハイクテーブル（1行1ハイク）の操作インターフェース。
// ストアは結果整合であることを前提とし、呼び出し間のトランザクションは持たない。
type RemoteHikeRepository interface {
	// Put はレコードをhike_idをキーとして作成または上書きする。
	Put(ctx context.Context, rec model.RemoteRecord) error

	// ScanByOwner はuser_uuidが一致するレコードをstart_time降順で返す。
	ScanByOwner(ctx context.Context, owner string) ([]model.RemoteRecord, error)

	// Delete はhike_idのレコードを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, hikeID string) error
}
