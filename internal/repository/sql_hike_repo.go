package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/maks-bond/hike-coverage/internal/model"
)

// SQLHikeRepo はdatabase/sqlを使用したリモートハイクリポジトリ。
// PostgreSQLとSQLiteの両方で動作するSQLのみを使う。
type SQLHikeRepo struct {
	db *sql.DB
}

// NewSQLHikeRepo はSQLHikeRepoを生成する。
func NewSQLHikeRepo(db *sql.DB) *SQLHikeRepo {
	return &SQLHikeRepo{db: db}
}

// Put はレコードをhike_idをキーとしてUPSERTする。
func (r *SQLHikeRepo) Put(ctx context.Context, rec model.RemoteRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO hikes (hike_id, user_uuid, hike_name, start_time, distance, notes, location, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (hike_id) DO UPDATE SET
		     user_uuid = excluded.user_uuid,
		     hike_name = excluded.hike_name,
		     start_time = excluded.start_time,
		     distance = excluded.distance,
		     notes = excluded.notes,
		     location = excluded.location,
		     version = excluded.version`,
		rec.HikeID, rec.UserUUID, rec.HikeName, rec.StartTime,
		rec.Distance, rec.Notes, rec.Location, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("ハイクの保存に失敗しました: %w", err)
	}
	return nil
}

// ScanByOwner は所有者のレコードをstart_time降順で取得する。
func (r *SQLHikeRepo) ScanByOwner(ctx context.Context, owner string) ([]model.RemoteRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT hike_id, user_uuid, hike_name, start_time, distance, notes, location, version
		 FROM hikes
		 WHERE user_uuid = $1
		 ORDER BY start_time DESC, hike_id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("ハイク一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var records []model.RemoteRecord
	for rows.Next() {
		var rec model.RemoteRecord
		var hikeName, notes, location, version sql.NullString
		if err := rows.Scan(
			&rec.HikeID, &rec.UserUUID, &hikeName, &rec.StartTime,
			&rec.Distance, &notes, &location, &version,
		); err != nil {
			return nil, fmt.Errorf("ハイク行の読み取りに失敗しました: %w", err)
		}
		rec.HikeName = nullStringValue(hikeName)
		rec.Notes = nullStringValue(notes)
		rec.Location = nullStringValue(location)
		rec.Version = nullStringValue(version)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ハイク一覧の取得に失敗しました: %w", err)
	}

	return records, nil
}

// Delete はhike_idのレコードを削除する。
func (r *SQLHikeRepo) Delete(ctx context.Context, hikeID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM hikes WHERE hike_id = $1`, hikeID); err != nil {
		return fmt.Errorf("ハイクの削除に失敗しました: %w", err)
	}
	return nil
}

// nullStringValue はsql.NullStringから文字列を取り出す。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

var _ RemoteHikeRepository = (*SQLHikeRepo)(nil)
