// Package store はハイクコレクションのローカル永続化（JSONファイル）を提供する。
//
// FileStoreはロックを持たない。すべての読み書きは呼び出し側の単一の実行コンテキスト
// （dispatch.Loop）から行うこと。
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maks-bond/hike-coverage/internal/metrics"
	"github.com/maks-bond/hike-coverage/internal/model"
)

// FileStore は1つのJSONファイルにハイクコレクション全体を保存するストア。
type FileStore struct {
	path    string
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	hikes   model.Collection
}

// NewFileStore は新しいFileStoreを生成する。
// 生成時点ではファイルを読まない。Loadを呼び出すこと。
func NewFileStore(path string, logger *slog.Logger, mc metrics.MetricsCollector) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:    path,
		logger:  logger,
		metrics: metrics.OrNop(mc),
		hikes:   model.Collection{},
	}
}

// Path は保存先ファイルのパスを返す。
func (s *FileStore) Path() string {
	return s.path
}

// Load はファイルからコレクションを読み込み、メモリ上のコレクションを置き換える。
// ファイルが存在しない、読めない、または内容が不正な場合は空のコレクションを返す。
// エラーは返さずログに記録する。
//
// バージョンタグのないエントリが含まれていた場合は、現行形式でファイルを1回書き直す。
func (s *FileStore) Load() model.Collection {
	s.hikes = model.Collection{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("hikes file not found, starting with empty collection",
				slog.String("path", s.path),
			)
		} else {
			s.logger.Error("failed to read hikes file",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}
		return s.Hikes()
	}

	hikes, migrated, err := decodeFile(data)
	if err != nil {
		s.logger.Error("malformed hikes file, starting with empty collection",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return s.Hikes()
	}

	s.hikes = model.NormalizeCollection(hikes)

	if migrated {
		s.logger.Info("migrating untagged hikes to current file format",
			slog.String("path", s.path),
			slog.Int("hikes", len(s.hikes)),
		)
		if err := s.SaveAll(s.hikes); err != nil {
			s.logger.Warn("failed to rewrite migrated hikes file",
				slog.String("error", err.Error()),
			)
		}
	}

	return s.Hikes()
}

// SaveAll はコレクション全体をファイルに書き込む。
// 同じディレクトリの一時ファイルに書き出してfsyncした後にrenameで置き換えるため、
// 書き込み途中で中断されても既存ファイルは壊れない。
func (s *FileStore) SaveAll(c model.Collection) error {
	data, err := encodeFile(c)
	if err != nil {
		return s.persistenceFailure(fmt.Errorf("encode hikes: %w", err))
	}
	if err := WriteFileAtomic(s.path, data); err != nil {
		return s.persistenceFailure(err)
	}
	return nil
}

// Hikes は現在のコレクションのコピーを返す。
func (s *FileStore) Hikes() model.Collection {
	return s.hikes.Clone()
}

// Find は指定IDのハイクを返す。
func (s *FileStore) Find(id string) (model.Hike, bool) {
	return s.hikes.Find(id)
}

// InsertAtFront はハイクを先頭（最新）に追加して保存する。
// 保存に失敗してもメモリ上のコレクションは更新された状態を保つ。
func (s *FileStore) InsertAtFront(h model.Hike) error {
	s.hikes = s.hikes.InsertAtFront(h.Clone())
	return s.SaveAll(s.hikes)
}

// InsertSorted はハイクを開始日時の順序に従った位置に追加して保存する。
// GPXインポートのように過去のハイクを追加する場合に使う。
func (s *FileStore) InsertSorted(h model.Hike) error {
	s.hikes = s.hikes.InsertSorted(h.Clone())
	return s.SaveAll(s.hikes)
}

// UpdateNotes は指定IDのハイクのメモを更新して保存する。
// 未知のIDの場合は何もせずfalseを返す（書き込みも行わない）。
func (s *FileStore) UpdateNotes(id, notes string) (bool, error) {
	if !s.hikes.UpdateNotes(id, notes) {
		return false, nil
	}
	return true, s.SaveAll(s.hikes)
}

// RemoveByID は指定IDのハイクを削除して保存する。
// 未知のIDの場合は何もせずfalseを返す（書き込みも行わない）。
func (s *FileStore) RemoveByID(id string) (bool, error) {
	next, ok := s.hikes.RemoveByID(id)
	if !ok {
		return false, nil
	}
	s.hikes = next
	return true, s.SaveAll(s.hikes)
}

// Replace はコレクション全体を置き換えて保存する。リモートからの全件取得後に使う。
func (s *FileStore) Replace(c model.Collection) error {
	s.hikes = model.NormalizeCollection(c.Clone())
	return s.SaveAll(s.hikes)
}

func (s *FileStore) persistenceFailure(err error) error {
	s.metrics.RecordPersistenceFailure()
	s.logger.Error("failed to persist hikes",
		slog.String("path", s.path),
		slog.String("error", err.Error()),
	)
	return model.NewPersistenceFailureError(err)
}

// WriteFileAtomic はdataを一時ファイル経由でpathに書き込む。
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
