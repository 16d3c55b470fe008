// Package identity はリモート同期の所有者名（ユーザーが選んだ表示名）を管理する。
//
// 所有者名は端末IDではなくユーザーが入力した名前で、同じ名前を入力すれば別の端末からも
// 同じハイクを取得できる。一度設定した名前は変更も消去もできない。
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/maks-bond/hike-coverage/internal/model"
	"github.com/maks-bond/hike-coverage/internal/store"
)

// settingsFile は設定ファイルの形式。
type settingsFile struct {
	UserName string `json:"user_name"`
}

// Provider は所有者名を保持する。複数のゴルーチンから安全に利用できる。
type Provider struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	name string
}

// Load は設定ファイルから所有者名を読み込んだProviderを返す。
// ファイルが存在しない場合は未設定のProviderを返す。
// ファイルが読めない、または内容が不正な場合はログに記録し、未設定として扱う。
func Load(path string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Error("failed to read identity file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return p
	}

	var s settingsFile
	if err := json.Unmarshal(data, &s); err != nil {
		logger.Error("malformed identity file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return p
	}
	p.name = strings.TrimSpace(s.UserName)
	return p
}

// Static はファイルに保存しない固定名のProviderを返す。Setしても永続化されない。
func Static(name string) *Provider {
	return &Provider{name: strings.TrimSpace(name), logger: slog.Default()}
}

// Name は所有者名を返す。未設定の場合は空文字列。
func (p *Provider) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// IsSet は所有者名が設定済みかどうかを返す。
func (p *Provider) IsSet() bool {
	return p.Name() != ""
}

// Set は所有者名を設定して保存する。
// 前後の空白は取り除く。空の名前はINVALID_REQUEST、設定済みの場合はIDENTITY_ALREADY_SETを返す。
func (p *Provider) Set(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.NewInvalidRequestError("user_name must not be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.name != "" {
		return model.NewIdentityAlreadySetError()
	}

	if p.path != "" {
		data, err := json.MarshalIndent(settingsFile{UserName: name}, "", "  ")
		if err != nil {
			return model.NewPersistenceFailureError(fmt.Errorf("encode identity: %w", err))
		}
		if err := store.WriteFileAtomic(p.path, data); err != nil {
			return model.NewPersistenceFailureError(err)
		}
	}

	p.name = name
	p.logger.Info("owner identity set", slog.String("user_name", name))
	return nil
}
