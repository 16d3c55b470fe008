package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: recording, storage, remote, validation, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrInvalidState) のように判定できる。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeInvalidState       = "INVALID_STATE"
	ErrCodeDecodeSkipped      = "DECODE_SKIPPED"
	ErrCodePersistenceFailure = "PERSISTENCE_FAILURE"
	ErrCodeRemoteFailure      = "REMOTE_FAILURE"
	ErrCodeHikeNotFound       = "HIKE_NOT_FOUND"
	ErrCodeIdentityNotSet     = "IDENTITY_NOT_SET"
	ErrCodeIdentityAlreadySet = "IDENTITY_ALREADY_SET"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidGPX         = "INVALID_GPX"
	ErrCodeSyncDisabled       = "SYNC_DISABLED"
)

// errors.Is の比較対象として使う番兵エラー。
var (
	ErrInvalidState       = &APIError{Code: ErrCodeInvalidState}
	ErrDecodeSkipped      = &APIError{Code: ErrCodeDecodeSkipped}
	ErrPersistenceFailure = &APIError{Code: ErrCodePersistenceFailure}
	ErrRemoteFailure      = &APIError{Code: ErrCodeRemoteFailure}
	ErrHikeNotFound       = &APIError{Code: ErrCodeHikeNotFound}
	ErrIdentityNotSet     = &APIError{Code: ErrCodeIdentityNotSet}
	ErrIdentityAlreadySet = &APIError{Code: ErrCodeIdentityAlreadySet}
	ErrInvalidRequest     = &APIError{Code: ErrCodeInvalidRequest}
	ErrInvalidGPX         = &APIError{Code: ErrCodeInvalidGPX}
	ErrSyncDisabled       = &APIError{Code: ErrCodeSyncDisabled}
)

// NewAlreadyRecordingError は記録中に記録開始が要求された場合のエラーを生成する。
func NewAlreadyRecordingError(hikeID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("すでに記録中です: %s", hikeID),
		Category: "recording",
		Action:   "現在の記録を停止してから新しい記録を開始してください。",
	}
}

// NewPersistenceFailureError はローカル保存の失敗エラーを生成する。
func NewPersistenceFailureError(err error) *APIError {
	return &APIError{
		Code:     ErrCodePersistenceFailure,
		Message:  "ハイクの保存に失敗しました。",
		Category: "storage",
		Action:   "端末の空き容量を確認してください。データはメモリ上には保持されています。",
		Err:      err,
	}
}

// NewRemoteFailureError はリモートストア操作の失敗エラーを生成する。
func NewRemoteFailureError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteFailure,
		Message:  fmt.Sprintf("リモートストアの操作に失敗しました: %s", op),
		Category: "remote",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewHikeNotFoundError はハイク未検出エラーを生成する。
func NewHikeNotFoundError(hikeID string) *APIError {
	return &APIError{
		Code:     ErrCodeHikeNotFound,
		Message:  fmt.Sprintf("指定されたハイクが見つかりません: %s", hikeID),
		Category: "validation",
		Action:   "ハイクIDを確認してください。",
	}
}

// NewIdentityNotSetError はユーザー名が未設定の場合のエラーを生成する。
func NewIdentityNotSetError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotSet,
		Message:  "ユーザー名が設定されていません。",
		Category: "validation",
		Action:   "同期を使うには先にユーザー名を設定してください。",
	}
}

// NewIdentityAlreadySetError はユーザー名が設定済みの場合のエラーを生成する。
func NewIdentityAlreadySetError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityAlreadySet,
		Message:  "ユーザー名はすでに設定されています。",
		Category: "validation",
		Action:   "ユーザー名は一度だけ設定できます。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidGPXError はGPXファイルを解釈できない場合のエラーを生成する。
func NewInvalidGPXError(reason string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGPX,
		Message:  fmt.Sprintf("GPXファイルを読み込めませんでした: %s", reason),
		Category: "validation",
		Action:   "トラックポイントを含むGPXファイルを指定してください。",
		Err:      err,
	}
}

// NewDecodeSkippedError はトラックのデコード時に不正なセグメントを読み飛ばしたことを表す。
// 致命的ではなく、ログとメトリクスにのみ使う。
func NewDecodeSkippedError(hikeID string, skipped int) *APIError {
	return &APIError{
		Code:     ErrCodeDecodeSkipped,
		Message:  fmt.Sprintf("不正なトラックセグメントを%d件読み飛ばしました: %s", skipped, hikeID),
		Category: "storage",
		Action:   "元データを確認してください。読み取れたポイントのみ表示しています。",
	}
}

// NewSyncDisabledError はリモートストアが設定されていない場合のエラーを生成する。
func NewSyncDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncDisabled,
		Message:  "リモート同期は設定されていません。",
		Category: "remote",
		Action:   "DATABASE_URLを設定してサーバーを再起動してください。",
	}
}
