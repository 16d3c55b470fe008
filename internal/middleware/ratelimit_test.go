package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// newClientRequest は指定したクライアントIPからのリクエストを生成するヘルパー。
func newClientRequest(method, path, ip string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = ip + ":40000"
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- GeneralMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2, // 2 req/sec
		GeneralBurst:    5, // バースト5
		SamplesRate:     1, // 未使用
		SamplesBurst:    10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newClientRequest(http.MethodGet, "/api/hikes", "10.0.0.1"))

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     0.5, // 2秒に1リクエスト
		GeneralBurst:    1,
		SamplesRate:     1,
		SamplesBurst:    10,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// 1回目は通る
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newClientRequest(http.MethodGet, "/api/hikes", "10.0.0.2"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}

	// 2回目はレート制限に引っかかる
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newClientRequest(http.MethodGet, "/api/hikes", "10.0.0.2"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", resp.Header.Get("Retry-After"))
	}
	if retryAfter != 2 {
		t.Errorf("Retry-After = %d, want 2", retryAfter)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode 429 body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		SamplesRate:     1,
		SamplesBurst:    1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// クライアントAが上限に達する
	handler.ServeHTTP(httptest.NewRecorder(), newClientRequest(http.MethodGet, "/api/hikes", "10.0.0.3"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newClientRequest(http.MethodGet, "/api/hikes", "10.0.0.3"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Fatalf("client A second request: status = %d, want 429", w.Result().StatusCode)
	}

	// クライアントBは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newClientRequest(http.MethodGet, "/api/hikes", "10.0.0.4"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("client B: status = %d, want 200", w.Result().StatusCode)
	}

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
}

// --- SamplesMiddleware のテスト ---

func TestSamplesRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		SamplesRate:     10,
		SamplesBurst:    5,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	samples := rl.SamplesMiddleware()(okHandler())

	// 全般の制限を使い切る
	general.ServeHTTP(httptest.NewRecorder(), newClientRequest(http.MethodGet, "/api/hikes", "10.0.0.5"))

	// サンプル投稿はバースト分すべて通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		samples.ServeHTTP(w, newClientRequest(http.MethodPost, "/api/recording/samples", "10.0.0.5"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("sample request %d: status = %d, want 200", i, w.Result().StatusCode)
		}
	}

	w := httptest.NewRecorder()
	samples.ServeHTTP(w, newClientRequest(http.MethodPost, "/api/recording/samples", "10.0.0.5"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("sample request over burst: status = %d, want 429", w.Result().StatusCode)
	}

	if rl.SamplesLimiterCount() != 1 {
		t.Errorf("SamplesLimiterCount = %d, want 1", rl.SamplesLimiterCount())
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		SamplesRate:     1,
		SamplesBurst:    10,
		CleanupInterval: 50 * time.Millisecond, // テスト用に短く
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.GeneralMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), newClientRequest(http.MethodGet, "/api/hikes", "10.0.0.6"))
	rl.SamplesMiddleware()(okHandler()).ServeHTTP(httptest.NewRecorder(), newClientRequest(http.MethodPost, "/api/recording/samples", "10.0.0.6"))

	if rl.GeneralLimiterCount() == 0 || rl.SamplesLimiterCount() == 0 {
		t.Fatal("expected limiter entries")
	}

	// TTLはCleanupIntervalの2倍（100ms）。300ms待てば削除される
	time.Sleep(300 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general entries after cleanup, got %d", count)
	}
	if count := rl.SamplesLimiterCount(); count != 0 {
		t.Errorf("expected 0 samples entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

// --- ヘルパーのテスト ---

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"ipv4 with port", "192.0.2.1:1234", "192.0.2.1"},
		{"ipv6 with port", "[2001:db8::1]:443", "2001:db8::1"},
		{"no port", "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.SamplesRate != 10.0 { // 600/60 = 10
		t.Errorf("SamplesRate = %f, want 10.0", cfg.SamplesRate)
	}
	if cfg.SamplesBurst != 600 {
		t.Errorf("SamplesBurst = %d, want 600", cfg.SamplesBurst)
	}
}
