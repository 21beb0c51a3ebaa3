package auth

import (
	"context"
	"database/sql"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"minichat/internal/config"
	"minichat/internal/redis"
	"minichat/internal/storage"
)

func TestIssueValidateRevoke(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 1)

	svc := NewService(db, nil, time.Hour)
	token, err := svc.IssueToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	userID, err := svc.ValidateToken(context.Background(), token)
	if err != nil || userID != 1 {
		t.Fatalf("ValidateToken failed: id=%d err=%v", userID, err)
	}
	if err := svc.RevokeToken(context.Background(), token); err != nil {
		t.Fatalf("RevokeToken error: %v", err)
	}
	if _, err := svc.ValidateToken(context.Background(), token); err == nil {
		t.Fatalf("expected error after revoke")
	}

	token2, err := svc.IssueToken(context.Background(), 1)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if err := svc.RevokeUserTokens(context.Background(), 1); err != nil {
		t.Fatalf("RevokeUserTokens error: %v", err)
	}
	if _, err := svc.ValidateToken(context.Background(), token2); err == nil {
		t.Fatalf("expected error after revoke all")
	}
}

func TestRevokeUnknownTokenIsNoop(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	svc := NewService(db, nil, time.Hour)
	if err := svc.RevokeToken(context.Background(), "never-issued"); err != nil {
		t.Fatalf("RevokeToken unknown: %v", err)
	}
	if err := svc.RevokeToken(context.Background(), ""); err != nil {
		t.Fatalf("RevokeToken empty: %v", err)
	}
}

func TestValidateExpiredTokenPurges(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 2)

	svc := NewService(db, nil, 10*time.Millisecond)
	token, err := svc.IssueToken(context.Background(), 2)
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := svc.ValidateToken(context.Background(), token); err == nil {
		t.Fatalf("expected expiration error")
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM user_tokens WHERE token = ?`, token).Scan(&count); err != nil {
		t.Fatalf("query tokens: %v", err)
	}
	if count != 0 {
		t.Fatalf("expired token not purged")
	}
}

func TestTokenCacheUsesRedis(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 10)

	cacheClient, cleanup := newRedisCacheClient(t)
	defer cleanup()

	svc := NewService(db, cacheClient, time.Hour)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 10)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	key := redisTokenPrefix + token
	got, err := cacheClient.Get(ctx, key)
	if err != nil {
		t.Fatalf("get cached token: %v", err)
	}
	if got != "10" {
		t.Fatalf("expected user 10 in cache, got %s", got)
	}

	// Cache hit alone validates even when the row is gone.
	_, _ = db.Exec(`DELETE FROM user_tokens WHERE token = ?`, token)
	userID, err := svc.ValidateToken(ctx, token)
	if err != nil || userID != 10 {
		t.Fatalf("ValidateToken via cache failed: id=%d err=%v", userID, err)
	}

	if err := svc.RevokeToken(ctx, token); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := cacheClient.Get(ctx, key); err == nil {
		t.Fatalf("expected cache key deleted")
	}
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected error after revoke")
	}
}

func TestCachedTokenExpiresWithSession(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertUser(t, db, 11)

	cacheClient, cleanup := newRedisCacheClient(t)
	defer cleanup()

	svc := NewService(db, cacheClient, 2*time.Second)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, 11)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	time.Sleep(1200 * time.Millisecond)
	if _, err := svc.ValidateToken(ctx, token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}

	// The validation re-cache carries the remaining lifetime, never a
	// fresh full TTL.
	ttl, err := cacheClient.TTL(ctx, redisTokenPrefix+token)
	if err != nil {
		t.Fatalf("cache ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Second {
		t.Fatalf("cache ttl %v exceeds remaining session lifetime", ttl)
	}

	time.Sleep(1100 * time.Millisecond)
	if _, err := svc.ValidateToken(ctx, token); err == nil {
		t.Fatalf("expected validation to fail after session expiry")
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func insertUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO users (id, github_id, username, created_at) VALUES (?, ?, ?, ?)`,
		id, "gh_"+strconv.FormatInt(id, 10), "user_"+strconv.FormatInt(id, 10), time.Now().UTC())
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func newRedisCacheClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed auth tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{Host: host, Port: port, DB: db},
	}
	client, err := redis.NewClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if raw := client.Raw(); raw != nil {
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	return client, func() { client.Close() }
}
