package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	_ "github.com/lib/pq"
	appcfg "github.com/park285/cheese-duel-bot/internal/config"
	"github.com/park285/cheese-duel-bot/internal/irisfast"
	"github.com/redis/go-redis/v9"
)

// irischeck checks every backend the duel bot talks to and exits non-zero on a hard failure.
func main() {
	baseURL := os.Getenv("IRIS_BASE_URL")
	wsURL := os.Getenv("IRIS_WS_URL")
	userID := os.Getenv("X_USER_ID")
	userEmail := os.Getenv("X_USER_EMAIL")
	sessionID := os.Getenv("X_SESSION_ID")

	if baseURL == "" {
		log.Fatal("IRIS_BASE_URL is required")
	}

	headers := func() map[string]string {
		m := map[string]string{}
		if userID != "" {
			m["X-User-Id"] = userID
		}
		if userEmail != "" {
			m["X-User-Email"] = userEmail
		}
		if sessionID != "" {
			m["X-Session-Id"] = sessionID
		}
		return m
	}

	failed := false
	client := irisfast.NewClient(baseURL,
		irisfast.WithHeaderProvider(headers),
		irisfast.WithTimeout(8*time.Second),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	cfg, err := client.GetConfig(ctx)
	cancel()
	if err != nil {
		log.Printf("/config error: %v", err)
		failed = true
	} else {
		log.Printf("/config ok: port=%d polling=%d rate=%d endpoint=%s", cfg.Port, cfg.PollingSpeed, cfg.MessageRate, cfg.WebserverEndpoint)
	}

	if err := checkRedis(os.Getenv("REDIS_URL")); err != nil {
		log.Printf("redis error: %v", err)
		failed = true
	}
	if err := checkPostgres(os.Getenv("DATABASE_URL")); err != nil {
		log.Printf("postgres error: %v", err)
		failed = true
	}

	if wsURL == "" {
		log.Println("IRIS_WS_URL not set; skipping WS check")
	} else if err := checkWS(wsURL, headers); err != nil {
		log.Printf("WS connect error: %v", err)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}

func checkRedis(raw string) error {
	if strings.TrimSpace(raw) == "" {
		log.Println("REDIS_URL not set; skipping redis check")
		return nil
	}
	opts, err := appcfg.RedisOptions(raw)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	live, err := rdb.ZCard(ctx, "duel:due:active").Result()
	if err != nil {
		return err
	}
	pending, err := rdb.ZCard(ctx, "duel:due:pending").Result()
	if err != nil {
		return err
	}
	unsettled, err := rdb.ZCard(ctx, "duel:unsettled").Result()
	if err != nil {
		return err
	}
	broken, err := rdb.SCard(ctx, "duel:quarantine").Result()
	if err != nil {
		return err
	}
	log.Printf("redis ok: active=%d pending=%d unsettled=%d quarantined=%d", live, pending, unsettled, broken)
	return nil
}

func checkPostgres(dsn string) error {
	if strings.TrimSpace(dsn) == "" {
		log.Println("DATABASE_URL not set; archive disabled")
		return nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	var n int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM duel_results`).Scan(&n); err != nil {
		log.Printf("postgres ok (duel_results not readable yet: %v)", err)
		return nil
	}
	log.Printf("postgres ok: duel_results=%d", n)
	return nil
}

func checkWS(wsURL string, headers irisfast.HeaderProvider) error {
	ws := irisfast.NewWebSocket(wsURL, 0, time.Second)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		log.Printf("WS state: %s", state)
	})
	ws.OnMessage(func(msg *irisfast.Message) {
		fmt.Printf("WS msg room=%s from=%s text=%q\n", msg.Room, msg.SenderName(), msg.Msg)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		return err
	}

	// 짧게 관찰
	time.Sleep(10 * time.Second)
	return ws.Close(context.Background())
}
