package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/park285/cheese-duel-bot/internal/adapter/arenapresenter"
	"github.com/park285/cheese-duel-bot/internal/combat"
	appcfg "github.com/park285/cheese-duel-bot/internal/config"
	"github.com/park285/cheese-duel-bot/internal/duel"
	"github.com/park285/cheese-duel-bot/internal/irisfast"
	"github.com/park285/cheese-duel-bot/internal/ledger"
	"github.com/park285/cheese-duel-bot/internal/msgcat"
	"github.com/park285/cheese-duel-bot/internal/names"
	"github.com/park285/cheese-duel-bot/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := run(cfg); err != nil {
		obslog.L().Error("duel_bot_exit", zap.Error(err))
		obslog.Sync()
		log.Fatalf("duel-bot: %v", err)
	}
}

func run(cfg *appcfg.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := appcfg.RedisOptions(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	pctx, pcancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pctx).Err()
	pcancel()
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	dcfg := duelConfig(cfg.Duel)
	wallet := ledger.NewWallet(rdb, cfg.Duel.StartBalance)
	rep := ledger.NewReputation(rdb)
	nameStore := names.NewStore(rdb)
	store := duel.NewRedisStore(rdb, dcfg.Retention)

	mgr := duel.NewManager(store, duel.NewSettlement(rdb, wallet, rep, dcfg.ReputationReward), dcfg)
	buffs := ledger.NewBuffs(rdb, cfg.Duel.MaxBuff)
	mgr.AttachBuffs(buffs)
	mgr.AttachNames(nameStore)

	if cfg.DatabaseURL != "" {
		repo, err := duel.NewRepository(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("duel repo init: %w", err)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("duel repo schema: %w", err)
		}
		mgr.AttachArchive(repo)
	} else {
		obslog.L().Info("duel_archive_disabled")
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}

	headers := func() map[string]string {
		h := map[string]string{}
		if cfg.XUserID != "" {
			h["X-User-Id"] = cfg.XUserID
		}
		if cfg.XUserEmail != "" {
			h["X-User-Email"] = cfg.XUserEmail
		}
		if cfg.XSessionID != "" {
			h["X-Session-Id"] = cfg.XSessionID
		}
		return h
	}
	client := irisfast.NewClient(cfg.IrisBaseURL, irisfast.WithHeaderProvider(headers))
	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		obslog.L().Info("ws_state", zap.String("state", state.String()))
	})
	egress := irisfast.NewEgress(cfg.EgressMode, cfg.DryRun, client, ws, obslog.L())

	formatter := arenapresenter.NewFormatter(cat, arenapresenter.StaticPrefix(cfg.BotPrefix), dcfg.Rules, dcfg.ReputationReward)
	surface, err := arenapresenter.NewSurface(egress, cfg.Duel.EditInterval, 512, formatter.Actions)
	if err != nil {
		return err
	}
	presenter, err := arenapresenter.NewPresenter(surface, formatter, 256)
	if err != nil {
		return err
	}
	announcements := arenapresenter.NewQueue(presenter, 1024, 5*time.Second)
	mgr.AttachAnnouncer(announcements)

	b := &bot{
		cfg:      cfg,
		duels:    mgr,
		wallet:   wallet,
		rep:      rep,
		names:    nameStore,
		buffs:    buffs,
		view:     formatter,
		out:      egress,
		maxStake: cfg.Duel.MaxStake,
	}
	ws.OnMessage(func(msg *irisfast.Message) {
		// ws 읽기 루프를 막지 않도록 분리
		go b.handle(ctx, msg)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return duel.NewSweeper(mgr, store).Run(gctx)
	})
	g.Go(func() error {
		return announcements.Run(gctx)
	})
	g.Go(func() error {
		return serveIngress(gctx, ws, cfg.EgressMode)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveIngress keeps the socket open until ctx ends.
func serveIngress(ctx context.Context, in irisfast.Ingress, mode string) error {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := in.Connect(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	obslog.L().Info("duel_bot_ready", zap.String("egress", mode), zap.Bool("connected", in.Connected()))
	<-ctx.Done()
	closeCtx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	return in.Close(closeCtx)
}

func duelConfig(d appcfg.DuelConfig) duel.Config {
	rules := combat.DefaultRules()
	rules.MaxHP = d.MaxHP
	rules.MaxAmmo = d.MaxAmmo
	rules.BaseAccuracy = d.BaseAccuracy
	rules.MaxAccuracy = d.MaxAccuracy
	rules.AimBonus = d.AimBonus
	rules.HealAmount = d.HealAmount
	rules.DodgePenalty = d.DodgePenalty
	rules.FumbleChance = d.FumbleChance
	rules.CritChance = d.CritChance
	rules.AimedCrit = d.AimedCrit
	rules.Damage = d.Damage
	rules.CritDamage = d.CritDamage
	rules.NearMissMargin = d.NearMissMargin

	return duel.Config{
		Rules:            rules,
		AcceptTimeout:    d.AcceptTimeout,
		RoundDuration:    d.RoundDuration,
		RoundStep:        d.RoundStep,
		RoundFloor:       d.RoundFloor,
		ReputationReward: d.ReputationReward,
		MaxAttempts:      d.MaxAttempts,
		SweepInterval:    d.SweepInterval,
		SweepBatch:       d.SweepBatch,
		Retention:        d.Retention,
	}
}
