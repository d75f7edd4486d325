package main // Entry point package

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/config"
	"github.com/iliyamo/event-ticket-reservation/internal/database"
	"github.com/iliyamo/event-ticket-reservation/internal/handler"
	"github.com/iliyamo/event-ticket-reservation/internal/queue"
	"github.com/iliyamo/event-ticket-reservation/internal/quota"
	"github.com/iliyamo/event-ticket-reservation/internal/repository"
	"github.com/iliyamo/event-ticket-reservation/internal/restriction"
	"github.com/iliyamo/event-ticket-reservation/internal/router"
	"github.com/iliyamo/event-ticket-reservation/internal/variation"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env vars win
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.EnsureSchema(context.Background(), db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	// Redis is optional: a nil client switches the cache to in-process
	// storage, the rate limiter to pass-through, and the quota ledger
	// to degraded mode on first use.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, running with in-process fallbacks")
	}
	caches := cache.New(config.LoadCacheConfig(), rdb)

	items := repository.NewItemRepo(db, caches)
	categories := repository.NewCategoryRepo(db, caches)
	properties := repository.NewPropertyRepo(db, caches)
	variations := repository.NewVariationRepo(db, caches)
	quotas := repository.NewQuotaRepo(db, caches)
	restrictions := repository.NewRestrictionRepo(db, caches)
	reservations := repository.NewReservationRepo(db, caches)
	orders := repository.NewOrderRepo(db)

	engine := variation.NewEngine(repository.NewVariationLoader(properties, variations))

	backend := quota.NewRedisBackend(rdb, "quotalock")
	ledger := quota.NewLedger(reservations, backend, restriction.NewChecker(restrictions), quota.LedgerConfig{
		LockTTL:        time.Duration(cfg.LockTTLSec) * time.Second,
		AcquireRetries: cfg.LockRetries,
		CartTTL:        time.Duration(cfg.CartTTLMin) * time.Minute,
	})

	// Periodic sweeps: expired cart positions release their units and
	// overdue pending orders are expired.
	go func() {
		interval := time.Duration(cfg.ReapIntervalSec) * time.Second
		for {
			time.Sleep(interval)
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if n, err := ledger.ReapExpired(ctx, 500); err != nil {
				log.Printf("reaper: cart sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("reaper: released %d expired cart positions", n)
			}
			if expired, err := orders.ExpireOverdue(ctx, time.Now()); err != nil {
				log.Printf("reaper: order sweep failed: %v", err)
			} else if len(expired) > 0 {
				log.Printf("reaper: expired %d overdue orders", len(expired))
			}
			cancel()
		}
	}()

	// Background consumer logging placed orders.
	go func() {
		if err := queue.StartOrderConsumer(); err != nil {
			log.Printf("order-consumer stopped: %v", err)
		}
	}()

	orderTerm := time.Duration(cfg.OrderTermDays) * 24 * time.Hour
	reservationHandler := handler.NewReservationHandler(ledger, quotas, orders, categories, orderTerm)
	catalogHandler := handler.NewCatalogHandler(items, categories, engine, caches)
	adminHandler := &handler.AdminHandler{
		Organizers:   repository.NewOrganizerRepo(db),
		Events:       repository.NewEventRepo(db, caches),
		Items:        items,
		Properties:   properties,
		Variations:   variations,
		Quotas:       quotas,
		Restrictions: restrictions,
		Engine:       engine,
	}

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAPI(e, rdb, reservationHandler, catalogHandler, adminHandler)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
