package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/carline/pickup-queue/internal/config"
	"github.com/carline/pickup-queue/internal/database"
	"github.com/carline/pickup-queue/internal/event"
	"github.com/carline/pickup-queue/internal/handler"
	"github.com/carline/pickup-queue/internal/middleware"
	"github.com/carline/pickup-queue/internal/notify"
	"github.com/carline/pickup-queue/internal/pickup"
	"github.com/carline/pickup-queue/internal/repository"
	"github.com/carline/pickup-queue/internal/router"
	pickup_publisher "github.com/carline/pickup-queue/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Redis is optional: without it the scan endpoints still work, but
	// live fan-out, rate limiting and the directory cache are disabled.
	rdb := config.NewRedisClient()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	students := repository.NewStudentRepo(db)
	vehicles := repository.NewVehicleRepo(db)
	schools := repository.NewSchoolRepo(db)
	queue := repository.NewQueueStore(db)

	notifier := notify.NewPublisher(rdb)
	var hub *notify.Hub
	if rdb != nil {
		hub = notify.NewHub(notify.NewRedisSubscriber(rdb))
	}

	manager := pickup.NewManager(queue, notifier, pickup_publisher.New())

	authH := handler.NewAuthHandler(cfg, users, tokens)
	studentH := handler.NewStudentHandler(students, schools)
	vehicleH := handler.NewVehicleHandler(vehicles)
	schoolH := handler.NewSchoolHandler(schools)
	scanH := handler.NewScanHandler(manager, students, vehicles)
	queueViewH := handler.NewQueueViewHandler(queue)
	wsH := handler.NewWSHandler(hub)

	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, authH, cfg.JWTSecret)
	router.RegisterPublic(e, schoolH, cache)
	router.RegisterParent(e, studentH, vehicleH, cfg.JWTSecret)
	router.RegisterPickup(e, scanH, queueViewH, wsH, schoolH, cfg.JWTSecret, limiter)

	// Durable pickup.completed consumer; reconnects on broker outages.
	go func() {
		if err := event.StartPickupConsumer(); err != nil {
			log.Printf("pickup consumer stopped: %v", err)
		}
	}()

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
