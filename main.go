package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"civicfix-be/blob"
	"civicfix-be/config"
	"civicfix-be/controllers"
	"civicfix-be/lock"
	"civicfix-be/routes"
	"civicfix-be/services"
	"civicfix-be/store"
	"civicfix-be/store/memory"
	"civicfix-be/store/mongostore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx := context.Background()

	var st store.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Println("Using in-memory store")
		st = memory.New()
	default:
		client, db, err := config.ConnectDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer config.DisconnectDB(client)

		ms := mongostore.New(client, db)
		if err := ms.EnsureIndexes(ctx); err != nil {
			log.Fatalf("Failed to create indexes: %v", err)
		}
		st = ms
	}

	var locks lock.Locker = lock.NewLocal(cfg.TransitionLockWait)
	redisClient, err := config.ConnectRedis(cfg)
	if err != nil {
		log.Fatal(err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		locks = lock.NewRedis(redisClient, "civicfix:lock", cfg.TransitionLockTTL, cfg.TransitionLockWait)
	}

	r := gin.Default()

	var blobs blob.Store
	if cfg.GCSBucket != "" {
		gcs, err := blob.NewGCSStore(ctx, cfg.GCSBucket, "photos")
		if err != nil {
			log.Fatalf("Failed to open bucket %s: %v", cfg.GCSBucket, err)
		}
		defer gcs.Close()
		blobs = gcs
	} else {
		local, err := blob.NewLocalStore(cfg.PhotoDir, "photos", cfg.PhotoBaseURL)
		if err != nil {
			log.Fatalf("Failed to prepare photo directory: %v", err)
		}
		r.Static(cfg.PhotoBaseURL, local.Dir())
		blobs = local
	}

	views := services.NewViews(st, blobs)
	accounts := services.NewAccountService(st, cfg.JWTSecret, cfg.JWTTTL)
	if err := accounts.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		log.Fatalf("Failed to create admin user: %v", err)
	}

	routes.SetupRoutes(r, routes.Handlers{
		Auth: controllers.NewAuthController(accounts, cfg),
		Issues: controllers.NewIssueController(
			services.NewIssueService(st, blobs, locks, views),
			services.NewQueryService(st, views),
			services.NewTransitionEngine(st, locks, views),
			cfg.RequestTimeout,
		),
		Authenticator: accounts,
	}, cfg.CORSOrigins)

	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
