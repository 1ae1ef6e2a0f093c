// Command seed fills the database with demo users and ads around a centre point.
package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mapmarket/backend/config"
	"github.com/mapmarket/backend/internal/ads"
	"github.com/mapmarket/backend/internal/auth"
	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/models"
	"github.com/mapmarket/backend/internal/seed"
	"github.com/mapmarket/backend/pkg/database"
	"github.com/mapmarket/backend/pkg/utils"
)

const demoPassword = "password123"

func main() {
	numUsers := flag.Int("users", 10, "number of demo users")
	adsPerUser := flag.Int("ads", 3, "ads per demo user")
	lat := flag.Float64("lat", 52.52, "centre latitude")
	lng := flag.Float64("lng", 13.405, "centre longitude")
	radius := flag.Float64("radius", 10, "radius in km")
	seedValue := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	adminEmail := flag.String("admin-email", "admin@mapmarket.local", "admin account email")
	adminPassword := flag.String("admin-password", "admin123", "admin account password")
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	codec, err := ads.NewShareCodec(cfg.Lifecycle.ShareCodeAlphabet)
	if err != nil {
		logger.Fatal("share codes", zap.Error(err))
	}
	userRepo := auth.NewRepository(pool)
	adRepo := ads.NewRepository(pool, codec)
	manager := lifecycle.NewManager(ads.NewLifecycleStore(pool, codec), lifecycle.SystemClock{}, logger)
	defaults := models.NewUserPolicy(cfg.Lifecycle.DefaultMaxActiveAds, cfg.Lifecycle.DefaultAdActiveDays)

	admin, err := ensureUser(ctx, userRepo, *adminEmail, *adminPassword, "Moderator", models.RoleAdmin, defaults)
	if err != nil {
		logger.Fatal("admin user", zap.Error(err))
	}
	moderator := lifecycle.Actor{UserID: admin.ID, IsAdmin: true}

	factory := seed.NewFactory(*seedValue, seed.Area{Lat: *lat, Lng: *lng, RadiusKm: *radius})
	var created, live int
	for i := 1; i <= *numUsers; i++ {
		email, name := factory.User(i)
		u, err := ensureUser(ctx, userRepo, email, demoPassword, name, models.RoleUser, defaults)
		if err != nil {
			logger.Fatal("demo user", zap.Error(err), zap.String("email", email))
		}
		for j := 0; j < *adsPerUser; j++ {
			req := factory.Ad()
			ad := &models.Ad{UserID: u.ID}
			if err := req.Apply(ad); err != nil {
				logger.Warn("skipping generated ad", zap.Error(err))
				continue
			}
			if err := adRepo.Create(ctx, ad); err != nil {
				logger.Fatal("create ad", zap.Error(err))
			}
			created++
			// Leave the last ad of each user pending so the moderation queue has work.
			if j == *adsPerUser-1 {
				continue
			}
			_, err := manager.ApproveAndActivate(ctx, moderator, ad.ID)
			switch {
			case err == nil:
				live++
			case errors.Is(err, lifecycle.ErrCapacityExceeded):
				// approved, waiting for a free slot
			default:
				logger.Fatal("approve ad", zap.Error(err), zap.String("ad_id", ad.ID.String()))
			}
		}
	}

	logger.Info("seed complete",
		zap.String("admin", *adminEmail),
		zap.Int("users", *numUsers),
		zap.Int("ads", created),
		zap.Int("live", live),
		zap.String("demo_password", demoPassword),
	)
}

func ensureUser(ctx context.Context, repo *auth.Repository, email, password, name string, role models.Role, policy models.UserPolicy) (*models.User, error) {
	u, err := repo.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, auth.ErrNotFound) {
		return nil, err
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return repo.Create(ctx, email, hash, name, role, policy)
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

