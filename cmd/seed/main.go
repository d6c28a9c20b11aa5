package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/viper"

	"github.com/hackgods/vaccine-reservation-scheduling/internal/app"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/config"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/identity"
	"github.com/hackgods/vaccine-reservation-scheduling/internal/reservation"
)

var vaccines = []string{"Pfizer", "Moderna", "Janssen", "Novavax", "AstraZeneca"}

type seedConfig struct {
	Caregivers int
	Patients   int
	Days       int
	Password   string
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("err", err))
		os.Exit(1)
	}
	log := app.NewLogger("seed", cfg.LogLevel)

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SEED_CAREGIVERS", 20)
	v.SetDefault("SEED_PATIENTS", 500)
	v.SetDefault("SEED_DAYS", 30)
	v.SetDefault("SEED_PASSWORD", "password")
	sc := seedConfig{
		Caregivers: v.GetInt("SEED_CAREGIVERS"),
		Patients:   v.GetInt("SEED_PATIENTS"),
		Days:       v.GetInt("SEED_DAYS"),
		Password:   v.GetString("SEED_PASSWORD"),
	}
	if sc.Caregivers <= 0 || sc.Days <= 0 {
		log.Error("SEED_CAREGIVERS and SEED_DAYS must be > 0")
		os.Exit(1)
	}
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn("seeding the memory store; the data is gone when this process exits")
	}

	log.Info("seed starting",
		slog.String("store", cfg.StoreBackend),
		slog.Int("caregivers", sc.Caregivers),
		slog.Int("patients", sc.Patients),
		slog.Int("days", sc.Days))

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer a.Close()

	faker := gofakeit.New(0)

	caregivers, err := seedUsers(ctx, a.Identity, faker, reservation.RoleCaregiver, sc.Caregivers, sc.Password, log)
	if err != nil {
		log.Error("seed caregivers", slog.Any("err", err))
		os.Exit(1)
	}
	if _, err := seedUsers(ctx, a.Identity, faker, reservation.RolePatient, sc.Patients, sc.Password, log); err != nil {
		log.Error("seed patients", slog.Any("err", err))
		os.Exit(1)
	}
	if err := seedAvailability(ctx, a.Coordinator, faker, caregivers, sc.Days, log); err != nil {
		log.Error("seed availability", slog.Any("err", err))
		os.Exit(1)
	}
	if err := seedVaccines(ctx, a.Coordinator, faker, caregivers[0], log); err != nil {
		log.Error("seed vaccines", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("seed complete")
}

// seedUsers registers count users of one role. Generated names that are
// already taken are skipped and retried.
func seedUsers(ctx context.Context, ids *identity.Service, faker *gofakeit.Faker, role reservation.Role, count int, password string, log *slog.Logger) ([]reservation.Actor, error) {
	log.Info("seeding users", slog.String("role", string(role)), slog.Int("count", count))

	actors := make([]reservation.Actor, 0, count)
	for attempts := 0; len(actors) < count; attempts++ {
		if attempts > count*10 {
			return actors, fmt.Errorf("gave up after %d attempts with %d %s users", attempts, len(actors), role)
		}
		username := fmt.Sprintf("%s%d", faker.Username(), faker.Number(10, 9999))
		err := ids.Register(ctx, role, username, password)
		if errors.Is(err, identity.ErrUsernameTaken) {
			continue
		}
		if err != nil {
			return actors, err
		}
		actors = append(actors, reservation.Actor{Role: role, Username: username})

		if len(actors)%100 == 0 {
			log.Info("users seeded", slog.String("role", string(role)), slog.Int("done", len(actors)))
		}
	}
	return actors, nil
}

// seedAvailability gives each caregiver a random subset of the next days,
// roughly two days in three.
func seedAvailability(ctx context.Context, coord *reservation.Coordinator, faker *gofakeit.Faker, caregivers []reservation.Actor, days int, log *slog.Logger) error {
	today := reservation.DateOf(time.Now())
	uploaded := 0
	for _, cg := range caregivers {
		for d := 1; d <= days; d++ {
			if faker.Number(0, 2) == 0 {
				continue
			}
			err := coord.UploadAvailability(ctx, cg, today.AddDays(d).String())
			if errors.Is(err, reservation.ErrConflict) {
				continue
			}
			if err != nil {
				return err
			}
			uploaded++
		}
	}
	log.Info("availability seeded", slog.Int("slots", uploaded))
	return nil
}

func seedVaccines(ctx context.Context, coord *reservation.Coordinator, faker *gofakeit.Faker, caregiver reservation.Actor, log *slog.Logger) error {
	for _, name := range vaccines {
		n, err := coord.AdjustDoses(ctx, caregiver, name, faker.Number(50, 500))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		log.Info("vaccine seeded", slog.String("vaccine", name), slog.Int("doses", n))
	}
	return nil
}
