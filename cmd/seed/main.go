package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/nursing-fulfillment/internal/db"
)

var services = []struct {
	Name          string
	TravelBuffer  int
	TaskTemplates []string
}{
	{"Post-operative wound care", 30, []string{"Initial assessment", "Wound cleaning", "Dressing change", "Care instructions"}},
	{"Elderly daily care", 15, []string{"Vital signs check", "Medication administration", "Mobility assistance"}},
	{"Physical rehabilitation", 30, []string{"Range-of-motion assessment", "Guided exercises", "Progress notes"}},
	{"Maternal & newborn care", 20, []string{"Mother assessment", "Newborn assessment", "Feeding guidance"}},
	{"Chronic disease monitoring", 15, []string{"Vital signs check", "Symptom review", "Medication reconciliation"}},
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	serviceIDs, err := seedServices(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed services: %v", err)
	}
	nurseIDs, err := seedNurses(context.Background(), pool, 200, serviceIDs)
	if err != nil {
		log.Fatalf("seed nurses: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, 2000, serviceIDs); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Printf("seed complete: %d services, %d nurses", len(serviceIDs), len(nurseIDs))
}

func seedServices(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Printf("seeding %d services", len(services))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(services))
	for _, s := range services {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO services (id, name, travel_buffer_minutes, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, s.Name, s.TravelBuffer)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("services seeded")
	return ids, nil
}

func seedNurses(ctx context.Context, pool *pgxpool.Pool, count int, serviceIDs []uuid.UUID) ([]uuid.UUID, error) {
	log.Printf("seeding %d nurses", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		rating := float64(gofakeit.Number(30, 50)) / 10

		_, err := tx.Exec(ctx, `
			INSERT INTO nurses (id, name, rating, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, rating)
		if err != nil {
			return nil, err
		}

		// Each nurse qualifies for one to three services.
		qualCount := gofakeit.Number(1, 3)
		if qualCount > len(serviceIDs) {
			qualCount = len(serviceIDs)
		}
		perm := indexes(len(serviceIDs))
		gofakeit.ShuffleInts(perm)
		for _, svcIdx := range perm[:qualCount] {
			_, err := tx.Exec(ctx, `
				INSERT INTO nurse_qualifications (nurse_id, service_id)
				VALUES ($1, $2)
			`, id, serviceIDs[svcIdx])
			if err != nil {
				return nil, err
			}
		}

		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("nurses seeded")
	return ids, nil
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, count int, serviceIDs []uuid.UUID) error {
	log.Printf("seeding %d appointments", count)

	const batchSize = 200

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			svcIdx := gofakeit.Number(0, len(serviceIDs)-1)
			apptID := uuid.New()
			windowStart := time.Now().Add(time.Duration(gofakeit.Number(1, 14*24)) * time.Hour).Truncate(time.Hour)
			duration := gofakeit.Number(2, 8) * 30

			_, err := tx.Exec(ctx, `
				INSERT INTO appointments (id, service_id, window_start, duration_minutes, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, 'unassigned', now(), now())
			`, apptID, serviceIDs[svcIdx], windowStart, duration)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			pkgID := uuid.New()
			_, err = tx.Exec(ctx, `
				INSERT INTO customer_packages (id, appointment_id, name, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, pkgID, apptID, services[svcIdx].Name+" package")
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			for seq, taskName := range services[svcIdx].TaskTemplates {
				_, err := tx.Exec(ctx, `
					INSERT INTO package_tasks (id, package_id, seq, name, estimated_minutes, units, status)
					VALUES ($1, $2, $3, $4, $5, $6, 'pending')
				`, uuid.New(), pkgID, seq+1, taskName, gofakeit.Number(2, 6)*10, gofakeit.Number(1, 3))
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("appointments seeded: %d/%d", end, count)
	}

	log.Println("appointments seeded")
	return nil
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
