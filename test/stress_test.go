package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"partnerflow/lead"
	"partnerflow/partner"
	"partnerflow/test/actors"
	"partnerflow/test/chaos"
	"partnerflow/test/infra"
	"partnerflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 20*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of actors of each kind")
	flPartners    = flag.Int("partners", 12, "number of partners accepting the agreement")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// TestAgreementAcceptanceUnderLoad races acceptances, replays, projectors,
// profile readers and lead writers against one database while backends
// are killed, checking the SQL oracles as it goes and once everything
// has settled.
func TestAgreementAcceptanceUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test skipped in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+2*time.Minute)
	defer cancel()

	db := openDatabase(t, ctx)
	pool := db.Pool
	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	partners := svcPartners(pool, logger)
	leads := lead.NewService(pool, lead.NewRepository(pool)).WithLogger(logger)
	seed := mustSeed(t, ctx, pool, partners)

	var (
		stats  actors.Stats
		shared actors.Leads
		stop   = make(chan struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *flConcurrency; i++ {
		projector := partner.NewProjector(pool, nil).WithBatchSize(5).WithLogger(logger)
		g.Go(func() error { return actors.Acceptor(gctx, partners, seed.partnerIDs, &stats, stop) })
		g.Go(func() error { return actors.Projector(gctx, projector, &stats, stop) })
		g.Go(func() error { return actors.Reader(gctx, partners, seed.partnerIDs, &stats, stop) })

		writer := lead.Actor{ID: seed.partnerIDs[i%len(seed.partnerIDs)], Role: "partner"}
		g.Go(func() error { return actors.LeadWriter(gctx, leads, writer, &shared, &stats, stop) })
	}
	g.Go(func() error {
		return actors.Reviewer(gctx, leads, lead.Actor{ID: seed.adminID, Role: "admin"}, &shared, &stats, stop)
	})
	g.Go(func() error {
		chaos.KillBackends(gctx, pool, time.Second, logger, stop)
		return nil
	})

	deadline := time.After(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-deadline:
			break loop
		case <-gctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(gctx, pool, oracles.Live())
			if err != nil {
				// A killed backend fails the check itself; try again next tick.
				t.Logf("oracle check interrupted: %v", err)
				continue
			}
			if name != "" {
				close(stop)
				_ = g.Wait()
				dumpRecent(t, pool)
				t.Fatalf("oracle %s failed. First row: %s (%s)", name, row, &stats)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		dumpRecent(t, pool)
		t.Fatalf("actor failed: %v (%s)", err, &stats)
	}

	settle(t, ctx, pool, logger)
	all := append(oracles.Live(), oracles.Settled()...)
	if name, row, err := oracles.Run(ctx, pool, all); err != nil || name != "" {
		dumpRecent(t, pool)
		t.Fatalf("settled oracle %s failed: row=%s err=%v (%s)", name, row, err, &stats)
	}
	if stats.Accepted.Load() == 0 {
		t.Fatalf("no acceptance went through: %s", &stats)
	}
	t.Logf("stress finished: %s", &stats)
}

func openDatabase(t *testing.T, ctx context.Context) *infra.Database {
	t.Helper()
	var (
		pg  *infra.Postgres
		err error
	)
	switch {
	case *flDSN != "" || infra.DockerAvailable(ctx):
		pg, err = infra.StartPostgres(ctx, *flDSN)
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	default:
		dsn, err := infra.CreateLocalDatabase(ctx, "partnerflow_stress")
		if err != nil {
			t.Skipf("no database for stress test: %v", err)
		}
		pg = &infra.Postgres{DSN: dsn}
	}
	t.Cleanup(func() {
		if err := pg.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	db, err := infra.Open(ctx, pg.DSN, pg.Shared())
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(context.Background()); err != nil {
			t.Logf("close database: %v", err)
		}
	})
	return db
}

func svcPartners(pool *pgxpool.Pool, logger *zap.Logger) *partner.Service {
	return partner.NewService(pool, nil).WithBcryptCost(bcrypt.MinCost).WithLogger(logger)
}

type seedIDs struct {
	adminID    string
	partnerIDs []string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, svc *partner.Service) seedIDs {
	t.Helper()
	var s seedIDs
	const adminSQL = `INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Stress Admin', 'x', 'admin') RETURNING id`
	if err := pool.QueryRow(ctx, adminSQL, fmt.Sprintf("admin+%d@example.com", time.Now().UnixNano())).Scan(&s.adminID); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	docs := []partner.Document{
		{Kind: "pan_card", Filename: "pan.pdf", Content: []byte("%PDF-1.4 pan")},
		{Kind: "aadhaar_card", Filename: "aadhaar.pdf", Content: []byte("%PDF-1.4 aadhaar")},
		{Kind: "cancelled_cheque", Filename: "cheque.pdf", Content: []byte("%PDF-1.4 cheque")},
	}
	for i := 0; i < *flPartners; i++ {
		reg, err := svc.Register(ctx, partner.Registration{
			FullName:      fmt.Sprintf("Stress Partner %d", i),
			Email:         fmt.Sprintf("partner%d+%d@example.com", i, time.Now().UnixNano()),
			Password:      "supersafe",
			CompanyName:   "Stress Finserv",
			PAN:           "ABCDE1234F",
			AccountNumber: "123456789012",
			IFSC:          "HDFC0001234",
		}, docs)
		if err != nil {
			t.Fatalf("seed partner %d: %v", i, err)
		}
		s.partnerIDs = append(s.partnerIDs, reg.UserID)
	}
	return s
}

// settle drains the outbox once the load is gone. Connections killed
// during the run may still surface as one-off errors.
func settle(t *testing.T, ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) {
	t.Helper()
	projector := partner.NewProjector(pool, nil).WithLogger(logger)
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if _, err = projector.Drain(ctx); err == nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("final drain: %v", err)
}

func dumpRecent(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dumps := []struct{ name, sql string }{
		{"outbox", `SELECT id, status, attempts, payload->>'user_id', last_error FROM outbox ORDER BY id DESC LIMIT 30`},
		{"agreement_acceptances", `SELECT user_id, accepted_at FROM agreement_acceptances ORDER BY accepted_at DESC LIMIT 30`},
		{"partner_profiles", `SELECT user_id, agreement_accepted, agreement_accepted_at FROM partner_profiles ORDER BY updated_at DESC LIMIT 30`},
		{"lead_events", `SELECT id, lead_id, type, payload FROM lead_events ORDER BY id DESC LIMIT 30`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			line := make([]string, 0, len(vals))
			for i := range vals {
				line = append(line, fmt.Sprintf("%s=%v", cols[i].Name, vals[i]))
			}
			t.Log(line)
		}
		rows.Close()
	}
}
