// Package infra provisions PostgreSQL for the integration and stress
// tests.
package infra

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// DSNEnv names an existing database the tests reuse instead of
// starting a container.
const DSNEnv = "PARTNERFLOW_TEST_DSN"

const postgresImage = "postgres:16-alpine"

// Postgres is a database reachable at DSN. It is either shared (named by
// the caller or DSNEnv) or owned by a container this package started.
type Postgres struct {
	DSN       string
	container *postgres.PostgresContainer
}

// StartPostgres returns the database named by dsn or DSNEnv. When both
// are empty it starts a disposable container.
func StartPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		dsn = os.Getenv(DSNEnv)
	}
	if dsn != "" {
		return &Postgres{DSN: dsn}, nil
	}

	c, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("partnerflow"),
		postgres.WithUsername("partnerflow"),
		postgres.WithPassword("partnerflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}
	dsn, err = c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, err
	}
	return &Postgres{DSN: dsn, container: c}, nil
}

// Shared reports whether the database outlives the test run. Shared
// databases must be migrated into an isolated schema.
func (p *Postgres) Shared() bool {
	return p.container == nil
}

func (p *Postgres) Terminate(ctx context.Context) error {
	if p == nil || p.container == nil {
		return nil
	}
	return p.container.Terminate(ctx)
}

// DockerAvailable reports whether a Docker daemon answers.
func DockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, "docker", "info")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	return cmd.Run() == nil
}
