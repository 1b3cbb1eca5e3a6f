// Package dbtest starts throwaway database servers for integration tests.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"dbmigrator/internal/config"
)

type Server struct {
	container testcontainers.Container
	provider  string
	dsn       string
}

func (s *Server) Config(schema string) config.DBConfig {
	return config.DBConfig{Provider: s.provider, DSN: s.dsn, Schema: schema}
}

func (s *Server) Terminate(ctx context.Context) error {
	return s.container.Terminate(ctx)
}

// NewPostgres starts a postgres container.
func NewPostgres(ctx context.Context) (*Server, error) {
	return start(ctx, "postgres", testcontainers.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "migrator",
			"POSTGRES_PASSWORD": "migrator",
			"POSTGRES_DB":       "migrator",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432", func(host string, port int) string {
		return fmt.Sprintf("postgres://migrator:migrator@%s:%d/migrator?sslmode=disable", host, port)
	})
}

// NewMySQL starts a mysql container.
func NewMySQL(ctx context.Context) (*Server, error) {
	return start(ctx, "mysql", testcontainers.ContainerRequest{
		Image: "mysql:8.0",
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "migrator",
			"MYSQL_DATABASE":      "migrator",
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").
			WithStartupTimeout(120 * time.Second),
	}, "3306", func(host string, port int) string {
		return fmt.Sprintf("root:migrator@tcp(%s:%d)/migrator?parseTime=true", host, port)
	})
}

func start(ctx context.Context, provider string, req testcontainers.ContainerRequest, containerPort string, dsn func(host string, port int) string) (*Server, error) {
	port, err := nat.NewPort("tcp", containerPort)
	if err != nil {
		return nil, err
	}
	req.ExposedPorts = []string{port.Port()}

	container, err := testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	if err != nil {
		return nil, err
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		termErr := container.Terminate(ctx)
		return nil, errors.Join(err, termErr)
	}
	host, err := container.Host(ctx)
	if err != nil {
		termErr := container.Terminate(ctx)
		return nil, errors.Join(err, termErr)
	}
	return &Server{
		container: container,
		provider:  provider,
		dsn:       dsn(host, mappedPort.Int()),
	}, nil
}
