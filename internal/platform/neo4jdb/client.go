package neo4jdb

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/graphmesh-backend/internal/platform/envutil"
	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
)

type Config struct {
	URI      string
	User     string
	Password string
	Database string

	Timeout     time.Duration
	MaxPoolSize int
}

// Key identifies a connection; changing the password or database alone does
// not create a second driver for the same endpoint.
func (c Config) Key() string { return c.URI + "|" + c.User }

func ConfigFromEnv() Config {
	return Config{
		URI:         envutil.Str("NEO4J_URI", ""),
		User:        envutil.Str("NEO4J_USER", "neo4j"),
		Password:    envutil.Str("NEO4J_PASSWORD", ""),
		Database:    envutil.Str("NEO4J_DATABASE", ""),
		Timeout:     time.Duration(envutil.Int("NEO4J_TIMEOUT_SECONDS", 10)) * time.Second,
		MaxPoolSize: envutil.Int("NEO4J_MAX_POOL_SIZE", 50),
	}
}

type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
	Timeout  time.Duration
	log      *logger.Logger
}

func New(cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	if cfg.URI == "" {
		return nil, nil
	}
	if cfg.User == "" {
		cfg.User = "neo4j"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4jdb: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4jdb: verify connectivity: %w", err)
	}

	return &Client{
		Driver:   driver,
		Database: cfg.Database,
		Timeout:  cfg.Timeout,
		log:      log.With("client", "Neo4jDB", "uri", cfg.URI, "user", cfg.User),
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}
