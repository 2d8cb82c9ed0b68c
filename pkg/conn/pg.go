package conn

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Option is the PostgreSQL connection section. ConnString, when set, wins
// over the individual fields.
type Option struct {
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	User       string            `json:"user"`
	Password   string            `json:"password"`
	Database   string            `json:"database"`
	SSLMode    string            `json:"sslMode"`
	Params     map[string]string `json:"params"`
	ConnString string            `json:"connString"`
	MaxConns   int32             `json:"maxConns"`
	Config     *gorm.Config      `json:"-"`
}

func (opt Option) withDefaults() Option {
	if opt.Host == "" {
		opt.Host = "localhost"
	}
	if opt.Port == 0 {
		opt.Port = 5432
	}
	if opt.SSLMode == "" {
		opt.SSLMode = "disable"
	}
	return opt
}

// DSN returns the connection string built from the options.
func (opt Option) DSN() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}
	opt = opt.withDefaults()
	if opt.Port < 0 || opt.Port > 65535 {
		return "", fmt.Errorf("invalid postgres port: %d", opt.Port)
	}

	query := make(url.Values, len(opt.Params)+1)
	for key, value := range opt.Params {
		if key != "" {
			query.Set(key, value)
		}
	}
	query.Set("sslmode", opt.SSLMode)

	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", opt.Host, opt.Port),
		RawQuery: query.Encode(),
	}
	switch {
	case opt.User != "" && opt.Password != "":
		u.User = url.UserPassword(opt.User, opt.Password)
	case opt.User != "":
		u.User = url.User(opt.User)
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}
	return u.String(), nil
}

// Client is a gorm handle over a database/sql pool.
type Client struct {
	db *gorm.DB
}

// New opens a gorm client. MaxConns, when set, caps the open connections.
func New(option Option) (*Client, error) {
	dsn, err := option.DSN()
	if err != nil {
		return nil, err
	}
	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}
	db, err := gorm.Open(postgres.Open(dsn), config)
	if err != nil {
		return nil, err
	}
	if option.MaxConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(int(option.MaxConns))
	}
	return &Client{db: db}, nil
}

func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.db
}

func (c *Client) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// NewPool opens and pings a pgx pool for the same database.
func NewPool(ctx context.Context, option Option) (*pgxpool.Pool, error) {
	dsn, err := option.DSN()
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if option.MaxConns > 0 {
		cfg.MaxConns = option.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
