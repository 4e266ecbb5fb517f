package client

import (
	"database/sql"
	"os"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	sqltrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/database/sql"
)

// Open initializes the shared ent SQL driver from config.
func Open(name string, cfg *Database) (*entsql.Driver, error) {
	var (
		db  *sql.DB
		err error
	)

	driver := NewDriver(cfg)
	sql.Register(name, driver)
	if cfg.TracingEnabled {
		sqltrace.Register(name, driver, sqltrace.WithServiceName(os.Getenv("DD_SERVICE")))
		db, err = sqltrace.Open(name, "", sqltrace.WithServiceName(os.Getenv("DD_SERVICE")))
		if err != nil {
			return nil, err
		}
	} else {
		db, err = sql.Open(name, "")
		if err != nil {
			return nil, err
		}
	}
	drv := entsql.OpenDB(dialect.MySQL, db)
	if cfg.MaxIdleConns > 0 {
		drv.DB().SetMaxIdleConns(int(cfg.MaxIdleConns))
	}
	if cfg.MaxOpenConns > 0 {
		drv.DB().SetMaxOpenConns(int(cfg.MaxOpenConns))
	}
	if cfg.ConnMaxIdleTime > 0 {
		drv.DB().SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)
	}
	if cfg.ConnMaxLifeTime > 0 {
		drv.DB().SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeTime) * time.Minute)
	}
	return drv, nil
}
