package client

import (
	"database/sql/driver"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Database is the connection config read from viper / environment.
type Database struct {
	Username        string
	Password        string
	Host            string
	Port            uint32
	Name            string
	TracingEnabled  bool
	MaxOpenConns    uint32
	MaxIdleConns    uint32
	ConnMaxIdleTime uint32
	ConnMaxLifeTime uint32
}

func ReadConfig() *Database {
	viper.BindEnv("db.user", "DB_USER")
	viper.BindEnv("db.password", "DB_PASSWORD")
	viper.BindEnv("db.host", "DB_HOST")
	viper.BindEnv("db.port", "DB_PORT")
	viper.BindEnv("db.name", "DB_NAME")

	return &Database{
		Username:        viper.GetString("db.user"),
		Password:        viper.GetString("db.password"),
		Host:            viper.GetString("db.host"),
		Port:            viper.GetUint32("db.port"),
		Name:            viper.GetString("db.name"),
		TracingEnabled:  viper.GetBool("db.tracing_enabled"),
		MaxOpenConns:    viper.GetUint32("db.max_open_conns"),
		MaxIdleConns:    viper.GetUint32("db.max_idle_conns"),
		ConnMaxIdleTime: viper.GetUint32("db.conn_max_idle_time"),
		ConnMaxLifeTime: viper.GetUint32("db.conn_max_life_time"),
	}
}

// NewDriver wraps the mysql driver so the DSN is assembled from config
// instead of threaded through sql.Open.
func NewDriver(config *Database) driver.Driver {
	return &Driver{config: config}
}

type Driver struct {
	drv    mysql.MySQLDriver
	config *Database
}

func (d *Driver) Open(_ string) (driver.Conn, error) {
	dbEndpoint := fmt.Sprintf("%s:%d", d.config.Host, d.config.Port)

	mysqlConfig := &mysql.Config{
		Addr:                    dbEndpoint,
		DBName:                  d.config.Name,
		Net:                     "tcp",
		AllowCleartextPasswords: true,
		AllowNativePasswords:    true,
		ParseTime:               true,
		User:                    d.config.Username,
		Passwd:                  d.config.Password,
	}

	return d.drv.Open(mysqlConfig.FormatDSN())
}
