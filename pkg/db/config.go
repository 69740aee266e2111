package db

type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

func (c Config) withDefaults() Config {
	if c.MaxIdleConn <= 0 {
		c.MaxIdleConn = 5
	}
	if c.MaxOpenConn <= 0 {
		c.MaxOpenConn = 25
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 3600
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 600
	}
	return c
}
