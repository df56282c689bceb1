package config

import (
	"fmt"
)

type DbConfig interface {
	GetConnectionString() string
}

// PostgresConfig represents the configuration needed to connect to a PostgreSQL database
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (pc *PostgresConfig) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		pc.Host, pc.Port, pc.User, pc.Password, pc.DBName, pc.SSLMode)
}

// FromEnv overrides the file values with POSTGRES_* variables when they are set.
func (pc *PostgresConfig) FromEnv() {
	pc.Host = getEnv("POSTGRES_HOST", pc.Host)
	pc.Port = getEnv("POSTGRES_PORT", pc.Port)
	pc.User = getEnv("POSTGRES_USER", pc.User)
	pc.Password = getEnv("POSTGRES_PASSWORD", pc.Password)
	pc.DBName = getEnv("POSTGRES_NAME", pc.DBName)
}

func (pc *PostgresConfig) applyDefaults() {
	if pc.Host == "" {
		pc.Host = "localhost"
	}
	if pc.Port == "" {
		pc.Port = "5432"
	}
	if pc.User == "" {
		pc.User = "postgres"
	}
	if pc.Password == "" {
		pc.Password = "postgres"
	}
	if pc.DBName == "" {
		pc.DBName = "postgres"
	}
	if pc.SSLMode == "" {
		pc.SSLMode = "disable"
	}
}
