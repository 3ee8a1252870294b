package config

import (
	"testing"
	"time"
)

func valid() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "exchange", SSLMode: "disable"},
		Redis: RedisConfig{Host: "localhost", Port: 6379, Enabled: true},
		Auth:  AuthConfig{JWTSecret: "secret", AdminPassword: "hunter2"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := valid()
	c.App.Env = "production"
	c.DB.SSLMode = ""
	c.Auth.JWTIssuer = "issuer"
	c.Auth.JWTAudience = "aud"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := valid()
	c.DB.SSLMode = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_DefaultsIntervals(t *testing.T) {
	c := valid()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Billing.CycleInterval != time.Hour {
		t.Fatalf("expected hourly cycle default, got %v", c.Billing.CycleInterval)
	}
	if c.Signaling.CloseAckWait != 5*time.Second {
		t.Fatalf("expected 5s close-ack default, got %v", c.Signaling.CloseAckWait)
	}
}

func TestValidate_RedisOptionalWhenDisabled(t *testing.T) {
	c := valid()
	c.Redis = RedisConfig{}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error with redis disabled, got %v", err)
	}
}

func TestValidate_RequiresAdminPassword(t *testing.T) {
	c := valid()
	c.Auth.AdminPassword = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for missing ADMIN_PASSWORD")
	}
}
