package main

import (
	"testing"

	"github.com/sirupsen/logrus"

	"posdesk/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestNewLoggerFallsBackToInfoOnBadLevel(t *testing.T) {
	log := newLogger("not-a-level")
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level fallback, got %v", log.GetLevel())
	}
}
