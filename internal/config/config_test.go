package config

import "testing"

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if cfg.Server.Port != 5002 {
		t.Errorf("default port = %d, want 5002", cfg.Server.Port)
	}
	if cfg.Protection.MaxConnectionsPerMinute != 10 {
		t.Errorf("default connection rate = %d, want 10", cfg.Protection.MaxConnectionsPerMinute)
	}
	if cfg.Classifier.FailOpen {
		t.Error("classifier must default to fail-closed")
	}
	if cfg.Resource.MinStatementTimeout > cfg.Resource.BaseStatementTimeout {
		t.Error("min statement timeout exceeds base")
	}

	if err := validateConfig(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Run("InvalidPort", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Server.Port = 0
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for invalid port")
		}
	})

	t.Run("InvalidThreshold", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Classifier.AdminThreshold = 1.5
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for threshold outside [0,1]")
		}
	})

	t.Run("EmptySchema", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Schema = nil
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for empty schema")
		}
	})

	t.Run("DuplicateRelation", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Schema = append(cfg.Schema, cfg.Schema[0])
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for duplicate relation")
		}
	})

	t.Run("TimeoutOrdering", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Resource.MinStatementTimeout = 2 * cfg.Resource.BaseStatementTimeout
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error when min timeout exceeds base")
		}
	})
}

func TestBuildSchema(t *testing.T) {
	cfg := GetDefaults()
	schema, err := cfg.BuildSchema()
	if err != nil {
		t.Fatalf("BuildSchema failed: %v", err)
	}
	if len(schema.Relations) != 1 || schema.Relations[0].Name != "customers" {
		t.Errorf("unexpected schema relations: %+v", schema.Relations)
	}
}
