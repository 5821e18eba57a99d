// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateWithSchema_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  url: http://localhost:8080
  api_prefix: /api/v1
  timeout: 30s
dashboard:
  poll_interval: 60s
  default_range: 24h
  units: metric
cache:
  dir: /var/cache/tempest-dashboard
  max_size: 104857600
  max_age: 168h
  static_assets: [/plugins.json]
plugins:
  enabled: true
  servers:
    daily-summary: http://10.0.0.8:8080
discovery:
  service_type: _tempestd._tcp
  domain: local.
  timeout: 3s
admin:
  address: localhost:9090
logging:
  level: info
`)

	if err := ValidateWithSchema(path); err != nil {
		t.Errorf("ValidateWithSchema() error = %v", err)
	}
}

func TestValidateWithSchema_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	if err := ValidateWithSchema(path); err != nil {
		t.Errorf("empty config should be valid, got %v", err)
	}
}

func TestValidateWithSchema_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"unknown section", "mqtt:\n  broker: tcp://localhost:1883\n", "mqtt"},
		{"unknown key", "dashboard:\n  refresh: 60s\n", "refresh"},
		{"bad duration", "dashboard:\n  poll_interval: sixty\n", "poll_interval"},
		{"bad units", "dashboard:\n  units: kelvin\n", "units"},
		{"bad range", "dashboard:\n  default_range: 1y\n", "default_range"},
		{"bad log level", "logging:\n  level: verbose\n", "level"},
		{"relative asset", "cache:\n  static_assets: [plugins.json]\n", "static_assets"},
		{"zero max size", "cache:\n  max_size: 0\n", "max_size"},
		{"wrong type", "plugins:\n  enabled: sometimes\n", "enabled"},
		{"bad service type", "discovery:\n  service_type: tempestd\n", "service_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			err := ValidateWithSchema(path)
			if err == nil {
				t.Fatal("ValidateWithSchema() should reject the document")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error should mention %q: %v", tt.field, err)
			}
		})
	}
}

func TestValidateWithSchema_FileNotFound(t *testing.T) {
	if err := ValidateWithSchema("/nonexistent/config.yaml"); err == nil {
		t.Error("ValidateWithSchema() should return error for missing file")
	}
}

func TestValidateWithSchema_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unclosed\n")
	if err := ValidateWithSchema(path); err == nil {
		t.Error("ValidateWithSchema() should return error for invalid YAML")
	}
}

func TestGetSchemaJSON(t *testing.T) {
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(GetSchemaJSON()), &schema); err != nil {
		t.Fatalf("embedded schema is not valid JSON: %v", err)
	}
	if schema["title"] != "Tempest Dashboard Configuration" {
		t.Errorf("unexpected schema title: %v", schema["title"])
	}
}
