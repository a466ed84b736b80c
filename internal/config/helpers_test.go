package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// ApplyEnvOverrides
// ---------------------------------------------------------------------------

var overrideVars = []string{
	"NETIO_ADDRESS",
	"NETIO_USERNAME",
	"NETIO_PASSWORD",
	"NETIO_MCP_AUTH_TOKEN",
	"NETIO_MQTT_BROKER",
	"NETIO_LOG_LEVEL",
}

// clearOverrides registers cleanup for every override variable and removes
// them so os.Getenv returns "".
func clearOverrides(t *testing.T) {
	t.Helper()
	for _, k := range overrideVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func Test_ApplyEnvOverrides_Cases(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		initial  func(cfg *Config)
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name: "device settings from env",
			env: map[string]string{
				"NETIO_ADDRESS":  "10.0.0.5",
				"NETIO_USERNAME": "admin",
				"NETIO_PASSWORD": "pw",
			},
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Device.Address != "10.0.0.5" {
					t.Errorf("Device.Address = %q, want 10.0.0.5", cfg.Device.Address)
				}
				if cfg.Device.Username != "admin" || cfg.Device.Password != "pw" {
					t.Errorf("Device credentials = (%q, %q), want (admin, pw)", cfg.Device.Username, cfg.Device.Password)
				}
			},
		},
		{
			name: "token env overrides existing token",
			env:  map[string]string{"NETIO_MCP_AUTH_TOKEN": "new"},
			initial: func(cfg *Config) {
				cfg.Server.AuthToken = "old"
			},
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.AuthToken != "new" {
					t.Errorf("AuthToken = %q, want new", cfg.Server.AuthToken)
				}
			},
		},
		{
			name: "empty env does not override",
			env:  map[string]string{"NETIO_MCP_AUTH_TOKEN": "", "NETIO_ADDRESS": ""},
			initial: func(cfg *Config) {
				cfg.Server.AuthToken = "existing"
				cfg.Device.Address = "pdu.local"
			},
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Server.AuthToken != "existing" {
					t.Errorf("AuthToken = %q, want existing", cfg.Server.AuthToken)
				}
				if cfg.Device.Address != "pdu.local" {
					t.Errorf("Device.Address = %q, want pdu.local", cfg.Device.Address)
				}
			},
		},
		{
			name: "broker env enables mqtt",
			env:  map[string]string{"NETIO_MQTT_BROKER": "tcp://mqtt:1883"},
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if !cfg.MQTT.Enabled {
					t.Error("MQTT.Enabled = false, want true")
				}
				if cfg.MQTT.Broker != "tcp://mqtt:1883" {
					t.Errorf("MQTT.Broker = %q, want tcp://mqtt:1883", cfg.MQTT.Broker)
				}
			},
		},
		{
			name: "log level env",
			env:  map[string]string{"NETIO_LOG_LEVEL": "debug"},
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				if cfg.Logging.Level != "debug" {
					t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
				}
			},
		},
		{
			name: "no env leaves config untouched",
			validate: func(t *testing.T, cfg *Config) {
				t.Helper()
				want := DefaultConfig()
				if cfg.Device != want.Device || cfg.Server != want.Server || cfg.MQTT != want.MQTT {
					t.Errorf("config changed without env: %+v", cfg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearOverrides(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg := DefaultConfig()
			if tt.initial != nil {
				tt.initial(cfg)
			}

			ApplyEnvOverrides(cfg)
			tt.validate(t, cfg)
		})
	}
}

// ---------------------------------------------------------------------------
// EnsureAuthToken
// ---------------------------------------------------------------------------

func Test_EnsureAuthToken_Cases(t *testing.T) {
	t.Run("token already set returns existing token unchanged", func(t *testing.T) {
		cfg := &Config{Server: ServerConfig{AuthToken: "pre-set"}}

		token, err := EnsureAuthToken(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token != "pre-set" || cfg.Server.AuthToken != "pre-set" {
			t.Errorf("token = %q, cfg token = %q, want pre-set for both", token, cfg.Server.AuthToken)
		}
	})

	t.Run("empty token generates a 32 character hex token", func(t *testing.T) {
		cfg := &Config{}

		token, err := EnsureAuthToken(cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Server.AuthToken != token {
			t.Errorf("cfg.Server.AuthToken = %q, want %q (returned token)", cfg.Server.AuthToken, token)
		}
		decoded, err := hex.DecodeString(token)
		if err != nil {
			t.Fatalf("token %q is not valid hex: %v", token, err)
		}
		if len(decoded) != 16 {
			t.Errorf("decoded length = %d, want 16 bytes", len(decoded))
		}
	})
}

// ---------------------------------------------------------------------------
// GenerateRandomToken
// ---------------------------------------------------------------------------

func Test_GenerateRandomToken_Unique(t *testing.T) {
	const goroutines = 100

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens = make(map[string]struct{}, goroutines)
		errs   []error
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			token, err := GenerateRandomToken()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if len(token) != 32 {
				errs = append(errs, fmt.Errorf("token %q has length %d", token, len(token)))
				return
			}
			tokens[token] = struct{}{}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("got %d errors in concurrent calls; first: %v", len(errs), errs[0])
	}
	if len(tokens) != goroutines {
		t.Errorf("expected %d unique tokens, got %d (collisions detected)", goroutines, len(tokens))
	}
}
