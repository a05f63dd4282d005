package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr bool
		wantCfg *Config
	}{
		{
			name: "defaults (no env set)",
			env:  map[string]string{},
			wantCfg: &Config{
				Port:              10800,
				CommandAckTimeout: 5 * time.Second,
			},
		},
		{
			name: "custom valid env",
			env: map[string]string{
				"PORT":                "12345",
				"COMMAND_ACK_TIMEOUT": "2s",
				"PAGE_URL_ALLOW":      "https://*.example.com/*,https://music.test/*",
			},
			wantCfg: &Config{
				Port:              12345,
				CommandAckTimeout: 2 * time.Second,
				PageURLAllow:      []string{"https://*.example.com/*", "https://music.test/*"},
			},
		},
		{
			name: "port out of range",
			env: map[string]string{
				"PORT": "70000",
			},
			wantErr: true,
		},
		{
			name: "negative port",
			env: map[string]string{
				"PORT": "-1",
			},
			wantErr: true,
		},
		{
			name: "unparseable ack timeout",
			env: map[string]string{
				"COMMAND_ACK_TIMEOUT": "soon",
			},
			wantErr: true,
		},
		{
			name: "zero ack timeout",
			env: map[string]string{
				"COMMAND_ACK_TIMEOUT": "0s",
			},
			wantErr: true,
		},
	}

	for idx := range testCases {
		tc := testCases[idx]
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()

			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				require.Equal(t, tc.wantCfg, cfg)
			}
		})
	}
}
