package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	testclock "k8s.io/utils/clock/testing"

	"github.com/ledgerkit/devicesync/internal/auth"
	"github.com/ledgerkit/devicesync/internal/config"
	protocolmocks "github.com/ledgerkit/devicesync/internal/protocol/mocks"
	"github.com/ledgerkit/devicesync/internal/secrets"
)

func boolPtr(b bool) *bool { return &b }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Device:  config.DeviceConfig{ID: "3d2a2b0e-0000-4000-8000-000000000001"},
		Cloud:   config.CloudConfig{APIURL: "https://sync.example.test"},
		Streams: []string{"orders", "inventory"},
		Storage: config.StorageConfig{Type: config.StorageTypeFile, Path: t.TempDir()},
		Secrets: config.SecretsConfig{Type: config.SecretsTypeMemory},
	}
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "host and port", addr: "127.0.0.1:8090"},
		{name: "all interfaces", addr: ":8090"},
		{name: "localhost", addr: "localhost:0"},
		{name: "empty", addr: "", wantErr: true},
		{name: "missing port", addr: "127.0.0.1:", wantErr: true},
		{name: "no separator", addr: "8090", wantErr: true},
		{name: "bad port", addr: "127.0.0.1:http", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &appConfig{}
			err := WithAddress(tt.addr)(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, cfg.address)
		})
	}
}

func TestBaseConfig(t *testing.T) {
	t.Parallel()

	t.Run("config is required", func(t *testing.T) {
		t.Parallel()
		_, err := baseConfig()
		require.ErrorContains(t, err, "config cannot be nil")
	})

	t.Run("address defaults from config", func(t *testing.T) {
		t.Parallel()
		c := testConfig(t)
		c.Server.Address = "127.0.0.1:9999"

		cfg, err := baseConfig(WithConfig(c))
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9999", cfg.address)
	})

	t.Run("explicit address wins", func(t *testing.T) {
		t.Parallel()
		cfg, err := baseConfig(WithConfig(testConfig(t)), WithAddress("127.0.0.1:0"))
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:0", cfg.address)
	})
}

func TestNewComponents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c, err := NewComponents(ctx, WithConfig(testConfig(t)))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close(ctx)) })

	assert.Equal(t, []string{"orders", "inventory"}, c.Orchestrator.Streams())
	assert.NotNil(t, c.Client)
	assert.NotNil(t, c.Events)

	cursors, err := c.Store.ListCursors(ctx)
	require.NoError(t, err)
	assert.Empty(t, cursors)

	// The token source reads what the sign-in flow stored
	require.NoError(t, c.Secrets.SetSecret(auth.AccessTokenKey, "access-1"))
	tok, err := c.Tokens.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
}

func TestNewComponents_InvalidStorage(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Type = "s3"

	_, err := NewComponents(context.Background(), WithConfig(cfg))
	require.ErrorContains(t, err, "failed to open store")
}

func TestBuildScheduler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantNil bool
	}{
		{name: "enabled and enrolled", mutate: func(*config.Config) {}},
		{name: "explicitly enabled", mutate: func(c *config.Config) { c.Sync.Enabled = boolPtr(true) }},
		{name: "disabled", mutate: func(c *config.Config) { c.Sync.Enabled = boolPtr(false) }, wantNil: true},
		{name: "not enrolled", mutate: func(c *config.Config) { c.Device.ID = "  " }, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := testConfig(t)
			tt.mutate(c)
			b, err := baseConfig(WithConfig(c))
			require.NoError(t, err)

			s := buildScheduler(b, &Components{Secrets: secrets.NewMemoryStore()})
			assert.Equal(t, tt.wantNil, s == nil)
		})
	}
}

func TestDeviceSyncApp_ServeAndStop(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	// The fake clock never advances, so the scheduler never calls the client
	client := protocolmocks.NewMockClient(ctrl)
	app, err := NewDeviceSyncApp(ctx,
		WithConfig(testConfig(t)),
		WithAddress("127.0.0.1:0"),
		WithProtocolClient(client),
		WithClock(testclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))),
	)
	require.NoError(t, err)
	assert.True(t, app.BackgroundSyncEnabled())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	baseURL := "http://" + listener.Addr().String()

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Serve(listener)
	}()

	resp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(baseURL + "/api/v1/sync/status")
	require.NoError(t, err)
	var status struct {
		Streams []struct {
			StreamID string `json:"streamId"`
		} `json:"streams"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	_ = resp.Body.Close()
	require.Len(t, status.Streams, 2)
	assert.Equal(t, "orders", status.Streams[0].StreamID)

	require.NoError(t, app.Stop(5*time.Second))

	select {
	case serveErr := <-errChan:
		require.NoError(t, serveErr)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after Stop()")
	}
}

func TestDeviceSyncApp_DisabledSync(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Sync.Enabled = boolPtr(false)

	app, err := NewDeviceSyncApp(context.Background(), WithConfig(cfg), WithAddress("127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(time.Second) })

	assert.False(t, app.BackgroundSyncEnabled())
	assert.Same(t, cfg, app.GetConfig())
	assert.Equal(t, "127.0.0.1:0", app.GetHTTPServer().Addr)
}
