package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/onsi/gomega"

	v1 "github.com/ledgerkit/devicesync/internal/api/v1"
	devicesyncapp "github.com/ledgerkit/devicesync/internal/app"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/secrets"
)

// TestDeviceID enrolls the device of every test daemon
const TestDeviceID = "6f1c2b8e-3d4a-4c5b-9e7f-0a1b2c3d4e5f"

// WriteConfigYAML writes a daemon configuration pointing at the cloud and
// returns its path. Background sync is off so tests trigger every pass.
func WriteConfigYAML(dir, cloudURL string, streams ...string) string {
	disabled := false
	cfg := &config.Config{
		Device:  config.DeviceConfig{ID: TestDeviceID, Name: "integration"},
		Cloud:   config.CloudConfig{APIURL: cloudURL, Timeout: "5s"},
		Streams: streams,
		Storage: config.StorageConfig{Type: config.StorageTypeFile, Path: filepath.Join(dir, "store")},
		Secrets: config.SecretsConfig{Type: config.SecretsTypeMemory},
		Sync:    config.SyncConfig{Enabled: &disabled},
	}

	path := filepath.Join(dir, "devicesync.yaml")
	gomega.Expect(cfg.Save(path)).To(gomega.Succeed())
	return path
}

// DaemonTestHelper manages the sync daemon lifecycle for testing
type DaemonTestHelper struct {
	ctx        context.Context
	configPath string
	secrets    secrets.Store
	baseURL    string
	httpClient *http.Client
	app        *devicesyncapp.DeviceSyncApp
}

// NewDaemonTestHelper creates a helper for the daemon configured at configPath
func NewDaemonTestHelper(ctx context.Context, configPath string, secretStore secrets.Store) *DaemonTestHelper {
	return &DaemonTestHelper{
		ctx:        ctx,
		configPath: configPath,
		secrets:    secretStore,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// StartDaemon builds the daemon and serves it on a random local port
func (d *DaemonTestHelper) StartDaemon() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(d.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := devicesyncapp.NewDeviceSyncApp(d.ctx,
		devicesyncapp.WithConfig(cfg),
		devicesyncapp.WithAddress("127.0.0.1:0"),
		devicesyncapp.WithSecretStore(d.secrets),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	d.app = app

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	d.baseURL = "http://" + listener.Addr().String()

	go func() {
		if err := app.Serve(listener); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon serve failed: %v\n", err)
		}
	}()
	return nil
}

// StopDaemon gracefully stops the daemon
func (d *DaemonTestHelper) StopDaemon() error {
	if d.app != nil {
		return d.app.Stop(5 * time.Second)
	}
	return nil
}

// App returns the running daemon
func (d *DaemonTestHelper) App() *devicesyncapp.DeviceSyncApp {
	return d.app
}

// WaitForDaemonReady waits until the readiness endpoint answers 200
func (d *DaemonTestHelper) WaitForDaemonReady(timeout time.Duration) {
	gomega.Eventually(func() int {
		resp, err := d.httpClient.Get(d.baseURL + "/readiness")
		if err != nil {
			return 0
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}, timeout, 100*time.Millisecond).Should(gomega.Equal(http.StatusOK))
}

// Sync triggers a pass over one stream, or every stream when streamID is empty
func (d *DaemonTestHelper) Sync(streamID string) (*v1.RunResponse, int) {
	path := "/api/v1/sync"
	if streamID != "" {
		path += "/streams/" + url.PathEscape(streamID)
	}

	resp, err := d.httpClient.Post(d.baseURL+path, "application/json", nil)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var body v1.RunResponse
	gomega.Expect(json.NewDecoder(resp.Body).Decode(&body)).To(gomega.Succeed())
	return &body, resp.StatusCode
}

// Status returns the sync position of every configured stream
func (d *DaemonTestHelper) Status() *v1.StatusResponse {
	resp, err := d.httpClient.Get(d.baseURL + "/api/v1/sync/status")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() { _ = resp.Body.Close() }()
	gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK))

	var body v1.StatusResponse
	gomega.Expect(json.NewDecoder(resp.Body).Decode(&body)).To(gomega.Succeed())
	return &body
}

// Get performs a GET request against the daemon and returns status and body
func (d *DaemonTestHelper) Get(path string) (int, []byte) {
	resp, err := d.httpClient.Get(d.baseURL + path)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return resp.StatusCode, body
}
