package integration

import (
	"encoding/json"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ledgerkit/devicesync/internal/auth"
	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/secrets"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
	"github.com/ledgerkit/devicesync/test-integration/devicesync/helpers"
)

const accessToken = "integration-token"

var _ = Describe("Sync Daemon Integration", Label("sync"), func() {
	var (
		tempDir     string
		cloud       *helpers.FakeCloud
		secretStore secrets.Store
		daemon      *helpers.DaemonTestHelper
	)

	BeforeEach(func() {
		tempDir = createTempDir("devicesync-test-")
		cloud = helpers.NewFakeCloud(accessToken)

		secretStore = secrets.NewMemoryStore()
		Expect(secretStore.SetSecret(auth.AccessTokenKey, accessToken)).To(Succeed())

		configPath := helpers.WriteConfigYAML(tempDir, cloud.URL(), "orders", "inventory")
		daemon = helpers.NewDaemonTestHelper(ctx, configPath, secretStore)
		Expect(daemon.StartDaemon()).To(Succeed())
		daemon.WaitForDaemonReady(10 * time.Second)
	})

	AfterEach(func() {
		Expect(daemon.StopDaemon()).To(Succeed())
		cloud.Close()
		cleanupTempDir(tempDir)
	})

	Context("on a fresh install", func() {
		It("should start from scratch and apply every segment", func() {
			cloud.AppendSegment("orders", `{"sku":"A"}`, `{"sku":"B"}`, `{"sku":"C"}`)
			cloud.AppendSegment("orders", `{"sku":"D"}`, `{"sku":"E"}`)

			resp, status := daemon.Sync("orders")
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Results).To(HaveLen(1))

			result := resp.Results[0]
			Expect(result.State).To(Equal(pkgsync.StateCommitted))
			Expect(result.Mode).To(Equal(pkgsync.ModeBootstrap))
			Expect(result.SegmentsApplied).To(Equal(2))
			Expect(result.EventsApplied).To(Equal(5))

			streams := daemon.Status().Streams
			Expect(streams).To(HaveLen(2))
			Expect(streams[0].StreamID).To(Equal("orders"))
			Expect(streams[0].Cursor).NotTo(BeNil())
			Expect(streams[0].Cursor.SegmentIndex).To(BeEquivalentTo(1))
			Expect(streams[0].Cursor.EventIndex).To(BeEquivalentTo(4))
			Expect(streams[1].Cursor).To(BeNil())
		})

		It("should restore from the latest snapshot before pulling", func() {
			cloud.AppendSegment("orders", `{"sku":"A"}`, `{"sku":"B"}`)
			meta := cloud.SetSnapshot("orders", []byte(`{"stock":{"A":1,"B":1}}`))
			cloud.AppendSegment("orders", `{"sku":"C"}`)

			resp, status := daemon.Sync("orders")
			Expect(status).To(Equal(http.StatusOK))

			result := resp.Results[0]
			Expect(result.SnapshotApplied).To(BeTrue())
			Expect(result.SegmentsApplied).To(Equal(1))
			Expect(result.Cursor).NotTo(BeNil())
			Expect(result.Cursor.SnapshotID).To(Equal(meta.SnapshotID))
			Expect(result.Cursor.EventIndex).To(BeEquivalentTo(2))

			state, err := daemon.App().Components().Store.LoadSnapshot(ctx, "orders")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.Data).To(MatchJSON(`{"stock":{"A":1,"B":1}}`))
		})
	})

	Context("after the first pass", func() {
		BeforeEach(func() {
			cloud.AppendSegment("orders", `{"sku":"A"}`, `{"sku":"B"}`)
			_, status := daemon.Sync("orders")
			Expect(status).To(Equal(http.StatusOK))
		})

		It("should pull new segments incrementally", func() {
			cloud.AppendSegment("orders", `{"sku":"C"}`)

			resp, status := daemon.Sync("orders")
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Results[0].Mode).To(Equal(pkgsync.ModeIncremental))
			Expect(resp.Results[0].SegmentsApplied).To(Equal(1))

			events, err := daemon.App().Components().Store.ListEvents(ctx, "orders", 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(3))
			Expect([]byte(events[2].Payload)).To(MatchJSON(`{"sku":"C"}`))
		})

		It("should recover from a corrupt segment with a bootstrap", func() {
			cloud.AppendSegment("orders", `{"sku":"C"}`)
			cloud.CorruptNextSegment("orders")

			resp, status := daemon.Sync("orders")
			Expect(status).To(Equal(http.StatusServiceUnavailable))
			Expect(resp.Results[0].State).To(Equal(pkgsync.StateFailed))
			Expect(resp.Results[0].BootstrapRequired).To(BeTrue())

			cursor := daemon.Status().Streams[0].Cursor
			Expect(cursor.BootstrapRequired).To(BeTrue())
			Expect(cursor.BootstrapReason).To(Equal(ledger.BootstrapReasonIntegrity))
			Expect(cursor.EventIndex).To(BeEquivalentTo(1), "the last verified segment stays committed")

			resp, status = daemon.Sync("orders")
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Results[0].Mode).To(Equal(pkgsync.ModeBootstrap))
			Expect(resp.Results[0].SegmentsApplied).To(Equal(2))

			cursor = daemon.Status().Streams[0].Cursor
			Expect(cursor.BootstrapRequired).To(BeFalse())
			Expect(cursor.EventIndex).To(BeEquivalentTo(2))
		})

		It("should push events recorded on the device", func() {
			queued, err := daemon.App().Components().Store.AppendLocalEvents(ctx, "orders", []ledger.Event{
				{Payload: json.RawMessage(`{"sku":"local-1"}`)},
				{Payload: json.RawMessage(`{"sku":"local-2"}`)},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(queued).To(HaveLen(2))

			resp, status := daemon.Sync("orders")
			Expect(status).To(Equal(http.StatusOK))
			Expect(resp.Results[0].EventsPushed).To(Equal(2))
			Expect(resp.Totals.EventsPushed).To(Equal(2))

			pushed := cloud.Pushed("orders")
			Expect(pushed).To(HaveLen(2))
			Expect(pushed[0].EventID).To(Equal(queued[0].EventID))

			pending, err := daemon.App().Components().Store.PendingEvents(ctx, "orders", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})

	Context("with rejected credentials", func() {
		It("should stop the run and ask for sign-in", func() {
			Expect(secretStore.SetSecret(auth.AccessTokenKey, "revoked")).To(Succeed())

			resp, status := daemon.Sync("")
			Expect(status).To(Equal(http.StatusUnauthorized))
			Expect(resp.Results).To(HaveLen(2))
			Expect(resp.Results[0].State).To(Equal(pkgsync.StateFailed))
			Expect(resp.Results[1].State).To(Equal(pkgsync.StateSkipped))
			Expect(resp.Results[1].Message).To(Equal("sign-in required"))
			Expect(resp.Totals.Failed).To(Equal(1))
		})

		It("should ask for sign-in when no token is stored", func() {
			Expect(secretStore.DeleteSecret(auth.AccessTokenKey)).To(Succeed())

			resp, status := daemon.Sync("orders")
			Expect(status).To(Equal(http.StatusUnauthorized))
			Expect(resp.Results[0].Message).To(ContainSubstring(auth.MissingAccessTokenMessage))
		})
	})

	Context("system endpoints", func() {
		It("should report health and version", func() {
			status, body := daemon.Get("/health")
			Expect(status).To(Equal(http.StatusOK))
			Expect(body).To(MatchJSON(`{"status":"healthy"}`))

			status, body = daemon.Get("/version")
			Expect(status).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"version"`))
		})
	})
})
