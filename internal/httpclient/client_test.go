package httpclient_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ledgerkit/devicesync/internal/httpclient"
)

func TestHTTPClient(t *testing.T) {
	t.Parallel()
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTPClient Suite")
}

var _ = Describe("DefaultClient", func() {
	var (
		client     httpclient.Client
		mockServer *httptest.Server
		ctx        context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = httpclient.NewDefaultClient(30 * time.Second)
	})

	AfterEach(func() {
		if mockServer != nil {
			mockServer.Close()
			mockServer = nil
		}
	})

	Describe("NewDefaultClient", func() {
		It("should create client with custom timeout", func() {
			Expect(httpclient.NewDefaultClient(5 * time.Second)).NotTo(BeNil())
		})

		It("should use default timeout when zero is provided", func() {
			Expect(httpclient.NewDefaultClient(0)).NotTo(BeNil())
		})
	})

	Describe("Do", func() {
		Context("Successful requests", func() {
			It("should send default headers and return the body", func() {
				mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					Expect(r.Header.Get("User-Agent")).To(Equal(httpclient.UserAgent))
					Expect(r.Header.Get("Accept")).To(Equal("application/json"))
					Expect(r.Header.Get("Authorization")).To(Equal("Bearer token"))
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte(`{"message": "success"}`))
				}))

				resp, err := client.Do(ctx, &httpclient.Request{
					Method: http.MethodGet,
					URL:    mockServer.URL,
					Header: http.Header{"Authorization": []string{"Bearer token"}},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeTrue())
				Expect(resp.Body).To(Equal([]byte(`{"message": "success"}`)))
			})

			It("should send a JSON body on POST", func() {
				mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					Expect(r.Method).To(Equal(http.MethodPost))
					Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
					body, err := io.ReadAll(r.Body)
					Expect(err).NotTo(HaveOccurred())
					Expect(string(body)).To(Equal(`{"events":[]}`))
					w.WriteHeader(http.StatusAccepted)
				}))

				resp, err := client.Do(ctx, &httpclient.Request{
					Method: http.MethodPost,
					URL:    mockServer.URL,
					Body:   []byte(`{"events":[]}`),
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
			})
		})

		Context("HTTP error responses", func() {
			It("should return non-2xx responses without an error", func() {
				mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusConflict)
					_, _ = w.Write([]byte(`{"code":"SYNC_CURSOR_TOO_OLD","message":"Cursor too old"}`))
				}))

				resp, err := client.Do(ctx, &httpclient.Request{Method: http.MethodGet, URL: mockServer.URL})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.IsSuccess()).To(BeFalse())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(string(resp.Body)).To(ContainSubstring("SYNC_CURSOR_TOO_OLD"))
			})
		})

		Context("Network errors", func() {
			It("should handle invalid URL", func() {
				_, err := client.Do(ctx, &httpclient.Request{Method: http.MethodGet, URL: "://invalid-url"})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to create request"))
			})

			It("should handle unreachable host", func() {
				_, err := client.Do(ctx, &httpclient.Request{
					Method: http.MethodGet,
					URL:    "http://invalid-host-does-not-exist.local:9999",
				})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to execute request"))
			})
		})

		Context("Context cancellation", func() {
			BeforeEach(func() {
				mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					time.Sleep(2 * time.Second)
					w.WriteHeader(http.StatusOK)
				}))
			})

			It("should respect context cancellation", func() {
				cancelCtx, cancel := context.WithCancel(ctx)
				cancel()

				_, err := client.Do(cancelCtx, &httpclient.Request{Method: http.MethodGet, URL: mockServer.URL})
				Expect(err).To(HaveOccurred())
			})

			It("should respect context timeout", func() {
				timeoutCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
				defer cancel()

				_, err := client.Do(timeoutCtx, &httpclient.Request{Method: http.MethodGet, URL: mockServer.URL})
				Expect(err).To(HaveOccurred())
			})
		})

		Context("Response body handling", func() {
			It("should handle empty response body", func() {
				mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusNoContent)
				}))

				resp, err := client.Do(ctx, &httpclient.Request{Method: http.MethodGet, URL: mockServer.URL})
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.Body).To(BeEmpty())
			})

			It("should reject response exceeding the size limit via Content-Length", func() {
				mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Length", fmt.Sprintf("%d", 101*1024*1024))
					w.WriteHeader(http.StatusOK)
				}))

				_, err := client.Do(ctx, &httpclient.Request{Method: http.MethodGet, URL: mockServer.URL})
				Expect(err).To(HaveOccurred())
				Expect(errors.Is(err, httpclient.ErrResponseTooLarge)).To(BeTrue())
			})

			It("should reject response exceeding the size limit by actual content", func() {
				mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusOK)
					chunk := make([]byte, 1024*1024)
					for i := 0; i < 101; i++ {
						_, _ = w.Write(chunk)
					}
				}))

				_, err := client.Do(ctx, &httpclient.Request{Method: http.MethodGet, URL: mockServer.URL})
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("exceeds maximum allowed size"))
			})
		})
	})
})
