package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xraph/tempo"
	"github.com/xraph/tempo/api"
	"github.com/xraph/tempo/broker/memory"
	"github.com/xraph/tempo/cron"
	"github.com/xraph/tempo/engine"
	"github.com/xraph/tempo/job"
	"github.com/xraph/tempo/queue"
)

const schedule = `
nightly_cleanup:
  cron: "0 3 * * *"
  class: Cleanup
`

var _ = Describe("API", func() {
	var (
		ctx    context.Context
		eng    *engine.Engine
		router *gin.Engine
	)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		switch b := body.(type) {
		case nil:
		case string:
			buf.WriteString(b)
		default:
			Expect(json.NewEncoder(&buf).Encode(b)).To(Succeed())
		}
		req := httptest.NewRequest(method, path, &buf)
		if buf.Len() > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	decode := func(w *httptest.ResponseRecorder) map[string]any {
		var out map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &out)).To(Succeed())
		return out
	}

	// kill pushes a job of kind straight into the dead set.
	kill := func(kind string) string {
		j, err := eng.Enqueue(ctx, kind, job.MustArgs("x"), job.WithMaxRetries(0))
		Expect(err).NotTo(HaveOccurred())
		d, err := eng.Queue().Pop(ctx, time.Second)
		Expect(err).NotTo(HaveOccurred())
		outcome, err := eng.Queue().Fail(ctx, d.Job, errors.New("boom"))
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome).To(Equal(queue.OutcomeDead))
		return j.ID.String()
	}

	BeforeEach(func() {
		ctx = context.Background()
		gin.SetMode(gin.TestMode)

		cfg := tempo.DefaultConfig()
		cfg.Queues = []string{"critical", "default"}
		d, err := tempo.New(tempo.WithBroker(memory.New()), tempo.WithConfig(cfg))
		Expect(err).NotTo(HaveOccurred())

		sched, err := cron.Parse([]byte(schedule))
		Expect(err).NotTo(HaveOccurred())
		eng, err = engine.Build(d, engine.WithSchedule(sched))
		Expect(err).NotTo(HaveOccurred())
		_, err = eng.Schedules().Reconcile(ctx, time.Now())
		Expect(err).NotTo(HaveOccurred())

		Expect(engine.RegisterFunc(eng, "Square", func(_ context.Context, n int) (int, error) {
			if n < 0 {
				return 0, errors.New("negative input not allowed")
			}
			return n * n, nil
		})).To(Succeed())

		router = api.New(eng).Router()
	})

	It("reports health", func() {
		w := do(http.MethodGet, "/healthz", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["status"]).To(Equal("ok"))
	})

	Describe("POST /v1/jobs", func() {
		It("returns 201 with the enqueued job", func() {
			w := do(http.MethodPost, "/v1/jobs", map[string]any{
				"class": "SendEmail",
				"args":  []any{"alice@example.com"},
				"queue": "critical",
			})
			Expect(w.Code).To(Equal(http.StatusCreated))
			resp := decode(w)
			Expect(resp["class"]).To(Equal("SendEmail"))
			Expect(resp["queue"]).To(Equal("critical"))
			Expect(resp["id"]).NotTo(BeEmpty())

			stats, err := eng.Queue().Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Pending["critical"]).To(BeEquivalentTo(1))
		})

		It("schedules a delayed job", func() {
			w := do(http.MethodPost, "/v1/jobs", map[string]any{"class": "Later", "delay": "1h"})
			Expect(w.Code).To(Equal(http.StatusCreated))

			stats, err := eng.Queue().Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Scheduled).To(BeEquivalentTo(1))
		})

		DescribeTable("returns 422 on validation errors",
			func(body map[string]any) {
				w := do(http.MethodPost, "/v1/jobs", body)
				Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
				Expect(decode(w)["error"]).To(ContainSubstring("validation"))
			},
			Entry("missing class", map[string]any{"args": []any{1}}),
			Entry("unconfigured queue", map[string]any{"class": "K", "queue": "bulk"}),
			Entry("bad delay", map[string]any{"class": "K", "delay": "soon"}),
			Entry("negative retries", map[string]any{"class": "K", "max_retries": -1}),
		)

		It("returns 400 on a malformed body", func() {
			w := do(http.MethodPost, "/v1/jobs", `{`)
			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /v1/invoke/:kind", func() {
		It("returns 200 with the handler result", func() {
			w := do(http.MethodPost, "/v1/invoke/Square", map[string]any{"args": []any{4}})
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["result"]).To(BeEquivalentTo(16))
		})

		It("returns 422 with the handler error verbatim", func() {
			w := do(http.MethodPost, "/v1/invoke/Square", map[string]any{"args": []any{-1}})
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(decode(w)["error"]).To(Equal("negative input not allowed"))
		})

		It("returns 404 for an unknown kind", func() {
			w := do(http.MethodPost, "/v1/invoke/Cube", map[string]any{"args": []any{2}})
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("accepts an empty body", func() {
			w := do(http.MethodPost, "/v1/invoke/Square", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["result"]).To(BeEquivalentTo(0))
		})

		It("returns a result that is not JSON as a string", func() {
			Expect(eng.Register("Plain", job.HandlerFunc(func(context.Context, job.Args) (job.Result, error) {
				return job.Result("plain text, not json"), nil
			}))).To(Succeed())

			w := do(http.MethodPost, "/v1/invoke/Plain", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["result"]).To(Equal("plain text, not json"))
		})

		It("returns null for an empty result", func() {
			Expect(eng.Register("Nothing", job.HandlerFunc(func(context.Context, job.Args) (job.Result, error) {
				return nil, nil
			}))).To(Succeed())

			w := do(http.MethodPost, "/v1/invoke/Nothing", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)).To(HaveKeyWithValue("result", BeNil()))
		})
	})

	Describe("dead set", func() {
		var deadID string

		BeforeEach(func() {
			deadID = kill("Report")
		})

		It("lists dead entries with a total", func() {
			w := do(http.MethodGet, "/v1/dead?limit=10", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var resp api.DeadListResponse
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Total).To(BeEquivalentTo(1))
			Expect(resp.Entries).To(HaveLen(1))
			Expect(resp.Entries[0].ID).To(Equal(deadID))
			Expect(resp.Entries[0].Error).To(ContainSubstring("boom"))
		})

		It("rejects a bad limit", func() {
			w := do(http.MethodGet, "/v1/dead?limit=-3", nil)
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("gets one entry", func() {
			w := do(http.MethodGet, "/v1/dead/"+deadID, nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["class"]).To(Equal("Report"))
		})

		It("returns 404 for a missing entry", func() {
			w := do(http.MethodGet, "/v1/dead/job_missing", nil)
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("replays an entry as a fresh job", func() {
			w := do(http.MethodPost, "/v1/dead/"+deadID+"/replay", nil)
			Expect(w.Code).To(Equal(http.StatusCreated))
			resp := decode(w)
			Expect(resp["class"]).To(Equal("Report"))
			Expect(resp["id"]).NotTo(Equal(deadID))

			n, err := eng.DLQService().Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
		})

		It("deletes an entry", func() {
			Expect(do(http.MethodDelete, "/v1/dead/"+deadID, nil).Code).To(Equal(http.StatusNoContent))
			Expect(do(http.MethodGet, "/v1/dead/"+deadID, nil).Code).To(Equal(http.StatusNotFound))
		})

		It("purges every entry", func() {
			kill("Report")
			w := do(http.MethodDelete, "/v1/dead", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["purged"]).To(BeEquivalentTo(2))
		})
	})

	Describe("schedules", func() {
		It("lists installed entries", func() {
			w := do(http.MethodGet, "/v1/schedules", nil)
			Expect(w.Code).To(Equal(http.StatusOK))

			var entries []map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &entries)).To(Succeed())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0]["name"]).To(Equal("nightly_cleanup"))
		})

		It("disables and re-enables an entry", func() {
			w := do(http.MethodPost, "/v1/schedules/nightly_cleanup/disable", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["enabled"]).To(BeFalse())

			w = do(http.MethodPost, "/v1/schedules/nightly_cleanup/enable", nil)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)["enabled"]).To(BeTrue())
		})

		It("returns 404 for a missing entry", func() {
			Expect(do(http.MethodGet, "/v1/schedules/nope", nil).Code).To(Equal(http.StatusNotFound))
		})
	})

	It("reports stats", func() {
		_, err := eng.Enqueue(ctx, "Report", nil)
		Expect(err).NotTo(HaveOccurred())

		w := do(http.MethodGet, "/v1/stats", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		resp := decode(w)
		Expect(resp).To(HaveKey("queues"))
		Expect(resp).To(HaveKey("pool"))
	})

	Describe("GET /v1/events", func() {
		It("rejects an unknown topic", func() {
			w := do(http.MethodGet, "/v1/events?topic=workflow:1", nil)
			Expect(w.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("streams job events for the subscribed queue", func() {
			srv := httptest.NewServer(router)
			defer srv.Close()

			reqCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/v1/events?topic=queue:critical", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/event-stream"))

			lines := make(chan string, 16)
			go func() {
				defer GinkgoRecover()
				sc := bufio.NewScanner(resp.Body)
				for sc.Scan() {
					lines <- sc.Text()
				}
				close(lines)
			}()

			_, err = eng.Enqueue(ctx, "Report", nil)
			Expect(err).NotTo(HaveOccurred())
			j, err := eng.Enqueue(ctx, "Report", nil, job.WithQueue("critical"))
			Expect(err).NotTo(HaveOccurred())

			var event, data string
			Eventually(func() bool {
				select {
				case line := <-lines:
					switch {
					case strings.HasPrefix(line, "event:"):
						event = strings.TrimPrefix(line, "event:")
					case strings.HasPrefix(line, "data:"):
						data = strings.TrimPrefix(line, "data:")
						return true
					}
				default:
				}
				return false
			}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())

			Expect(event).To(Equal("job.enqueued"))
			Expect(data).To(ContainSubstring(j.ID.String()))
			Expect(data).To(ContainSubstring(`"queue":"critical"`))
		})
	})
})
