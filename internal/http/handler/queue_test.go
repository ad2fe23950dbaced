package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"maxprint.app/orderflow/internal/http/handler"
	"maxprint.app/orderflow/internal/http/middleware"
	"maxprint.app/orderflow/internal/model"
)

type fakeDrainer struct {
	stats    model.DrainStats
	err      error
	maxItems []int
}

func (f *fakeDrainer) ProcessRetryQueue(ctx context.Context, maxItems int) (model.DrainStats, error) {
	f.maxItems = append(f.maxItems, maxItems)
	return f.stats, f.err
}

var _ = Describe("QueueHandler", func() {
	var (
		router  *gin.Engine
		drainer *fakeDrainer
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		drainer = &fakeDrainer{
			stats: model.DrainStats{Processed: 4, Succeeded: 3, Failed: 1},
		}
		h := handler.NewQueueHandler(drainer, 50)

		router = gin.New()
		admin := router.Group("/admin")
		admin.Use(middleware.RequireAdminAPIKey("secret"))
		admin.POST("/queue/drain", h.Drain)
	})

	drain := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if key != "" {
			req.Header.Set("X-Admin-API-Key", key)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("drains with the default batch size and reports stats", func() {
		w := drain("/admin/queue/drain", "secret")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(drainer.maxItems).To(Equal([]int{50}))

		var stats model.DrainStats
		Expect(json.Unmarshal(w.Body.Bytes(), &stats)).To(Succeed())
		Expect(stats.Processed).To(Equal(4))
		Expect(stats.Succeeded).To(Equal(3))
		Expect(stats.Failed).To(Equal(1))
	})

	It("honors max_items", func() {
		w := drain("/admin/queue/drain?max_items=5", "secret")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(drainer.maxItems).To(Equal([]int{5}))
	})

	It("rejects a non-positive max_items", func() {
		Expect(drain("/admin/queue/drain?max_items=0", "secret").Code).To(Equal(http.StatusBadRequest))
		Expect(drain("/admin/queue/drain?max_items=abc", "secret").Code).To(Equal(http.StatusBadRequest))
		Expect(drainer.maxItems).To(BeEmpty())
	})

	It("requires the admin api key", func() {
		Expect(drain("/admin/queue/drain", "").Code).To(Equal(http.StatusUnauthorized))
		Expect(drain("/admin/queue/drain", "wrong").Code).To(Equal(http.StatusUnauthorized))
		Expect(drainer.maxItems).To(BeEmpty())
	})

	It("returns 500 when the drain fails", func() {
		drainer.err = fmt.Errorf("listing due pending operations: connection reset")

		Expect(drain("/admin/queue/drain", "secret").Code).To(Equal(http.StatusInternalServerError))
	})
})
