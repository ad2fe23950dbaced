package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"maxprint.app/orderflow/internal/http/handler/webhook"
	"maxprint.app/orderflow/internal/trello"
)

type fakePublisher struct {
	published []*trello.WebhookPayload
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, payload *trello.WebhookPayload, raw json.RawMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, payload)
	return nil
}

var _ = Describe("TrelloHandler", func() {
	var (
		router *gin.Engine
		pub    *fakePublisher
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		pub = &fakePublisher{}
		h := webhook.NewTrelloHandler(pub)

		router = gin.New()
		router.HEAD("/trello/webhook", h.Verify)
		router.GET("/trello/webhook", h.Verify)
		router.POST("/trello/webhook", h.Receive)
	})

	validBody := func() []byte {
		body, err := json.Marshal(map[string]any{
			"action": map[string]any{
				"id":   "act-123",
				"type": "updateCard",
				"data": map[string]any{
					"board": map[string]any{"id": "board-1", "name": "Orders"},
					"card":  map[string]any{"id": "card-1", "name": "Acme Co | Banner"},
				},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		return body
	}

	It("answers the registration check with 200", func() {
		for _, method := range []string{http.MethodHead, http.MethodGet} {
			req := httptest.NewRequest(method, "/trello/webhook", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			Expect(w.Code).To(Equal(http.StatusOK))
		}
	})

	It("accepts a valid delivery", func() {
		req := httptest.NewRequest(http.MethodPost, "/trello/webhook", bytes.NewReader(validBody()))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(pub.published).To(HaveLen(1))
		Expect(pub.published[0].Action.ID).To(Equal("act-123"))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("accepted"))
		Expect(resp["action_id"]).To(Equal("act-123"))
		Expect(resp["action_type"]).To(Equal("updateCard"))
		Expect(resp["board_id"]).To(Equal("board-1"))
		Expect(resp["card_id"]).To(Equal("card-1"))
	})

	It("rejects malformed JSON", func() {
		req := httptest.NewRequest(http.MethodPost, "/trello/webhook", bytes.NewReader([]byte("{not json")))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(pub.published).To(BeEmpty())
	})

	It("rejects payloads without an action id", func() {
		body, _ := json.Marshal(map[string]any{"action": map[string]any{"type": "updateCard"}})
		req := httptest.NewRequest(http.MethodPost, "/trello/webhook", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(pub.published).To(BeEmpty())
	})

	It("records card-less actions in the event log", func() {
		body, _ := json.Marshal(map[string]any{
			"action": map[string]any{
				"id":   "act-9",
				"type": "updateBoard",
				"data": map[string]any{"board": map[string]any{"id": "board-1"}},
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/trello/webhook", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(pub.published).To(HaveLen(1))
		Expect(pub.published[0].Action.ID).To(Equal("act-9"))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["status"]).To(Equal("accepted"))
		Expect(resp["board_id"]).To(Equal("board-1"))
		Expect(resp["card_id"]).To(BeNil())
	})

	It("returns 500 when the event cannot be recorded", func() {
		pub.err = fmt.Errorf("bigquery unavailable")

		req := httptest.NewRequest(http.MethodPost, "/trello/webhook", bytes.NewReader(validBody()))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
