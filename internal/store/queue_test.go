package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"maxprint.app/orderflow/internal/model"
)

type statusCall struct {
	updateID     string
	status       model.PendingStatus
	errorMessage *string
}

type rescheduleCall struct {
	updateID   string
	retryCount int64
	cause      error
}

var _ = Describe("drain transitions", func() {
	var (
		s           *Store
		stats       model.DrainStats
		statuses    []statusCall
		resched     []rescheduleCall
		replayCalls int
		replayErr   error
		claimErr    error
	)

	bufferErr := fmt.Errorf("googleapi: Error 400: UPDATE or DELETE statement over table would affect rows in the streaming buffer")

	row := func(retryCount int64) claimedRow {
		return claimedRow{
			UpdateID:      "op-1",
			OperationType: string(model.OperationUpsertCard),
			RetryCount:    bigquery.NullInt64{Int64: retryCount, Valid: true},
		}
	}

	drain := func(r claimedRow) {
		s.drainOne(context.Background(), r, &stats)
	}

	BeforeEach(func() {
		stats = model.DrainStats{}
		statuses = nil
		resched = nil
		replayCalls = 0
		replayErr = nil
		claimErr = nil

		s = &Store{
			queueBackoffBase: 5 * time.Minute,
			queueMaxRetries:  5,
			now:              time.Now,
		}
		s.replayFn = func(ctx context.Context, r claimedRow) error {
			replayCalls++
			return replayErr
		}
		s.setStatusFn = func(ctx context.Context, updateID string, status model.PendingStatus, errorMessage *string) error {
			if status == model.PendingStatusProcessing && claimErr != nil {
				return claimErr
			}
			statuses = append(statuses, statusCall{updateID, status, errorMessage})
			return nil
		}
		s.rescheduleFn = func(ctx context.Context, updateID string, retryCount int64, cause error) error {
			resched = append(resched, rescheduleCall{updateID, retryCount, cause})
			return nil
		}
	})

	It("completes an item whose replay succeeds", func() {
		drain(row(0))

		Expect(replayCalls).To(Equal(1))
		Expect(statuses).To(HaveLen(2))
		Expect(statuses[0].status).To(Equal(model.PendingStatusProcessing))
		Expect(statuses[1].status).To(Equal(model.PendingStatusCompleted))
		Expect(resched).To(BeEmpty())
		Expect(stats).To(Equal(model.DrainStats{Processed: 1, Succeeded: 1}))
	})

	It("reschedules with an incremented retry count while the buffer persists", func() {
		replayErr = bufferErr

		drain(row(1))

		Expect(resched).To(HaveLen(1))
		Expect(resched[0].updateID).To(Equal("op-1"))
		Expect(resched[0].retryCount).To(Equal(int64(2)))
		Expect(resched[0].cause).To(MatchError(bufferErr))
		Expect(statuses).To(HaveLen(1))
		Expect(statuses[0].status).To(Equal(model.PendingStatusProcessing))
		Expect(stats).To(Equal(model.DrainStats{Processed: 1, Failed: 1}))
	})

	It("pushes the next attempt strictly further out each reschedule", func() {
		Expect(s.queueDelay(1)).To(BeNumerically(">", 0))
		Expect(s.queueDelay(2)).To(BeNumerically(">", s.queueDelay(1)))
		Expect(s.queueDelay(3)).To(BeNumerically(">", s.queueDelay(2)))
	})

	It("fails terminally once the retry cap is reached", func() {
		replayErr = bufferErr

		drain(row(5))

		Expect(resched).To(BeEmpty())
		Expect(statuses).To(HaveLen(2))
		Expect(statuses[1].status).To(Equal(model.PendingStatusFailed))
		Expect(statuses[1].errorMessage).To(HaveValue(ContainSubstring("streaming buffer")))
		Expect(stats).To(Equal(model.DrainStats{Processed: 1, Failed: 1}))
	})

	It("fails terminally on a non-buffering replay error", func() {
		replayErr = fmt.Errorf("decoding card payload: unexpected end of JSON input")

		drain(row(0))

		Expect(resched).To(BeEmpty())
		Expect(statuses).To(HaveLen(2))
		Expect(statuses[1].status).To(Equal(model.PendingStatusFailed))
		Expect(statuses[1].errorMessage).To(HaveValue(ContainSubstring("decoding card payload")))
		Expect(stats).To(Equal(model.DrainStats{Processed: 1, Failed: 1}))
	})

	It("skips an item with an unknown operation type", func() {
		replayErr = errUnknownOperation

		drain(claimedRow{UpdateID: "op-1", OperationType: "compact_table"})

		Expect(statuses).To(HaveLen(2))
		Expect(statuses[1].status).To(Equal(model.PendingStatusFailed))
		Expect(statuses[1].errorMessage).To(HaveValue(ContainSubstring("compact_table")))
		Expect(stats).To(Equal(model.DrainStats{Processed: 1, Skipped: 1}))
	})

	It("skips an item it cannot claim without replaying it", func() {
		claimErr = fmt.Errorf("concurrent update")

		drain(row(0))

		Expect(replayCalls).To(BeZero())
		Expect(statuses).To(BeEmpty())
		Expect(resched).To(BeEmpty())
		Expect(stats).To(Equal(model.DrainStats{Processed: 1, Skipped: 1}))
	})
})
