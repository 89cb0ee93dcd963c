package payment_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-gateway-shim/internal/core/events"
	paymentpkg "github.com/frahmantamala/payment-gateway-shim/internal/payment"
)

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		repo     *mockPaymentRepository
		webhooks *mockWebhookEventRepository
		gateway  *mockGateway
		bus      *events.EventBus
		service  *paymentpkg.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = newMockPaymentRepository()
		webhooks = &mockWebhookEventRepository{}
		gateway = newMockGateway()
		bus = events.NewEventBus(quietLogger())
		service = paymentpkg.NewService(repo, webhooks, gateway, bus, "https://shop.example.com/return", quietLogger())
	})

	Describe("CreateSession", func() {
		It("should call the gateway and insert a pending row", func() {
			result, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{
				Amount:   json.RawMessage(`500`),
				Currency: "USD",
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.TransactionID).To(Equal("trk_123"))
			Expect(result.CheckoutURL).To(HaveSuffix("/trk_123"))
			Expect(result.PaymentID).To(BeNumerically(">", 0))
			Expect(result.GatewayRaw).To(MatchJSON(`{"data":{"token":"trk_123"}}`))

			Expect(gateway.sessionCalls).To(HaveLen(1))
			Expect(gateway.sessionCalls[0].Amount.Equal(decimal.NewFromInt(500))).To(BeTrue())
			Expect(gateway.sessionCalls[0].Currency).To(Equal("USD"))
			Expect(gateway.sessionCalls[0].ReturnURL).To(Equal("https://shop.example.com/return"))

			row := repo.get("trk_123")
			Expect(row.Status).To(Equal(payment.StatusPending))
			Expect(row.Currency).To(Equal("USD"))
			Expect(row.Amount.Equal(decimal.NewFromInt(500))).To(BeTrue())
		})

		It("should default the currency to PKR and uppercase it", func() {
			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`12.5`)})
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.sessionCalls[0].Currency).To(Equal("PKR"))

			gateway.token = "trk_456"
			_, err = service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`1`), Currency: "usd"})
			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.sessionCalls[1].Currency).To(Equal("USD"))
		})

		It("should prefer the caller's return URL", func() {
			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{
				Amount:    json.RawMessage(`10`),
				ReturnURL: "https://merchant.example.com/thanks",
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.sessionCalls[0].ReturnURL).To(Equal("https://merchant.example.com/thanks"))
		})

		DescribeTable("should reject bad amounts before any network call",
			func(amount string) {
				req := &paymentpkg.CreateSessionRequest{Currency: "USD"}
				if amount != "" {
					req.Amount = json.RawMessage(amount)
				}

				_, err := service.CreateSession(ctx, req)

				expectAppError(err, apperrors.ErrCodeInvalidAmount, http.StatusBadRequest)
				Expect(gateway.sessionCalls).To(BeEmpty())
				Expect(repo.payments).To(BeEmpty())
			},
			Entry("missing", ""),
			Entry("null", `null`),
			Entry("zero", `0`),
			Entry("negative", `-5`),
			Entry("numeric string", `"500"`),
			Entry("text", `"abc"`),
			Entry("boolean", `true`),
			Entry("object", `{"value":5}`),
			Entry("one cent past the column limit", `1000000000000.00`),
			Entry("rounds past the column limit", `999999999999.995`),
			Entry("overflows minor units", `184467440737095516.21`),
		)

		It("should accept the largest amount the column holds", func() {
			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`999999999999.99`)})

			Expect(err).NotTo(HaveOccurred())
			Expect(gateway.sessionCalls).To(HaveLen(1))
			Expect(repo.payments).To(HaveLen(1))
		})

		It("should reject an invalid currency", func() {
			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`5`), Currency: "DOLLARS"})

			expectAppError(err, apperrors.ErrCodeInvalidCurrency, http.StatusBadRequest)
			Expect(gateway.sessionCalls).To(BeEmpty())
		})

		It("should fail with a configuration error before calling the gateway", func() {
			gateway.configError = apperrors.NewConfigurationError("payment gateway is not configured")

			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`5`)})

			expectAppError(err, apperrors.ErrCodeGatewayNotConfigured, http.StatusInternalServerError)
			Expect(gateway.sessionCalls).To(BeEmpty())
		})

		It("should pass gateway failures through and write nothing", func() {
			gateway.sessionError = apperrors.NewMissingTokenError("payment gateway response did not contain a token")

			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`5`)})

			expectAppError(err, apperrors.ErrCodeGatewayMissingToken, http.StatusBadGateway)
			Expect(repo.payments).To(BeEmpty())
		})

		It("should report a database error when the insert fails", func() {
			repo.createError = errDatabaseDown

			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`5`)})

			appErr := expectAppError(err, apperrors.ErrCodeDatabaseFailure, http.StatusInternalServerError)
			Expect(appErr.Cause).To(MatchError(errDatabaseDown))
		})

		It("should merge card details present in the init response", func() {
			gateway.sessionRaw = `{"data":{"token":"trk_123","card":{"brand":"visa","last4":"4242"}}}`

			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`5`)})

			Expect(err).NotTo(HaveOccurred())
			row := repo.get("trk_123")
			Expect(row.CardType).To(HaveValue(Equal("visa")))
			Expect(row.CardNumber).To(HaveValue(Equal("****4242")))
			Expect(row.Status).To(Equal(payment.StatusPending))
		})

		It("should publish a session created event", func() {
			received := make(chan events.Event, 1)
			bus.Subscribe(events.EventTypeSessionCreated, func(ctx context.Context, e events.Event) error {
				received <- e
				return nil
			})

			_, err := service.CreateSession(ctx, &paymentpkg.CreateSessionRequest{Amount: json.RawMessage(`5`)})
			Expect(err).NotTo(HaveOccurred())

			var e events.Event
			Eventually(received).Should(Receive(&e))
			Expect(e.(*events.SessionCreatedEvent).TransactionID).To(Equal("trk_123"))
		})
	})

	Describe("HandleWebhook", func() {
		const paidWebhook = `{"event":"paid","data":{"tracker":"tok_1","card":{"brand":"visa","last4":"1234"}}}`

		It("should update status and card fields of the matching row", func() {
			repo.seed("tok_1")

			outcome, err := service.HandleWebhook(ctx, []byte(paidWebhook))

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Applied).To(BeTrue())
			Expect(outcome.TransactionID).To(Equal("tok_1"))

			row := repo.get("tok_1")
			Expect(row.Status).To(Equal("paid"))
			Expect(row.CardType).To(HaveValue(Equal("visa")))
			Expect(row.CardNumber).To(HaveValue(Equal("****1234")))
			Expect(row.CardholderName).To(BeNil())
			Expect(webhooks.all()).To(BeEmpty())
		})

		It("should be idempotent", func() {
			repo.seed("tok_1")

			_, err := service.HandleWebhook(ctx, []byte(paidWebhook))
			Expect(err).NotTo(HaveOccurred())
			first := repo.get("tok_1")

			_, err = service.HandleWebhook(ctx, []byte(paidWebhook))
			Expect(err).NotTo(HaveOccurred())
			second := repo.get("tok_1")

			second.UpdatedAt = first.UpdatedAt
			Expect(second).To(Equal(first))
		})

		It("should not clear card fields a later payload omits", func() {
			repo.seed("tok_1")
			_, err := service.HandleWebhook(ctx, []byte(paidWebhook))
			Expect(err).NotTo(HaveOccurred())

			_, err = service.HandleWebhook(ctx, []byte(`{"event":"refunded","data":{"tracker":"tok_1"}}`))
			Expect(err).NotTo(HaveOccurred())

			row := repo.get("tok_1")
			Expect(row.Status).To(Equal("refunded"))
			Expect(row.CardType).To(HaveValue(Equal("visa")))
			Expect(row.CardNumber).To(HaveValue(Equal("****1234")))
		})

		It("should skip the payments write and keep the event when there is no tracker", func() {
			repo.seed("tok_1")

			outcome, err := service.HandleWebhook(ctx, []byte(`{"event":"paid","data":{"card":{"brand":"visa"}}}`))

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Applied).To(BeFalse())
			Expect(outcome.Reason).To(Equal(payment.WebhookReasonNoTracker))
			Expect(repo.updateCount()).To(BeZero())
			Expect(repo.get("tok_1").Status).To(Equal(payment.StatusPending))

			stored := webhooks.all()
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].Reason).To(Equal(payment.WebhookReasonNoTracker))
			Expect(stored[0].TransactionID).To(BeNil())
			Expect(stored[0].EventType).To(HaveValue(Equal("paid")))
			Expect(stored[0].Payload).To(MatchJSON(`{"event":"paid","data":{"card":{"brand":"visa"}}}`))
		})

		It("should keep the event when the tracker matches no row", func() {
			outcome, err := service.HandleWebhook(ctx, []byte(paidWebhook))

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Applied).To(BeFalse())
			Expect(outcome.Reason).To(Equal(payment.WebhookReasonNoMatchingPayment))

			stored := webhooks.all()
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].TransactionID).To(HaveValue(Equal("tok_1")))
		})

		It("should acknowledge even when the audit write fails", func() {
			webhooks.recordError = errDatabaseDown

			outcome, err := service.HandleWebhook(ctx, []byte(`{}`))

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Applied).To(BeFalse())
		})

		It("should reject a body that is not JSON", func() {
			_, err := service.HandleWebhook(ctx, []byte(`not json`))

			expectAppError(err, apperrors.ErrCodeInvalidRequest, http.StatusBadRequest)
		})

		It("should surface a failed payments write as a database error", func() {
			repo.updateError = errDatabaseDown

			_, err := service.HandleWebhook(ctx, []byte(paidWebhook))

			expectAppError(err, apperrors.ErrCodeDatabaseFailure, http.StatusInternalServerError)
		})

		It("should publish a reconciled event for applied updates", func() {
			repo.seed("tok_1")
			received := make(chan events.Event, 1)
			bus.Subscribe(events.EventTypePaymentReconciled, func(ctx context.Context, e events.Event) error {
				received <- e
				return nil
			})

			_, err := service.HandleWebhook(ctx, []byte(paidWebhook))
			Expect(err).NotTo(HaveOccurred())

			var e events.Event
			Eventually(received).Should(Receive(&e))
			reconciled := e.(*events.PaymentReconciledEvent)
			Expect(reconciled.Status).To(Equal("paid"))
			Expect(reconciled.Source).To(Equal(paymentpkg.SourceWebhook))
		})
	})

	Describe("PollStatus", func() {
		It("should write the fetched state to the requested row", func() {
			repo.seed("trk_9")
			gateway.statusRaw["trk_9"] = `{"data":{"tracker":"trk_9","state":"TRACKER_ENDED","payment_method":{"brand":"mastercard","last4":"5555"}}}`

			result, err := service.PollStatus(ctx, "trk_9")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal("TRACKER_ENDED"))
			Expect(result.Data).To(MatchJSON(gateway.statusRaw["trk_9"]))

			row := repo.get("trk_9")
			Expect(row.Status).To(Equal("TRACKER_ENDED"))
			Expect(row.CardType).To(HaveValue(Equal("mastercard")))
			Expect(row.CardNumber).To(HaveValue(Equal("****5555")))
		})

		It("should succeed for an unknown transaction id without touching any row", func() {
			repo.seed("trk_known")

			result, err := service.PollStatus(ctx, "trk_unknown")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal("PAID"))
			Expect(result.Data).To(MatchJSON(`{"data":{"tracker":"trk_unknown","state":"PAID"}}`))
			Expect(repo.get("trk_known").Status).To(Equal(payment.StatusPending))
		})

		It("should target the requested id even if the response names another tracker", func() {
			repo.seed("trk_a")
			repo.seed("trk_b")
			gateway.statusRaw["trk_a"] = `{"data":{"tracker":"trk_b","state":"PAID"}}`

			_, err := service.PollStatus(ctx, "trk_a")

			Expect(err).NotTo(HaveOccurred())
			Expect(repo.get("trk_a").Status).To(Equal("PAID"))
			Expect(repo.get("trk_b").Status).To(Equal(payment.StatusPending))
		})

		It("should require a transaction id", func() {
			_, err := service.PollStatus(ctx, "  ")

			expectAppError(err, apperrors.ErrCodeInvalidRequest, http.StatusBadRequest)
			Expect(gateway.statusCallCount()).To(BeZero())
		})

		It("should surface upstream errors without retrying", func() {
			gateway.statusError = apperrors.NewUpstreamError("payment gateway returned status 503", nil).
				WithDetails(map[string]interface{}{"status": 503})

			_, err := service.PollStatus(ctx, "trk_9")

			appErr := expectAppError(err, apperrors.ErrCodeGatewayUnavailable, http.StatusInternalServerError)
			Expect(appErr.Details).To(HaveKeyWithValue("status", 503))
			Expect(gateway.statusCallCount()).To(Equal(1))
		})

		It("should report unknown when the response has no state", func() {
			repo.seed("trk_9")
			gateway.statusRaw["trk_9"] = `{"data":{}}`

			result, err := service.PollStatus(ctx, "trk_9")

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Status).To(Equal("unknown"))
			Expect(repo.get("trk_9").Status).To(Equal("unknown"))
		})
	})

	Describe("ListRecent", func() {
		It("should return an empty list, not nil", func() {
			payments, err := service.ListRecent(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(payments).NotTo(BeNil())
			Expect(payments).To(BeEmpty())
		})

		It("should return most recent first, capped at the list limit", func() {
			for i := 0; i < paymentpkg.ListLimit+5; i++ {
				repo.seed(fmt.Sprintf("trk_%d", i))
			}

			payments, err := service.ListRecent(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(payments).To(HaveLen(paymentpkg.ListLimit))
			Expect(payments[0].TransactionID).To(Equal("trk_104"))
			Expect(payments[0].ID).To(BeNumerically(">", payments[1].ID))
		})

		It("should wrap repository failures", func() {
			repo.listError = errDatabaseDown

			_, err := service.ListRecent(ctx)

			expectAppError(err, apperrors.ErrCodeDatabaseFailure, http.StatusInternalServerError)
		})
	})

	Describe("ReplayWebhookEvents", func() {
		It("should resolve stored events once their payment exists", func() {
			_, err := service.HandleWebhook(ctx, []byte(`{"event":"paid","data":{"tracker":"tok_late"}}`))
			Expect(err).NotTo(HaveOccurred())
			_, err = service.HandleWebhook(ctx, []byte(`{"event":"paid","data":{}}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(webhooks.all()).To(HaveLen(2))

			repo.seed("tok_late")

			summary, err := service.ReplayWebhookEvents(ctx, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Scanned).To(Equal(2))
			Expect(summary.Resolved).To(Equal(1))
			Expect(summary.Pending).To(Equal(1))
			Expect(repo.get("tok_late").Status).To(Equal("paid"))

			stored := webhooks.all()
			Expect(stored[0].Resolved).To(BeTrue())
			Expect(stored[0].ResolvedAt).NotTo(BeNil())
			Expect(stored[1].Resolved).To(BeFalse())
		})

		It("should leave events unresolved while no payment matches", func() {
			_, err := service.HandleWebhook(ctx, []byte(`{"event":"paid","data":{"tracker":"tok_missing"}}`))
			Expect(err).NotTo(HaveOccurred())

			summary, err := service.ReplayWebhookEvents(ctx, 10)

			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Resolved).To(BeZero())
			Expect(summary.Pending).To(Equal(1))
		})
	})

	Describe("Reconciler", func() {
		It("should poll every pending payment once", func() {
			for _, id := range []string{"trk_1", "trk_2", "trk_3", "trk_4", "trk_5"} {
				repo.seed(id)
			}
			settled := repo.seed("trk_done")
			_, err := repo.UpdateByTransactionID(ctx, settled.TransactionID, paymentpkg.Reconciliation{Status: "PAID"})
			Expect(err).NotTo(HaveOccurred())

			reconciler := paymentpkg.NewReconciler(service, repo, paymentpkg.ReconcilerConfig{MaxWorkers: 3}, quietLogger())
			summary, err := reconciler.Run(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Scanned).To(Equal(5))
			Expect(summary.Updated).To(Equal(5))
			Expect(summary.Failed).To(BeZero())
			Expect(gateway.statusCallCount()).To(Equal(5))
			Expect(gateway.statusCalls).NotTo(ContainElement("trk_done"))
			Expect(repo.get("trk_3").Status).To(Equal("PAID"))
		})

		It("should count failed polls without stopping", func() {
			repo.seed("trk_1")
			repo.seed("trk_2")
			gateway.statusError = apperrors.NewUpstreamError("payment gateway request failed", nil)

			reconciler := paymentpkg.NewReconciler(service, repo, paymentpkg.ReconcilerConfig{MaxWorkers: 2}, quietLogger())
			summary, err := reconciler.Run(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Scanned).To(Equal(2))
			Expect(summary.Failed).To(Equal(2))
			Expect(summary.Updated).To(BeZero())
		})

		It("should return immediately with nothing pending", func() {
			reconciler := paymentpkg.NewReconciler(service, repo, paymentpkg.ReconcilerConfig{}, quietLogger())
			summary, err := reconciler.Run(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Scanned).To(BeZero())
			Expect(gateway.statusCallCount()).To(BeZero())
		})
	})

	Describe("concurrent writers", func() {
		It("should leave the row in one of the written states", func() {
			repo.seed("tok_race")

			var wg sync.WaitGroup
			for _, status := range []string{"paid", "failed", "refunded", "paid"} {
				wg.Add(1)
				go func(status string) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := service.HandleWebhook(ctx, []byte(`{"event":"`+status+`","data":{"tracker":"tok_race"}}`))
					Expect(err).NotTo(HaveOccurred())
				}(status)
			}
			wg.Wait()

			Expect(repo.get("tok_race").Status).To(BeElementOf("paid", "failed", "refunded"))
		})
	})
})
