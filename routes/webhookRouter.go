package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/logger"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/payments"
)

const signatureHeader = "Stripe-Signature"

type WebhookResponse struct {
	Received bool `json:"received"`
}

func WebhookRouter(r *mux.Router, s *Server) {
	r.HandleFunc("/webhook", s.PaymentWebhook).Methods(http.MethodPost)
}

// PaymentWebhook verifies the provider signature over the raw body and reconciles the event.
// Only failures the provider should retry are answered with a 5xx.
func (s *Server) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), s.log)

	header := r.Header.Get(signatureHeader)
	if header == "" {
		log.Warn("webhook without signature header")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Missing signature header", Type: "signature"})
		return
	}
	if !s.verifier.Configured() {
		log.Error("webhook endpoint secret is not configured")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "Webhook secret not configured", Type: "server"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.Payments.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Message: "Request body too large", Type: "body"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Unreadable request body", Type: "body"})
		return
	}

	evt, err := s.verifier.Verify(payload, header)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			log.Warn("webhook signature rejected", zap.Int("body_bytes", len(payload)), zap.Error(err))
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Invalid signature", Type: "signature"})
			return
		}
		// authentic but unusable: redelivery would not change anything
		log.Warn("webhook event not usable", zap.Error(err))
		writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	if _, err := s.reconciler.Reconcile(r.Context(), evt); err != nil && payments.ShouldRetry(err) {
		writeJSON(w, http.StatusInternalServerError, WebhookResponse{Received: false})
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Received: true})
}
