package notify

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/events"
)

// MetricsSource reports consumer progress for the health endpoint.
type MetricsSource interface {
	Metrics() events.ConsumerMetrics
}

type Handler struct {
	inbox    *Inbox
	consumer MetricsSource
	logger   *logrus.Logger
}

func NewHandler(inbox *Inbox, consumer MetricsSource, logger *logrus.Logger) *Handler {
	return &Handler{inbox: inbox, consumer: consumer, logger: logger}
}

func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/notifications/{userId}", h.GetNotifications).Methods("GET")
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "laundry-notifier",
	}
	if h.consumer != nil {
		response["consumer"] = h.consumer.Metrics()
	}
	respondWithJSON(w, http.StatusOK, response)
}

func (h *Handler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	notifications := h.inbox.For(r.Context(), userID)

	h.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"count":   len(notifications),
	}).Debug("Retrieved notifications")

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"notifications": notifications,
		"count":         len(notifications),
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
