package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// HealthResponse представляет ответ health check
type HealthResponse struct {
	Status string `json:"status"`
}

// NewHealthHandler создает handler для GET /healthz.
// Relay не имеет зависимостей (ни БД, ни внешних сервисов),
// поэтому живость процесса и есть его здоровье.
func NewHealthHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			logger.Error("failed to encode health response", slog.Any("error", err))
		}
	}
}
