package handlers

import (
	"context"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/visionflow/vision"
)

// =============================================================================
// 📊 Provider status handler
// =============================================================================

// StatusReporter is the orchestrator surface the status handler needs.
type StatusReporter interface {
	GetProviderStatus(ctx context.Context) map[vision.ProviderID]vision.ProviderStatus
	ActiveProviders() []vision.ProviderID
	EnabledProviders() []vision.ProviderID
}

// StatusHandler serves GET /v1/providers/status.
type StatusHandler struct {
	reporter StatusReporter
	logger   *zap.Logger
}

func NewStatusHandler(reporter StatusReporter, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{reporter: reporter, logger: logger}
}

func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.reporter.GetProviderStatus(r.Context())

	providers := make(map[string]ProviderStatusDTO, len(statuses))
	for id, st := range statuses {
		dto := ProviderStatusDTO{Available: st.Available, Error: st.Error}
		if st.Status != nil {
			dto.Status = st.Status.Status
			if dto.Error == "" {
				dto.Error = st.Status.Error
			}
		}
		providers[string(id)] = dto
	}

	WriteSuccess(w, StatusResponseDTO{
		Providers:          providers,
		AvailableProviders: providerNames(h.reporter.ActiveProviders()),
		EnabledProviders:   providerNames(h.reporter.EnabledProviders()),
	})
}

func providerNames(ids []vision.ProviderID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	sort.Strings(out)
	return out
}
