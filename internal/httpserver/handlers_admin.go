package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/CedrosPay/ledger/internal/cache"
	apierrors "github.com/CedrosPay/ledger/internal/errors"
	"github.com/CedrosPay/ledger/internal/logger"
	"github.com/CedrosPay/ledger/pkg/responders"
)

// health reports store and cache reachability. The ledger keeps working
// without its cache, so a cache outage degrades the status but still
// answers 200; a store outage answers 503.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("health.store_down")
			checks["store"] = "down"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else {
			checks["store"] = "up"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health.cache_down")
			checks["cache"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			checks["cache"] = "up"
		}
	}

	responders.JSON(w, code, map[string]any{
		"status": status,
		"uptime": time.Since(serverStartTime).Round(time.Second).String(),
		"checks": checks,
	})
}

// flushCache deletes every key in one cache namespace.
func (h *handlers) flushCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "namespace")
	ns, ok := cache.ParseNamespace(name)
	if !ok {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeUnknownCacheNamespace, "unknown cache namespace", "namespace", name)
		return
	}
	if h.cache == nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "cache is not configured")
		return
	}

	deleted, err := h.cache.Flush(r.Context(), ns)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("namespace", name).Msg("admin.cache_flush_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "cache flush failed")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"namespace": ns,
		"deleted":   deleted,
	})
}
