package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tvoe/cliphub/internal/intake"
	"github.com/tvoe/cliphub/internal/poller"
	"github.com/tvoe/cliphub/internal/store"
)

// WatchJob streams job snapshots as newline-delimited JSON until the job is
// terminal, the watch fails or the client goes away. A failure ends the
// stream with an {"error": ...} line.
func (h *Handler) WatchJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := h.pathID(w, r, "jobId")
	if !ok {
		return
	}

	opts := h.WatchOptions
	q := r.URL.Query()
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid interval")
			return
		}
		opts.Interval = d
	}
	if v := q.Get("max_wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid max_wait")
			return
		}
		opts.MaxWait = d
	}

	// fail fast before committing to a streaming response
	if _, err := h.Jobs.Status(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err)
		return
	}

	// the server write timeout would cut long streams
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("cannot clear write deadline", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	// each request polls on its own so concurrent watchers never evict each other
	p := poller.New(poller.FetcherFunc(h.Jobs.Status), h.logger, h.metrics)
	watch := p.Watch(r.Context(), jobID, opts)
	defer watch.Cancel()

	for view := range watch.Updates() {
		if err := enc.Encode(view); err != nil {
			h.logger.Debug("watch client went away", zap.String("jobId", jobID.String()), zap.Error(err))
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.Debug("watch stream cannot flush", zap.Error(err))
		}
	}

	if err := watch.Err(); err != nil && r.Context().Err() == nil {
		_, body := errorResponse(err)
		enc.Encode(body)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrDuplicate) ||
		errors.Is(err, intake.ErrUploadMissing) ||
		errors.Is(err, poller.ErrReplaced)
}
