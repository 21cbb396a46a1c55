// Package cleanup wires an operator webhook for pruning the snapshot cache
// ahead of the scheduled sweep.
package cleanup

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Pruner deletes snapshot cache rows whose hard expiry has passed.
type Pruner interface {
	DeleteExpiredSnapshots(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Handler accepts requests to prune expired snapshot rows immediately. The
// "all" query flag drops every cached snapshot regardless of age, which is
// the operator's way of forcing cold rebuilds after a bad provider episode.
func Handler(pr Pruner, olderThan time.Duration) func(http.ResponseWriter, *http.Request) {
	log := logrus.WithField("prefix", "db")

	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Pruning snapshot cache from HTTP webhook")

		cutoff := olderThan
		if _, all := r.URL.Query()["all"]; all {
			cutoff = 0
		}

		n, err := pr.DeleteExpiredSnapshots(r.Context(), cutoff)
		if err != nil {
			log.WithError(err).Error("Failed to prune snapshot cache")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprintf(w, "OK: pruned %d rows", n); err != nil {
			log.WithError(err).Error("Failed to write response")
		}
	}
}
