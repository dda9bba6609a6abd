package storage

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Handler serves GET /media/{path} after verifying the URL signature.
func (s *LocalStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/media/")
		q := r.URL.Query()

		if err := s.Verify(rel, q.Get("expires"), q.Get("sig")); err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		full, err := s.Path(rel)
		if err != nil {
			s.logger.WithFields(logrus.Fields{"path": rel, "error": err}).Warn("Rejected media path")
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeFile(w, r, full)
	})
}
