package streamer

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clickedinc/axr/internal/discovery"
)

// serveLinkage runs a minimal enterprise directory on addr. It hands out this
// streamer's address while no client is linked, and answers 503 while one is.
func (s *Streamer) serveLinkage(addr string) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(discovery.LinkagePath, s.handleLinkage)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("linkage server stopped", zap.Error(err))
		}
	}()
	s.log.Info("linkage directory listening", zap.Stringer("addr", ln.Addr()))

	return func() { srv.Close() }, nil
}

func (s *Streamer) handleLinkage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.active.Load() != 0 {
		http.Error(w, "streamer busy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(discovery.Linkage{
		Address: net.JoinHostPort(s.cfg.AdvertiseHost, strconv.Itoa(s.Port)),
	})
}
