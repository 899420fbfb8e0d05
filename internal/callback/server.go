// Package callback implements C4: the local HTTP server that receives
// UPnP NOTIFY requests and the /firewall-test probe endpoint, routing
// each NOTIFY by its token over a chi router.
package callback

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/avandenbos/sonos-reactive/internal/apperrors"
	"github.com/avandenbos/sonos-reactive/internal/logging"
	"github.com/avandenbos/sonos-reactive/internal/model"
)

var log = logging.For("callback")

// maxBodyBytes is the inclusive NOTIFY body size cap; 1 MiB is accepted,
// 1 MiB + 1 byte is rejected with 413.
const maxBodyBytes = 1 << 20

// firewallTestMarker is the fixed response body the firewall detector (C6)
// looks for to confirm inbound reachability.
const firewallTestMarker = "sonos-reactive-callback-reachable"

// Ingestor is the narrow surface Server needs from the broker (C7): route
// a NOTIFY body to the subscription that owns its token.
type Ingestor interface {
	Ingest(token string, body []byte, source model.EventSource) error
}

// Server is the local NOTIFY/firewall-test HTTP listener. It keeps its own
// subscription->token presence table, separate from the broker's
// speaker/service routing table: this is what lets an unregistered SID
// 404 at the front door before ever reaching the broker's Ingest.
type Server struct {
	ingestor Ingestor
	listener net.Listener
	srv      *http.Server
	baseURL  string

	mu     sync.RWMutex
	tokens map[string]struct{}
}

// Bind searches the inclusive port range [start,end] for the lowest free
// port and starts listening, using an outbound-connect trick to determine
// the routable local interface so the callback URL is reachable from
// devices on the LAN.
func Bind(ingestor Ingestor, portStart, portEnd int) (*Server, error) {
	localIP, err := discoverLocalIP()
	if err != nil {
		return nil, &apperrors.NetworkError{Op: "discover local IP", Err: err}
	}

	var ln net.Listener
	var port int
	for p := portStart; p <= portEnd; p++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", p))
		if err == nil {
			ln = l
			port = p
			break
		}
	}
	if ln == nil {
		return nil, &apperrors.PortExhaustedError{Start: portStart, End: portEnd}
	}

	s := &Server{
		ingestor: ingestor,
		listener: ln,
		baseURL:  fmt.Sprintf("http://%s:%d", localIP, port),
		tokens:   make(map[string]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Post("/notify/{token}", s.handleNotify)
	r.Get("/firewall-test", s.handleFirewallTest)

	s.srv = &http.Server{Handler: r}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("callback server stopped: %v", err)
		}
	}()

	log.Infof("callback server listening at %s", s.baseURL)
	return s, nil
}

// BaseURL returns the externally reachable base URL for building per-
// subscription callback URLs.
func (s *Server) BaseURL() string { return s.baseURL }

// Register adds token to this server's own subscription table, called by
// the subscription manager (C5) before a NOTIFY for it can ever arrive.
func (s *Server) Register(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = struct{}{}
}

// Unregister removes token, called on unsubscribe, expiry, or a
// polling downgrade.
func (s *Server) Unregister(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

func (s *Server) registered(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[token]
	return ok
}

// Shutdown stops accepting connections. It does not wait for in-flight
// NOTIFYs beyond what http.Server.Close does; C5's ShutdownAll budget
// bounds the overall shutdown window.
func (s *Server) Shutdown() error {
	return s.srv.Close()
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	if !s.registered(token) {
		http.Error(w, "unknown subscription", http.StatusNotFound)
		return
	}

	nt := r.Header.Get("NT")
	nts := r.Header.Get("NTS")
	// Lenient per spec: a missing NT/NTS is accepted (some firmware omits
	// them on renewal NOTIFYs); only a present-but-conflicting value is
	// rejected. This intentionally diverges from a stricter hard-equality
	// check against both headers.
	if nt != "" && nt != "upnp:event" {
		http.Error(w, "invalid NT", http.StatusBadRequest)
		return
	}
	if nts != "" && nts != "upnp:propchange" {
		http.Error(w, "invalid NTS", http.StatusBadRequest)
		return
	}

	sid := r.Header.Get("SID")
	if sid == "" {
		http.Error(w, "missing SID", http.StatusBadRequest)
		return
	}

	body, err := readBodyLimited(r.Body, maxBodyBytes)
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}

	seq := 0
	if n, err := strconv.Atoi(r.Header.Get("SEQ")); err == nil {
		seq = n
	}

	source := model.EventSource{
		Kind: model.SourceUPnPNotification,
		SID:  sid,
		SEQ:  seq,
	}

	if err := s.ingestor.Ingest(token, body, source); err != nil {
		log.Warnf("notify rejected request_id=%s token=%s: %v", requestID(r), token, err)
		http.Error(w, "unknown subscription", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFirewallTest(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(firewallTestMarker))
}

// readBodyLimited reads up to limit+1 bytes, treating a read that hits the
// extra byte as an oversize request.
func readBodyLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}

func discoverLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP.String(), nil
}
