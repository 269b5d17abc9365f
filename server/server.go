package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/ensclub/ens-verify/core"
	"github.com/ensclub/ens-verify/discord"
	"github.com/ensclub/ens-verify/types"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodySize = 1 << 20

// routePrefixes lists where the API is mounted; the browser page calls the /api variants.
var routePrefixes = []string{"", "/api"}

type Server struct {
	port        int
	nonces      core.NonceRegistry
	verifier    core.Verifier
	sampleSize  int
	corsOrigins []string
	rateLimit   int
	// interactions are served only when a public key is set.
	publicKey  ed25519.PublicKey
	baseUrl    string
	proxies    proxyList
	httpServer *http.Server
	// ctx ends background work started by Handler.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(port int, nonces core.NonceRegistry, verifier core.Verifier) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		port:        port,
		nonces:      nonces,
		verifier:    verifier,
		sampleSize:  core.DefaultSampleSize,
		corsOrigins: []string{"*"},
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Server) SetCorsOrigins(origins []string) {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
}

// SetRateLimit limits each client IP to rps requests per second; 0 disables limiting.
func (s *Server) SetRateLimit(rps int) {
	s.rateLimit = rps
}

func (s *Server) SetSampleSize(n int) {
	if n > 0 {
		s.sampleSize = n
	}
}

// SetTrustedProxies lists the proxy addresses or CIDR ranges allowed to set
// X-Forwarded-For. Without any, clients are identified by their peer address.
func (s *Server) SetTrustedProxies(entries []string) error {
	proxies, err := parseProxies(entries)
	if err != nil {
		return err
	}
	s.proxies = proxies
	return nil
}

func (s *Server) SetInteractions(publicKey ed25519.PublicKey, baseUrl string) {
	s.publicKey = publicKey
	s.baseUrl = baseUrl
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	s.initRouter(router)
	headersOk := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"})
	originsOk := handlers.AllowedOrigins(s.corsOrigins)
	methodsOk := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "OPTIONS"})
	var handler http.Handler = s.requestFilter(router)
	if s.rateLimit > 0 {
		limiters := newIpLimiters(s.rateLimit, s.rateLimit*2)
		go limiters.loopCleanup(s.ctx, limiterCleanupInterval)
		handler = rateLimiter(limiters, s.clientIP)(handler)
	}
	handler = handlers.CORS(originsOk, headersOk, methodsOk)(handler)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(handler)
}

func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpServer
	log.Info(fmt.Sprintf("Listening on %v", addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

func (s *Server) Stop() {
	s.cancel()
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		panic(err)
	}
}

func (s *Server) requestFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqId := uuid.New().String()
		log.Debug(fmt.Sprintf("Got request %v, %v %v, from: %v", reqId, r.Method, r.URL.Path, s.clientIP(r)))
		defer log.Debug(fmt.Sprintf("Completed request %v", reqId))
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		r.URL.Path = strings.ToLower(r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) clientIP(r *http.Request) string {
	return s.proxies.clientIP(r)
}

func (s *Server) initRouter(router *mux.Router) {
	for _, prefix := range routePrefixes {
		router.Path(prefix + "/nonce").Handler(instrument("nonce", s.nonce)).Methods("GET")
		router.Path(prefix + "/verify").Handler(instrument("verify", s.verify)).Methods("POST")
		if s.publicKey != nil {
			router.Path(prefix + "/interactions").Handler(instrument("interactions", s.interactions)).Methods("POST")
		}
	}
	router.Path("/healthz").HandlerFunc(s.healthz).Methods("GET")
	router.Path("/metrics").Handler(promhttp.Handler()).Methods("GET")
}

func (s *Server) nonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := s.nonces.Issue(r.Context())
	if err != nil {
		log.Error(fmt.Sprintf("Unable to issue nonce: %v", err))
		writeError(w, http.StatusInternalServerError, core.ReasonInternal, "Unable to issue nonce")
		return
	}
	writeResponse(w, http.StatusOK, types.NonceResponse{Nonce: nonce})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	request := types.VerifyRequest{}
	if err := json.Unmarshal(body, &request); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Malformed JSON body")
		return
	}
	if request.Message == "" || request.Signature == "" || request.Uid == "" || request.Guild == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "Missing fields")
		return
	}
	outcome := s.verifier.Verify(r.Context(), request)
	writeResponse(w, statusFor(outcome), outcome.Response(s.sampleSize))
}

// statusFor keeps "checked and not eligible" (200) apart from protocol errors (4xx)
// and upstream failures (5xx) that are worth retrying.
func statusFor(outcome core.Outcome) int {
	switch outcome.Reason {
	case core.ReasonNone, core.ReasonNotAuthorized:
		return http.StatusOK
	case core.ReasonInvalidNonce, core.ReasonInvalidSignature:
		return http.StatusBadRequest
	case core.ReasonLedgerUnavailable, core.ReasonBusy:
		return http.StatusServiceUnavailable
	case core.ReasonGrantFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) interactions(w http.ResponseWriter, r *http.Request) {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if !discord.VerifyRequest(s.publicKey, r.Header.Get("X-Signature-Ed25519"), r.Header.Get("X-Signature-Timestamp"), body) {
		http.Error(w, "Bad signature", http.StatusUnauthorized)
		return
	}
	var interaction discord.Interaction
	if err := json.Unmarshal(body, &interaction); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	writeResponse(w, http.StatusOK, discord.HandleInteraction(interaction, s.baseUrl))
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeResponse(w http.ResponseWriter, status int, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Error(fmt.Sprintf("Unable to write response: %v", err))
	}
}

func writeError(w http.ResponseWriter, status int, code core.Reason, errMsg string) {
	writeResponse(w, status, types.ErrorResponse{
		Code:  string(code),
		Error: errMsg,
	})
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error(fmt.Sprint(v...))
}
