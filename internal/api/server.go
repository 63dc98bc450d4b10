package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cryptobot/internal/market"
	"cryptobot/internal/trade"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

type Server struct {
	log        *slog.Logger
	registry   *market.Registry
	ledger     market.LedgerStore
	engine     *trade.Engine
	adminToken string
	now        func() time.Time
	mux        *chi.Mux
}

func New(logger *slog.Logger, registry *market.Registry, ledger market.LedgerStore, engine *trade.Engine, adminToken string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:        logger,
		registry:   registry,
		ledger:     ledger,
		engine:     engine,
		adminToken: adminToken,
		now:        func() time.Time { return time.Now().UTC() },
		mux:        chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/assets", s.handleAssetsList)
		r.Get("/assets/search", s.handleAssetsSearch)
		r.Get("/assets/{tag}", s.handleAssetGet)
		r.Get("/assets/{tag}/history", s.handleAssetHistory)

		r.Get("/accounts/{user_id}", s.handleAccountGet)
		r.Post("/accounts/{user_id}", s.handleAccountEnsure)
		r.Post("/trades", s.handleTrade)

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/assets", s.handleAssetCreate)
			r.Delete("/assets/{tag}", s.handleAssetRemove)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusForbidden, "admin token rejected")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAssetsList(w http.ResponseWriter, r *http.Request) {
	out, err := s.registry.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": out})
}

func (s *Server) handleAssetsSearch(w http.ResponseWriter, r *http.Request) {
	out, err := s.registry.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": out})
}

func (s *Server) handleAssetGet(w http.ResponseWriter, r *http.Request) {
	a, ok, err := s.registry.Get(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeDomainError(w, market.ErrUnknownAsset)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAssetHistory(w http.ResponseWriter, r *http.Request) {
	since, err := s.historySince(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, samples, err := s.registry.History(r.Context(), chi.URLParam(r, "tag"), since)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if samples == nil {
		samples = []market.PriceSample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":   a,
		"since":   since,
		"samples": samples,
		"summary": market.Summarize(samples, a.Price),
	})
}

func (s *Server) historySince(r *http.Request) (time.Time, error) {
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		return time.Parse(time.RFC3339, raw)
	}
	period := q.Get("period")
	if period == "" {
		period = "day"
	}
	d, err := market.ParsePeriod(period)
	if err != nil {
		return time.Time{}, err
	}
	return s.now().Add(-d), nil
}

func (s *Server) handleAssetCreate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Tag        string          `json:"tag"`
		Name       string          `json:"name"`
		Price      decimal.Decimal `json:"price"`
		Volatility int64           `json:"volatility"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := s.registry.Create(r.Context(), in.Tag, in.Name, in.Price, in.Volatility)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleAssetRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(r.Context(), chi.URLParam(r, "tag")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	acct, ok, err := s.ledger.Get(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleAccountEnsure(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}
	acct, err := s.ledger.GetOrCreate(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID   string `json:"user_id"`
		Tag      string `json:"tag"`
		Side     string `json:"side"`
		Quantity int64  `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side, err := trade.ParseSide(in.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	res, err := s.engine.Execute(r.Context(), side, strings.TrimSpace(in.UserID), in.Tag, in.Quantity)
	if err != nil {
		writeJSON(w, domainStatus(err), map[string]any{
			"error":     strings.TrimSpace(err.Error()),
			"reason":    res.Reason,
			"state":     res.State,
			"retryable": trade.Retryable(err),
			"trade":     res,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, market.ErrDuplicateAsset), errors.Is(err, market.ErrUserBusy), errors.Is(err, market.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, market.ErrNotFound), errors.Is(err, market.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, market.ErrInsufficientFunds), errors.Is(err, market.ErrInsufficientHoldings), errors.Is(err, market.ErrBalanceLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrInvalidAsset), errors.Is(err, market.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domainStatus(err), err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
