package server

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	coreerrors "riskledger/core/errors"
	"riskledger/crypto"
	"riskledger/native/common"
	"riskledger/native/lending"
	"riskledger/native/params"
	"riskledger/native/risk"
)

// Ledger is the subset of core.Ledger served over HTTP.
type Ledger interface {
	Config(ctx context.Context) (params.Config, error)
	Balance(ctx context.Context, asset string, addr crypto.Address) (*big.Int, error)

	DepositCollateral(ctx context.Context, account crypto.Address, amount *big.Int) error
	WithdrawCollateral(ctx context.Context, account crypto.Address, amount *big.Int) error
	Borrow(ctx context.Context, account crypto.Address, amount *big.Int) error
	Repay(ctx context.Context, account crypto.Address, payment *big.Int) (*lending.RepayResult, error)
	Liquidate(ctx context.Context, liquidator, borrower crypto.Address, payment *big.Int) (*lending.LiquidationResult, error)
	GetUserPosition(ctx context.Context, account crypto.Address) (*lending.PositionView, error)

	SetRiskScoreAttested(ctx context.Context, submitter crypto.Address, a risk.Attestation) error
	SetRiskScoreTrusted(ctx context.Context, caller, borrower crypto.Address, score, expiresAt uint64, metadataHash [32]byte) error
	GetRiskScore(ctx context.Context, borrower crypto.Address) (risk.Record, error)
	IsRiskFlagged(ctx context.Context, borrower crypto.Address) (bool, error)
	IsExtraCollateralFlagged(ctx context.Context, borrower crypto.Address) (bool, error)

	EnforcePause(ctx context.Context, caller, user crypto.Address) error
	Unpause(ctx context.Context, caller, user crypto.Address) error
	RequireExtraCollateral(ctx context.Context, caller, user crypto.Address, bps uint64) error
	SetTopUpDeadline(ctx context.Context, caller, user crypto.Address, deadline uint64) error
	ExtraCollateralBps(ctx context.Context, user crypto.Address) (uint64, error)
	TopUpDeadline(ctx context.Context, user crypto.Address) (uint64, error)

	SetLTV(ctx context.Context, caller crypto.Address, bps uint64) error
	SetLiquidationThreshold(ctx context.Context, caller crypto.Address, bps uint64) error
	SetMinHealthFactor(ctx context.Context, caller crypto.Address, value uint64) error
	SetPauseThreshold(ctx context.Context, caller crypto.Address, value uint64) error
	SetExtraCollateralThreshold(ctx context.Context, caller crypto.Address, value uint64) error
	RotatePrincipal(ctx context.Context, caller crypto.Address, role common.Role, next crypto.Address) error
}

// Config bundles the HTTP surface settings.
type Config struct {
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
}

// Server exposes the ledger as a JSON API. Reads are public; every write
// requires a bearer token whose subject becomes the acting principal.
type Server struct {
	ledger  Ledger
	auth    *Authenticator
	limiter *rateLimiter
	logger  *slog.Logger
}

// New constructs the HTTP server.
func New(ledger Ledger, cfg Config) (*Server, error) {
	if ledger == nil {
		return nil, errors.New("server: ledger required")
	}
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:  ledger,
		auth:    auth,
		limiter: newRateLimiter(cfg.RateLimit),
		logger:  logger,
	}, nil
}

// Handler returns the instrumented route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe(s.logger))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		s.mountQueries(r)
		r.Group(func(r chi.Router) {
			r.Use(s.auth.Middleware)
			s.mountLending(r)
			s.mountRisk(r)
			s.mountGuardian(r)
			s.mountAdmin(r)
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeProblem(w, http.StatusNotFound, codeNotFound, "route not found")
	})
	return otelhttp.NewHandler(r, "riskledger.http")
}

func (s *Server) mountQueries(r chi.Router) {
	r.Get("/config", s.handleConfig)
	r.Get("/positions/{account}", s.handleGetPosition)
	r.Get("/risk/{borrower}", s.handleGetRisk)
	r.Get("/guardian/policies/{user}", s.handleGetPolicy)
	r.Get("/balances/{asset}/{account}", s.handleGetBalance)
}

func (s *Server) mountLending(r chi.Router) {
	r.Post("/collateral/deposit", s.handleDeposit)
	r.Post("/collateral/withdraw", s.handleWithdraw)
	r.Post("/borrow", s.handleBorrow)
	r.Post("/repay", s.handleRepay)
	r.Post("/liquidate", s.handleLiquidate)
}

func (s *Server) mountRisk(r chi.Router) {
	r.Post("/risk/attested", s.handleSetAttested)
	r.Post("/risk/trusted", s.handleSetTrusted)
}

func (s *Server) mountGuardian(r chi.Router) {
	r.Post("/guardian/pause", s.handleEnforcePause)
	r.Post("/guardian/unpause", s.handleUnpause)
	r.Post("/guardian/extra-collateral", s.handleRequireExtraCollateral)
	r.Post("/guardian/top-up-deadline", s.handleSetTopUpDeadline)
}

func (s *Server) mountAdmin(r chi.Router) {
	r.Put("/admin/params/{field}", s.handleSetParam)
	r.Put("/admin/principals/{role}", s.handleRotatePrincipal)
}

func badRequest(w http.ResponseWriter, err error) {
	writeProblem(w, http.StatusBadRequest, coreerrors.CodeInvalidArgument, err.Error())
}

func caller(r *http.Request) crypto.Address {
	addr, _ := CallerFromContext(r.Context())
	return addr
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.ledger.Config(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		badRequest(w, err)
		return
	}
	view, err := s.ledger.GetUserPosition(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(view))
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	borrower, err := parseAddress("borrower", chi.URLParam(r, "borrower"))
	if err != nil {
		badRequest(w, err)
		return
	}
	ctx := r.Context()
	rec, err := s.ledger.GetRiskScore(ctx, borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	flagged, err := s.ledger.IsRiskFlagged(ctx, borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	extra, err := s.ledger.IsExtraCollateralFlagged(ctx, borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRiskResponse(borrower, rec, flagged, extra))
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		badRequest(w, err)
		return
	}
	ctx := r.Context()
	bps, err := s.ledger.ExtraCollateralBps(ctx, user)
	if err != nil {
		writeError(w, err)
		return
	}
	deadline, err := s.ledger.TopUpDeadline(ctx, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{User: user.String(), ExtraCollateralBps: bps, TopUpDeadline: deadline})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(chi.URLParam(r, "asset"))
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		badRequest(w, err)
		return
	}
	balance, err := s.ledger.Balance(r.Context(), asset, account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Asset: asset, Account: account.String(), Balance: balance.String()})
}

// positionMutation runs a single-amount operation for the caller and
// responds with the resulting position.
func (s *Server) positionMutation(w http.ResponseWriter, r *http.Request, op func(context.Context, crypto.Address, *big.Int) error) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err)
		return
	}
	account := caller(r)
	if err := op(r.Context(), account, amount); err != nil {
		writeError(w, err)
		return
	}
	s.respondPosition(w, r, account)
}

func (s *Server) respondPosition(w http.ResponseWriter, r *http.Request, account crypto.Address) {
	view, err := s.ledger.GetUserPosition(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPositionResponse(view))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.positionMutation(w, r, s.ledger.DepositCollateral)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.positionMutation(w, r, s.ledger.WithdrawCollateral)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	s.positionMutation(w, r, s.ledger.Borrow)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.ledger.Repay(r.Context(), caller(r), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, repayResponse{
		Repaid:   res.Repaid.String(),
		Refunded: res.Refunded.String(),
		Debt:     res.Debt.String(),
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		badRequest(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(w, err)
		return
	}
	res, err := s.ledger.Liquidate(r.Context(), caller(r), borrower, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationResponse{Repaid: res.Repaid.String(), Seized: res.Seized.String()})
}

func (s *Server) handleSetAttested(w http.ResponseWriter, r *http.Request) {
	var req attestedScoreRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	attestation, err := req.attestation()
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.ledger.SetRiskScoreAttested(r.Context(), caller(r), attestation); err != nil {
		writeError(w, err)
		return
	}
	s.respondRisk(w, r, attestation.Borrower)
}

func (s *Server) handleSetTrusted(w http.ResponseWriter, r *http.Request) {
	var req trustedScoreRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	borrower, err := parseAddress("borrower", req.Borrower)
	if err != nil {
		badRequest(w, err)
		return
	}
	hash, err := parseHash(req.MetadataHash)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.ledger.SetRiskScoreTrusted(r.Context(), caller(r), borrower, req.Score, req.ExpiresAt, hash); err != nil {
		writeError(w, err)
		return
	}
	s.respondRisk(w, r, borrower)
}

func (s *Server) respondRisk(w http.ResponseWriter, r *http.Request, borrower crypto.Address) {
	ctx := r.Context()
	rec, err := s.ledger.GetRiskScore(ctx, borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	flagged, err := s.ledger.IsRiskFlagged(ctx, borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	extra, err := s.ledger.IsExtraCollateralFlagged(ctx, borrower)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRiskResponse(borrower, rec, flagged, extra))
}

func (s *Server) userAction(w http.ResponseWriter, r *http.Request, op func(context.Context, crypto.Address, crypto.Address) error) {
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := op(r.Context(), caller(r), user); err != nil {
		writeError(w, err)
		return
	}
	s.respondPosition(w, r, user)
}

func (s *Server) handleEnforcePause(w http.ResponseWriter, r *http.Request) {
	s.userAction(w, r, s.ledger.EnforcePause)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.userAction(w, r, s.ledger.Unpause)
}

func (s *Server) handleRequireExtraCollateral(w http.ResponseWriter, r *http.Request) {
	var req extraCollateralRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.ledger.RequireExtraCollateral(r.Context(), caller(r), user, req.Bps); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTopUpDeadline(w http.ResponseWriter, r *http.Request) {
	var req deadlineRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.ledger.SetTopUpDeadline(r.Context(), caller(r), user, req.Deadline); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) paramSetter(field string) func(context.Context, crypto.Address, uint64) error {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "ltv":
		return s.ledger.SetLTV
	case "liquidation-threshold":
		return s.ledger.SetLiquidationThreshold
	case "min-health-factor":
		return s.ledger.SetMinHealthFactor
	case "pause-threshold":
		return s.ledger.SetPauseThreshold
	case "extra-collateral-threshold":
		return s.ledger.SetExtraCollateralThreshold
	default:
		return nil
	}
}

func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	setter := s.paramSetter(chi.URLParam(r, "field"))
	if setter == nil {
		writeProblem(w, http.StatusNotFound, codeNotFound, "unknown parameter")
		return
	}
	var req paramRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	if err := setter(r.Context(), caller(r), req.Value); err != nil {
		writeError(w, err)
		return
	}
	s.handleConfig(w, r)
}

func (s *Server) handleRotatePrincipal(w http.ResponseWriter, r *http.Request) {
	role, err := common.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		writeProblem(w, http.StatusNotFound, codeNotFound, "unknown role")
		return
	}
	var req principalRequest
	if err := decodeBody(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	next, err := parseAddress("address", req.Address)
	if err != nil {
		badRequest(w, err)
		return
	}
	if err := s.ledger.RotatePrincipal(r.Context(), caller(r), role, next); err != nil {
		writeError(w, err)
		return
	}
	s.handleConfig(w, r)
}
