package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"crosslock/core/events"
	"crosslock/core/types"
	"crosslock/crypto"
	"crosslock/native/escrow"
	"crosslock/observability"
)

const headerIdempotencyKey = "Idempotency-Key"

// InstanceReader exposes read access to deployed escrow instances; the
// ledger shared by the factory and engine satisfies it. A nil instance with a
// nil error means the address is unoccupied.
type InstanceReader interface {
	EscrowGet(addr [20]byte) (*escrow.Instance, error)
}

// Server is the HTTP front-end for escrow creation and settlement.
type Server struct {
	factory *escrow.Factory
	engine  *escrow.Engine
	reader  InstanceReader
	auth    *Authenticator
	store   *Store
	feed    *events.Capture
	limiter *RateLimiter
	chainID uint64
}

// NewServer wires the gateway around the escrow engines. feed should be the
// same emitter the engines publish to so the commitment feed stays complete.
func NewServer(factory *escrow.Factory, engine *escrow.Engine, reader InstanceReader, auth *Authenticator, store *Store, feed *events.Capture, limiter *RateLimiter, chainID uint64) *Server {
	if factory == nil || engine == nil {
		panic("gateway: factory and engine required")
	}
	if reader == nil {
		panic("gateway: instance reader required")
	}
	if auth == nil {
		panic("gateway: authenticator required")
	}
	return &Server{
		factory: factory,
		engine:  engine,
		reader:  reader,
		auth:    auth,
		store:   store,
		feed:    feed,
		limiter: limiter,
		chainID: chainID,
	}
}

// Router assembles the gateway's route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/escrows/src", s.handleCreateSrc)
		r.Post("/escrows/dst", s.handleCreateDst)
		r.Post("/escrows/quote", s.handleQuote)
		r.Get("/escrows/{address}", s.handleGetEscrow)
		r.Post("/escrows/{address}/withdraw", s.handleWithdraw)
		r.Post("/escrows/{address}/cancel", s.handleCancel)
		r.Get("/events", s.handleEvents)
	})
	return r
}

type timelocksPayload struct {
	SrcWithdrawal         uint32 `json:"srcWithdrawal"`
	SrcPublicWithdrawal   uint32 `json:"srcPublicWithdrawal"`
	SrcCancellation       uint32 `json:"srcCancellation"`
	SrcPublicCancellation uint32 `json:"srcPublicCancellation"`
	DstWithdrawal         uint32 `json:"dstWithdrawal"`
	DstPublicWithdrawal   uint32 `json:"dstPublicWithdrawal"`
	DstCancellation       uint32 `json:"dstCancellation"`

	// DeployedAt lets a quote carry an expected anchor. Creation ignores it:
	// the factory always stamps its own clock.
	DeployedAt uint64 `json:"deployedAt,omitempty"`
}

type immutablesPayload struct {
	OrderHash     string           `json:"orderHash"`
	Hashlock      string           `json:"hashlock"`
	Maker         string           `json:"maker"`
	Taker         string           `json:"taker"`
	Token         string           `json:"token"`
	Amount        string           `json:"amount"`
	SafetyDeposit string           `json:"safetyDeposit"`
	Timelocks     timelocksPayload `json:"timelocks"`
}

type complementPayload struct {
	Maker         string `json:"maker"`
	Amount        string `json:"amount"`
	Token         string `json:"token"`
	SafetyDeposit string `json:"safetyDeposit"`
}

type createSrcPayload struct {
	Caller     string             `json:"caller"`
	Value      string             `json:"value"`
	Immutables immutablesPayload  `json:"immutables"`
	Complement *complementPayload `json:"complement,omitempty"`
}

type createDstPayload struct {
	Caller          string            `json:"caller"`
	Value           string            `json:"value"`
	SrcCancellation uint64            `json:"srcCancellation"`
	Immutables      immutablesPayload `json:"immutables"`
}

type settlePayload struct {
	Caller string `json:"caller"`
	Secret string `json:"secret,omitempty"`
}

type quotePayload struct {
	Side       string            `json:"side"`
	Immutables immutablesPayload `json:"immutables"`
}

type escrowResponse struct {
	Escrow     string `json:"escrow"`
	EscrowHex  string `json:"escrowHex"`
	Commitment string `json:"commitment"`
}

func parseHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return out, fmt.Errorf("gateway: invalid hash: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("gateway: hash must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func parseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("gateway: invalid amount %q", s)
	}
	return amount, nil
}

func (p *immutablesPayload) toImmutables() (*escrow.Immutables, error) {
	orderHash, err := parseHash(p.OrderHash)
	if err != nil {
		return nil, err
	}
	hashlock, err := parseHash(p.Hashlock)
	if err != nil {
		return nil, err
	}
	maker, err := crypto.ParseHexAddress(p.Maker)
	if err != nil {
		return nil, err
	}
	taker, err := crypto.ParseHexAddress(p.Taker)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	deposit, err := parseAmount(p.SafetyDeposit)
	if err != nil {
		return nil, err
	}
	timelocks, err := escrow.NewTimelocks(
		p.Timelocks.SrcWithdrawal,
		p.Timelocks.SrcPublicWithdrawal,
		p.Timelocks.SrcCancellation,
		p.Timelocks.SrcPublicCancellation,
		p.Timelocks.DstWithdrawal,
		p.Timelocks.DstPublicWithdrawal,
		p.Timelocks.DstCancellation,
	)
	if err != nil {
		return nil, err
	}
	if p.Timelocks.DeployedAt != 0 {
		timelocks = timelocks.WithDeployedAt(p.Timelocks.DeployedAt)
	}
	return &escrow.Immutables{
		OrderHash:     orderHash,
		Hashlock:      hashlock,
		Maker:         maker,
		Taker:         taker,
		Token:         p.Token,
		Amount:        amount,
		SafetyDeposit: deposit,
		Timelocks:     timelocks,
	}, nil
}

func (p *complementPayload) toComplement(chainID uint64) (*escrow.DstImmutablesComplement, error) {
	if p == nil {
		return nil, nil
	}
	maker, err := crypto.ParseHexAddress(p.Maker)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	deposit, err := parseAmount(p.SafetyDeposit)
	if err != nil {
		return nil, err
	}
	return &escrow.DstImmutablesComplement{
		Maker:         maker,
		Amount:        amount,
		Token:         p.Token,
		SafetyDeposit: deposit,
		ChainID:       chainID,
	}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSrc(w http.ResponseWriter, r *http.Request) {
	s.handleCreate(w, r, escrow.SideSrc)
}

func (s *Server) handleCreateDst(w http.ResponseWriter, r *http.Request) {
	s.handleCreate(w, r, escrow.SideDst)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, side escrow.Side) {
	started := time.Now()
	body, principal, ok := s.authenticated(w, r)
	if !ok {
		return
	}
	idemKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if s.store != nil && idemKey != "" {
		if stored, err := s.store.Lookup(r.Context(), principal.APIKey, idemKey); err == nil && stored != nil {
			writeRaw(w, stored.Status, stored.Body)
			return
		}
	}

	status, payload := s.executeCreate(body, side)
	outcome := "ok"
	if status != http.StatusCreated {
		outcome = "error"
	}
	observability.Escrow().ObserveCreation(side.String(), outcome)
	observability.Escrow().ObserveRequest(r.URL.Path, fmt.Sprintf("%d", status), time.Since(started))
	if s.store != nil {
		if idemKey != "" {
			_ = s.store.Remember(r.Context(), principal.APIKey, idemKey, status, payload)
		}
		_ = s.store.Audit(r.Context(), uuid.NewString(), principal.APIKey, r.Method, r.URL.Path, status)
	}
	writeRaw(w, status, payload)
}

func (s *Server) executeCreate(body []byte, side escrow.Side) (int, []byte) {
	var (
		addr [20]byte
		err  error
	)
	switch side {
	case escrow.SideSrc:
		var req createSrcPayload
		if err := json.Unmarshal(body, &req); err != nil {
			return errorPayload(http.StatusBadRequest, err)
		}
		addr, err = s.createSrc(&req)
	default:
		var req createDstPayload
		if err := json.Unmarshal(body, &req); err != nil {
			return errorPayload(http.StatusBadRequest, err)
		}
		addr, err = s.createDst(&req)
	}
	if err != nil {
		return errorPayload(creationStatus(err), err)
	}
	commitment := ""
	if inst, err := s.instanceAt(addr); err == nil && inst != nil {
		commitment = hex.EncodeToString(inst.Commitment[:])
	}
	payload, err := json.Marshal(escrowResponse{
		Escrow:     crypto.MustNewAddress(crypto.EscrowPrefix, addr).String(),
		EscrowHex:  hex.EncodeToString(addr[:]),
		Commitment: commitment,
	})
	if err != nil {
		return errorPayload(http.StatusInternalServerError, err)
	}
	return http.StatusCreated, payload
}

func (s *Server) createSrc(req *createSrcPayload) ([20]byte, error) {
	caller, err := crypto.ParseHexAddress(req.Caller)
	if err != nil {
		return [20]byte{}, err
	}
	imm, err := req.Immutables.toImmutables()
	if err != nil {
		return [20]byte{}, err
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		return [20]byte{}, err
	}
	complement, err := req.Complement.toComplement(s.chainID)
	if err != nil {
		return [20]byte{}, err
	}
	return s.factory.CreateSrcEscrow(caller, imm, complement, value)
}

func (s *Server) createDst(req *createDstPayload) ([20]byte, error) {
	caller, err := crypto.ParseHexAddress(req.Caller)
	if err != nil {
		return [20]byte{}, err
	}
	imm, err := req.Immutables.toImmutables()
	if err != nil {
		return [20]byte{}, err
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		return [20]byte{}, err
	}
	return s.factory.CreateDstEscrow(caller, imm, req.SrcCancellation, value)
}

// handleQuote derives the address the supplied terms would deploy at without
// touching state. The anchor in the supplied timelocks is used as-is, so a
// quote only matches a later deployment when stamped with the same second.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	body, _, ok := s.authenticated(w, r)
	if !ok {
		return
	}
	var req quotePayload
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	imm, err := req.Immutables.toImmutables()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Quote from the same sanitized form the factory deploys with, so a
	// quoted address never diverges from the one creation registers.
	imm, err = escrow.SanitizeImmutables(imm)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var addr [20]byte
	switch strings.ToLower(strings.TrimSpace(req.Side)) {
	case "src":
		addr = s.factory.AddressOfEscrowSrc(imm)
	case "dst":
		addr = s.factory.AddressOfEscrowDst(imm)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("gateway: side must be src or dst"))
		return
	}
	commitment := imm.Hash()
	writeJSON(w, http.StatusOK, escrowResponse{
		Escrow:     crypto.MustNewAddress(crypto.EscrowPrefix, addr).String(),
		EscrowHex:  hex.EncodeToString(addr[:]),
		Commitment: hex.EncodeToString(commitment[:]),
	})
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	addr, err := s.pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	inst, err := s.instanceAt(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if inst == nil {
		writeError(w, http.StatusNotFound, escrow.ErrEscrowNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleSettle(w, r, "withdraw")
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.handleSettle(w, r, "cancel")
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request, action string) {
	body, _, ok := s.authenticated(w, r)
	if !ok {
		return
	}
	addr, err := s.pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req settlePayload
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := crypto.ParseHexAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch action {
	case "withdraw":
		var secret [32]byte
		if secret, err = parseHash(req.Secret); err == nil {
			err = s.engine.Withdraw(addr, caller, secret)
		}
	case "cancel":
		err = s.engine.Cancel(addr, caller)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.Escrow().ObserveSettlement(action, outcome)
	if err != nil {
		writeError(w, settlementStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	var payload []*types.Event
	if s.feed != nil {
		for _, evt := range s.feed.Events() {
			if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
				payload = append(payload, carrier.Event())
			}
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) instanceAt(addr [20]byte) (*escrow.Instance, error) {
	return s.reader.EscrowGet(addr)
}

func (s *Server) pathAddress(r *http.Request) ([20]byte, error) {
	raw := chi.URLParam(r, "address")
	if strings.HasPrefix(raw, string(crypto.EscrowPrefix)+"1") {
		decoded, err := crypto.DecodeAddress(raw)
		if err != nil {
			return [20]byte{}, err
		}
		return decoded.Raw(), nil
	}
	return crypto.ParseHexAddress(raw)
}

func (s *Server) authenticated(w http.ResponseWriter, r *http.Request) ([]byte, *Principal, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyForSignature+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}
	if len(body) > MaxBodyForSignature {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("gateway: body too large"))
		return nil, nil, false
	}
	principal, err := s.auth.Authenticate(r, body)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return nil, nil, false
	}
	return body, principal, true
}

func creationStatus(err error) int {
	switch {
	case errors.Is(err, escrow.ErrInsufficientEscrowBalance),
		errors.Is(err, escrow.ErrInvalidCreationTime):
		return http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrEscrowAlreadyDeployed):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func settlementStatus(err error) int {
	switch {
	case errors.Is(err, escrow.ErrEscrowNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrInvalidCaller), errors.Is(err, escrow.ErrInvalidSecret):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidTime), errors.Is(err, escrow.ErrEscrowNotActive):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func errorPayload(status int, err error) (int, []byte) {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return status, payload
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeRaw(w, status, payload)
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
