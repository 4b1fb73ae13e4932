package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/apperr"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/escrow"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/middleware"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/models"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/services"
)

// BountyQueries covers creation, reads and submission linkage.
type BountyQueries interface {
	Create(ctx context.Context, actorID uuid.UUID, req services.CreateBountyRequest) (*services.CreateBountyResult, error)
	Get(ctx context.Context, bountyID int64) (*services.BountyDetail, error)
	LinkSubmission(ctx context.Context, actorID uuid.UUID, bountyID, postID int64) (*models.Post, error)
	Escrow(ctx context.Context, bountyID int64) (*services.EscrowView, error)
	Calls(ctx context.Context, actorID uuid.UUID, bountyID int64, req services.CallsRequest) ([]escrow.PreparedCall, error)
}

type FundingRecorder interface {
	Record(ctx context.Context, actorID uuid.UUID, bountyID int64, req services.FundRequest) (*models.Bounty, error)
}

type WinnerSelector interface {
	Select(ctx context.Context, actorID uuid.UUID, bountyID, postID int64) (*models.Bounty, error)
}

type PayoutRecorder interface {
	Record(ctx context.Context, actorID uuid.UUID, bountyID int64, req services.PayoutRequest) (*services.PayoutResult, error)
}

// BodyValidator checks a raw request body against a named schema.
type BodyValidator interface {
	Validate(name string, body []byte) error
}

// BountyHandler serves /bounties endpoints.
type BountyHandler struct {
	Bounties  BountyQueries
	Funding   FundingRecorder
	Winners   WinnerSelector
	Payouts   PayoutRecorder
	Validator BodyValidator
	Logger    *slog.Logger
}

const maxBodyBytes = 1 << 20

// decode validates the body against schema and unmarshals it into v.
func (h *BountyHandler) decode(r *http.Request, schema string, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return ErrBadJSON
	}
	if !json.Valid(body) {
		return ErrBadJSON
	}
	if err := h.Validator.Validate(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return ErrBadJSON
	}
	return nil
}

func parseDeadline(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, apperr.Validation("deadline must be an RFC 3339 timestamp")
	}
	return t, nil
}

// --- POST /bounties ---

type createBountyRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	ReputationReward int    `json:"reputationReward"`
	EthAmount        string `json:"ethAmount"`
	ChainID          int64  `json:"chainId"`
	Deadline         string `json:"deadline"`
}

func (h *BountyHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	var req createBountyRequest
	if err := h.decode(r, services.SchemaCreateBounty, &req); err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	in := services.CreateBountyRequest{
		Title:            req.Title,
		Description:      req.Description,
		ReputationReward: req.ReputationReward,
		EthAmount:        req.EthAmount,
		ChainID:          req.ChainID,
	}
	if req.Deadline != "" {
		d, err := parseDeadline(req.Deadline)
		if err != nil {
			WriteError(w, h.Logger, err)
			return
		}
		in.Deadline = &d
	}
	res, err := h.Bounties.Create(r.Context(), user.ID, in)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// --- GET /bounties/{id} ---

func (h *BountyHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	d, err := h.Bounties.Get(r.Context(), id)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

// --- POST /bounties/{id}/fund ---

type fundRequest struct {
	TxHash    string `json:"txHash"`
	ChainID   int64  `json:"chainId"`
	EthAmount string `json:"ethAmount"`
	Deadline  string `json:"deadline"`
}

func (h *BountyHandler) Fund(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	var req fundRequest
	if err := h.decode(r, services.SchemaFundBounty, &req); err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	b, err := h.Funding.Record(r.Context(), user.ID, id, services.FundRequest{
		TxHash:    req.TxHash,
		ChainID:   req.ChainID,
		EthAmount: req.EthAmount,
		Deadline:  deadline,
	})
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, b)
}

// --- PUT /bounties/{id}/winner ---

type winnerRequest struct {
	PostID int64 `json:"postId"`
}

func (h *BountyHandler) SelectWinner(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	var req winnerRequest
	if err := h.decode(r, services.SchemaSelectWinner, &req); err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	b, err := h.Winners.Select(r.Context(), user.ID, id, req.PostID)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, b)
}

// --- POST /bounties/{id}/payout ---

type payoutRequest struct {
	TxHash        string `json:"txHash"`
	WinnerAddress string `json:"winnerAddress"`
}

type payoutResponse struct {
	Bounty   *models.Bounty `json:"bounty"`
	Replayed bool           `json:"replayed"`
}

func (h *BountyHandler) Payout(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	var req payoutRequest
	if err := h.decode(r, services.SchemaRecordPayout, &req); err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	res, err := h.Payouts.Record(r.Context(), user.ID, id, services.PayoutRequest{TxHash: req.TxHash, WinnerAddress: req.WinnerAddress})
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, payoutResponse{Bounty: res.Bounty, Replayed: res.Replayed})
}

// --- POST /bounties/{id}/submissions ---

type submissionRequest struct {
	PostID int64 `json:"postId"`
}

func (h *BountyHandler) LinkSubmission(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	var req submissionRequest
	if err := h.decode(r, services.SchemaLinkSubmission, &req); err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	p, err := h.Bounties.LinkSubmission(r.Context(), user.ID, id, req.PostID)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// --- GET /bounties/{id}/escrow ---

func (h *BountyHandler) Escrow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	v, err := h.Bounties.Escrow(r.Context(), id)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, v)
}

// --- GET /bounties/{id}/escrow/calls?amountWei=&chainId=&deadline= ---

func (h *BountyHandler) EscrowCalls(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromCtx(r.Context())
	id, err := pathID(r)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	q := r.URL.Query()
	req := services.CallsRequest{AmountWei: q.Get("amountWei")}
	if s := q.Get("chainId"); s != "" {
		if req.ChainID, err = strconv.ParseInt(s, 10, 64); err != nil {
			WriteError(w, h.Logger, apperr.Validation("chainId must be an integer"))
			return
		}
	}
	if s := q.Get("deadline"); s != "" {
		d, err := parseDeadline(s)
		if err != nil {
			WriteError(w, h.Logger, err)
			return
		}
		req.Deadline = &d
	}
	calls, err := h.Bounties.Calls(r.Context(), user.ID, id, req)
	if err != nil {
		WriteError(w, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"calls": calls})
}
