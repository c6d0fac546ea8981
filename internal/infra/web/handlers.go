package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/usecase"
)

// ===== Response envelopes =====

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type insufficientTokensResponse struct {
	Error          string `json:"error"`
	Required       string `json:"required"`
	CurrentBalance string `json:"current_balance"`
	Shortfall      string `json:"shortfall"`
}

type costBreakdownView struct {
	Images    int    `json:"images"`
	Videos    int    `json:"videos"`
	Frames    int    `json:"frames"`
	ZipPairs  int    `json:"zip_pairs,omitempty"`
	ImageCost string `json:"image_cost"`
	FrameCost string `json:"frame_cost"`
	Total     string `json:"total"`
}

func breakdownView(b model.CostBreakdown) costBreakdownView {
	return costBreakdownView{
		Images:    b.Images,
		Videos:    b.Videos,
		Frames:    b.Frames,
		ZipPairs:  b.ZipPairs,
		ImageCost: b.ImageCost.String(),
		FrameCost: b.FrameCost.String(),
		Total:     b.Total.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeDomainError maps domain sentinels to stable wire codes. Anything
// unmapped becomes an opaque 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientTokensError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, insufficientTokensResponse{
			Error:          "insufficient_tokens",
			Required:       insufficient.Required.String(),
			CurrentBalance: insufficient.Current.String(),
			Shortfall:      insufficient.Shortfall.String(),
		})
	case errors.Is(err, domain.ErrEmptyDataset):
		writeError(w, http.StatusBadRequest, "empty_dataset", "dataset has no billable pairs")
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidJobData):
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", "resource already exists")
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job_not_found", "job not found")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "forbidden", "not authorized")
	case errors.Is(err, domain.ErrQueueFailure):
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "job queue unavailable, tokens were refunded")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// ===== Inference =====

type submitInferenceRequest struct {
	DatasetName string         `json:"dataset_name"`
	ModelID     string         `json:"model_id"`
	Options     map[string]any `json:"options"`
}

func (s *Server) submitInferenceHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req submitInferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if req.DatasetName == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "dataset_name is required")
		return
	}

	res, err := s.inferUC.Submit(r.Context(), claims.Subject, req.DatasetName, req.ModelID, req.Options)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dataset_not_found", "dataset not found")
			return
		}
		s.log.Error().Err(err).Str("user_id", claims.Subject).Msg("inference submission failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		JobID         string            `json:"job_id"`
		TokenCost     string            `json:"token_cost"`
		CostBreakdown costBreakdownView `json:"cost_breakdown"`
	}{res.JobID, res.TokenCost.String(), breakdownView(res.Breakdown)})
}

type jobStatusResponse struct {
	JobID         string                 `json:"job_id"`
	Status        model.JobStatus        `json:"status"`
	Progress      int                    `json:"progress"`
	Result        *model.InferenceResult `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	TokenRefunded bool                   `json:"token_refunded"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (s *Server) jobStatusHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	jobID := chi.URLParam(r, "jobID")

	view, err := s.inferUC.Status(r.Context(), claims.Subject, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job_not_found", "job not found")
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:         view.JobID,
		Status:        view.Status,
		Progress:      view.Progress,
		Result:        view.Result,
		Error:         view.Error,
		TokenRefunded: view.TokenRefunded,
		CreatedAt:     view.CreatedAt,
		UpdatedAt:     view.UpdatedAt,
	})
}

// ===== Datasets =====

type uploadDatasetRequest struct {
	Name             string       `json:"name"`
	Type             string       `json:"type"`
	IsZip            bool         `json:"is_zip"`
	ImageCount       int          `json:"image_count"`
	VideoFrameCounts []int        `json:"video_frame_counts"`
	Pairs            []model.Pair `json:"pairs"`
}

func (s *Server) uploadDatasetHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req uploadDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	res, err := s.datasetUC.Upload(r.Context(), claims.Subject, usecase.UploadRequest{
		Name:             req.Name,
		Type:             req.Type,
		IsZip:            req.IsZip,
		ImageCount:       req.ImageCount,
		VideoFrameCounts: req.VideoFrameCounts,
		Pairs:            req.Pairs,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "duplicate_dataset", "a dataset with this name already exists")
			return
		}
		s.log.Error().Err(err).Str("user_id", claims.Subject).Msg("dataset upload failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		DatasetID     string            `json:"dataset_id"`
		TokenCost     string            `json:"token_cost"`
		CostBreakdown costBreakdownView `json:"cost_breakdown"`
	}{res.DatasetID, res.TokenCost.String(), breakdownView(res.Breakdown)})
}

type datasetView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	IsZip     bool      `json:"is_zip"`
	PairCount int       `json:"pair_count"`
	CreatedAt time.Time `json:"created_at"`
}

func viewOf(d *model.Dataset) datasetView {
	return datasetView{
		ID:        d.ID,
		Name:      d.Name,
		Type:      d.Type,
		IsZip:     d.IsZip,
		PairCount: len(d.Pairs),
		CreatedAt: d.CreatedAt,
	}
}

func (s *Server) listDatasetsHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	list, err := s.datasetUC.List(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]datasetView, 0, len(list))
	for _, d := range list {
		views = append(views, viewOf(d))
	}
	writeJSON(w, http.StatusOK, struct {
		Data []datasetView `json:"data"`
	}{views})
}

func (s *Server) getDatasetHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	name := chi.URLParam(r, "name")

	d, err := s.datasetUC.Get(r.Context(), claims.Subject, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "dataset_not_found", "dataset not found")
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		datasetView
		Pairs []model.Pair `json:"pairs"`
	}{viewOf(d), d.Pairs})
}

// ===== Tokens =====

func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	balance, err := s.tokenUC.Balance(r.Context(), claims.Subject)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Balance string `json:"balance"`
	}{balance.String()})
}

type transactionView struct {
	ID            string     `json:"id"`
	OperationType string     `json:"operation_type"`
	Amount        string     `json:"amount"`
	BalanceAfter  string     `json:"balance_after"`
	Status        string     `json:"status"`
	Description   string     `json:"description,omitempty"`
	ValidUntil    *time.Time `json:"valid_until,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (s *Server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	txns, err := s.tokenUC.Transactions(r.Context(), claims.Subject, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]transactionView, 0, len(txns))
	for _, t := range txns {
		views = append(views, transactionView{
			ID:            t.ID,
			OperationType: string(t.OperationType),
			Amount:        t.Amount.String(),
			BalanceAfter:  t.BalanceAfter.String(),
			Status:        string(t.Status),
			Description:   t.Description,
			ValidUntil:    t.ValidUntil,
			CreatedAt:     t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Data []transactionView `json:"data"`
	}{views})
}

// ===== Admin =====

type rechargeRequest struct {
	Email  string `json:"email"`
	Amount string `json:"amount"`
}

func (s *Server) rechargeHandler(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())

	var req rechargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "validation_error", "amount must be a positive decimal")
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email is required")
		return
	}

	balance, err := s.tokenUC.Recharge(r.Context(), claims.Subject, req.Email, amount)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account_not_found", "target account not found")
			return
		}
		s.log.Error().Err(err).Str("admin_id", claims.Subject).Msg("recharge failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Balance string `json:"balance"`
	}{balance.String()})
}

// ===== Health =====

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	engine := "ok"
	status := http.StatusOK
	if err := s.engine.Healthy(ctx); err != nil {
		engine = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Status string `json:"status"`
		Engine string `json:"engine"`
	}{"ok", engine})
}
