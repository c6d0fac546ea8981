package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"inpaint-backend/internal/config"
	"inpaint-backend/internal/domain"
	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/domain/ports/adapter"
)

// HTTPBlackBox talks to the external inpainting engine over its JSON API.
// The engine is opaque: one POST per dataset, no intermediate progress,
// and a response that either carries output paths or an error string.
type HTTPBlackBox struct {
	baseURL string
	client  *http.Client
	log     *zerolog.Logger
}

var _ adapter.InferenceAdapter = (*HTTPBlackBox)(nil)

func NewHTTPBlackBox(cfg config.InferenceConfig, logger *zerolog.Logger) *HTTPBlackBox {
	bbLog := logger.With().Str("component", "HTTPBlackBox").Logger()
	return &HTTPBlackBox{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     &bbLog,
	}
}

type processRequest struct {
	UserID string             `json:"userId"`
	Data   processRequestData `json:"data"`
}

type processRequestData struct {
	Pairs []model.Pair `json:"pairs"`
}

type processResponse struct {
	Success bool                   `json:"success"`
	Images  []model.ProcessedImage `json:"images"`
	Videos  []model.ProcessedVideo `json:"videos"`
	Error   string                 `json:"error"`
}

func (b *HTTPBlackBox) Process(ctx context.Context, userID string, ds *model.Dataset, params model.JobParams) (*model.InferenceResult, error) {
	if ds == nil || len(ds.Pairs) == 0 {
		return nil, domain.ErrEmptyDataset
	}

	payload, err := json.Marshal(processRequest{
		UserID: userID,
		Data:   processRequestData{Pairs: ds.Pairs},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal process request: %w", err)
	}

	url := b.baseURL + "/process-dataset"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference engine returned status %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var out processResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal engine response: %w, body: %s", err, truncate(body, 512))
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "engine reported failure without detail"
		}
		return nil, fmt.Errorf("inference engine error: %s", msg)
	}

	b.log.Debug().
		Str("dataset_id", ds.ID).
		Int("pairs", len(ds.Pairs)).
		Int("images", len(out.Images)).
		Int("videos", len(out.Videos)).
		Dur("took", time.Since(started)).
		Msg("dataset processed")

	return &model.InferenceResult{Images: out.Images, Videos: out.Videos}, nil
}

func (b *HTTPBlackBox) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("inference engine unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference engine unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
