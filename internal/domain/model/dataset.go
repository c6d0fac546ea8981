package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"inpaint-backend/internal/domain"
)

const DatasetTypeVideoFrames = "video-frames"

// Pair is one image/mask pair in a dataset. UploadIndex groups frames
// extracted from the same source video; FrameIndex orders them.
type Pair struct {
	ImagePath   string `json:"imagePath"`
	MaskPath    string `json:"maskPath"`
	UploadIndex *int   `json:"uploadIndex,omitempty"`
	FrameIndex  *int   `json:"frameIndex,omitempty"`
}

// Dataset is the structural metadata of an uploaded dataset. The files
// themselves live with the storage collaborator; pricing and inference
// only need the pair structure.
type Dataset struct {
	ID        string
	OwnerID   string
	Name      string
	Type      string
	IsZip     bool
	Pairs     []Pair
	CreatedAt time.Time
}

func NewDataset(ownerID, name, dsType string, isZip bool, pairs []Pair) (*Dataset, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Dataset{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Type:      dsType,
		IsZip:     isZip,
		Pairs:     pairs,
		CreatedAt: time.Now(),
	}, nil
}
