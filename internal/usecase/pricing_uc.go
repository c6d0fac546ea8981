package usecase

import (
	"github.com/shopspring/decimal"

	"inpaint-backend/internal/domain/model"
)

// Token rates are business constants, not configuration.
var (
	rateImageDataset   = decimal.RequireFromString("0.65")
	rateFrameDataset   = decimal.RequireFromString("0.40")
	rateZipDataset     = decimal.RequireFromString("0.70")
	rateImageInference = decimal.RequireFromString("2.75")
	rateFrameInference = decimal.RequireFromString("1.50")
)

// CostCalculator prices dataset uploads and inference requests from
// structural counts. Pure and deterministic; results are rounded to two
// decimal places, half-up on the cent.
type CostCalculator interface {
	DatasetUploadCost(imageCount int, videoFrameCounts []int, isZip bool) model.CostBreakdown
	InferenceCost(ds *model.Dataset) model.CostBreakdown
}

var _ CostCalculator = (*costCalculator)(nil)

type costCalculator struct{}

func NewCostCalculator() CostCalculator { return &costCalculator{} }

// DatasetUploadCost prices an upload. Zip uploads bill per contained item
// (image or video) at the zip rate; frame counts inside zipped videos are
// reported but not priced individually. Plain uploads bill per image and
// per extracted frame.
func (c *costCalculator) DatasetUploadCost(imageCount int, videoFrameCounts []int, isZip bool) model.CostBreakdown {
	totalFrames := 0
	for _, n := range videoFrameCounts {
		totalFrames += n
	}

	b := model.CostBreakdown{
		Images: imageCount,
		Videos: len(videoFrameCounts),
		Frames: totalFrames,
	}

	if isZip {
		b.ZipPairs = imageCount + len(videoFrameCounts)
		b.Total = decimal.NewFromInt(int64(b.ZipPairs)).Mul(rateZipDataset).Round(2)
		return b
	}

	b.ImageCost = decimal.NewFromInt(int64(imageCount)).Mul(rateImageDataset).Round(2)
	b.FrameCost = decimal.NewFromInt(int64(totalFrames)).Mul(rateFrameDataset).Round(2)
	b.Total = b.ImageCost.Add(b.FrameCost).Round(2)
	return b
}

// InferenceCost prices an inference request over a dataset's pairs.
// Pairs sharing an uploadIndex form a group: a singleton group is one
// image, a larger group is a video billed per frame. Untagged pairs fall
// back to the dataset-level type. An empty pair list prices to zero; the
// caller treats that as an invalid dataset, not as an error here.
func (c *costCalculator) InferenceCost(ds *model.Dataset) model.CostBreakdown {
	var b model.CostBreakdown
	if ds == nil || len(ds.Pairs) == 0 {
		b.Total = decimal.Zero
		return b
	}

	groups := make(map[int]int)
	untagged := 0
	for _, p := range ds.Pairs {
		if p.UploadIndex != nil {
			groups[*p.UploadIndex]++
		} else {
			untagged++
		}
	}

	images := 0
	frames := 0
	for _, size := range groups {
		if size == 1 {
			images++
		} else {
			b.Videos++
			frames += size
		}
	}

	if untagged > 0 {
		if ds.Type == model.DatasetTypeVideoFrames {
			frames += untagged
		} else {
			images += untagged
		}
	}

	b.Images = images
	b.Frames = frames
	b.ImageCost = decimal.NewFromInt(int64(images)).Mul(rateImageInference).Round(2)
	b.FrameCost = decimal.NewFromInt(int64(frames)).Mul(rateFrameInference).Round(2)
	b.Total = b.ImageCost.Add(b.FrameCost).Round(2)
	return b
}
