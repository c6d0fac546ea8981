//go:build !integration

package usecase_test

import (
	"testing"

	"inpaint-backend/internal/domain/model"
	"inpaint-backend/internal/usecase"
)

func intp(i int) *int { return &i }

func TestDatasetUploadCost(t *testing.T) {
	calc := usecase.NewCostCalculator()

	t.Run("images and frames are priced separately", func(t *testing.T) {
		b := calc.DatasetUploadCost(3, []int{10, 5}, false)
		if got, want := b.ImageCost.String(), "1.95"; got != want {
			t.Fatalf("image cost: want %s, got %s", want, got)
		}
		if got, want := b.FrameCost.String(), "6"; got != want {
			t.Fatalf("frame cost: want %s, got %s", want, got)
		}
		if got, want := b.Total.String(), "7.95"; got != want {
			t.Fatalf("total: want %s, got %s", want, got)
		}
		if b.Images != 3 || b.Videos != 2 || b.Frames != 15 {
			t.Fatalf("counts: %+v", b)
		}
	})

	t.Run("zip bills per contained item, not per frame", func(t *testing.T) {
		b := calc.DatasetUploadCost(3, []int{200}, true)
		if b.ZipPairs != 4 {
			t.Fatalf("zip pairs: want 4, got %d", b.ZipPairs)
		}
		if got, want := b.Total.String(), "2.8"; got != want {
			t.Fatalf("total: want %s, got %s", want, got)
		}
	})

	t.Run("empty upload is free", func(t *testing.T) {
		b := calc.DatasetUploadCost(0, nil, false)
		if !b.IsFree() {
			t.Fatalf("want free, got total %s", b.Total)
		}
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		a := calc.DatasetUploadCost(7, []int{3, 3, 3}, false)
		b := calc.DatasetUploadCost(7, []int{3, 3, 3}, false)
		if !a.Total.Equal(b.Total) {
			t.Fatalf("totals differ: %s vs %s", a.Total, b.Total)
		}
	})
}

func TestInferenceCost(t *testing.T) {
	calc := usecase.NewCostCalculator()

	t.Run("mixed image and video groups", func(t *testing.T) {
		// One standalone image plus a two-frame video:
		// 1 x 2.75 + 2 x 1.50 = 5.75
		ds := &model.Dataset{Pairs: []model.Pair{
			{ImagePath: "a.png", MaskPath: "a_m.png", UploadIndex: intp(0)},
			{ImagePath: "f1.png", MaskPath: "f1_m.png", UploadIndex: intp(1)},
			{ImagePath: "f2.png", MaskPath: "f2_m.png", UploadIndex: intp(1)},
		}}
		b := calc.InferenceCost(ds)
		if got, want := b.Total.String(), "5.75"; got != want {
			t.Fatalf("total: want %s, got %s", want, got)
		}
		if b.Images != 1 || b.Videos != 1 || b.Frames != 2 {
			t.Fatalf("counts: %+v", b)
		}
	})

	t.Run("untagged pairs follow the dataset type", func(t *testing.T) {
		pairs := []model.Pair{
			{ImagePath: "x.png", MaskPath: "x_m.png"},
			{ImagePath: "y.png", MaskPath: "y_m.png"},
		}

		asFrames := calc.InferenceCost(&model.Dataset{Type: model.DatasetTypeVideoFrames, Pairs: pairs})
		if got, want := asFrames.Total.String(), "3"; got != want {
			t.Fatalf("frame pricing: want %s, got %s", want, got)
		}

		asImages := calc.InferenceCost(&model.Dataset{Type: "images", Pairs: pairs})
		if got, want := asImages.Total.String(), "5.5"; got != want {
			t.Fatalf("image pricing: want %s, got %s", want, got)
		}
	})

	t.Run("empty dataset prices to zero", func(t *testing.T) {
		b := calc.InferenceCost(&model.Dataset{})
		if !b.Total.IsZero() {
			t.Fatalf("want zero, got %s", b.Total)
		}
		if b = calc.InferenceCost(nil); !b.Total.IsZero() {
			t.Fatalf("nil dataset: want zero, got %s", b.Total)
		}
	})
}
