package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-beauty/models"
)

// Specification labels mapped onto ProductRecord fields.
const (
	LabelVolume   = "Dung Tích"
	LabelMadeFrom = "Nơi sản xuất"
	LabelSkinType = "Loại da"
)

// IsCombo reports whether a listing name denotes a bundle of products.
func IsCombo(name string) bool {
	return strings.Contains(strings.ToLower(name), "combo")
}

// Assemble combines listing metadata and extracted detail fields into a new
// ProductRecord. It returns an error instead of a partial record.
func Assemble(meta models.ListingMeta, detail Detail) (*models.ProductRecord, error) {
	if strings.TrimSpace(meta.ProductID) == "" {
		return nil, fmt.Errorf("listing meta missing product id")
	}

	images := make([]string, len(detail.Gallery))
	copy(images, detail.Gallery)

	record := &models.ProductRecord{
		URL:            strings.TrimSpace(detail.URL),
		Name:           meta.Name,
		Brand:          meta.Brand,
		Price:          meta.Price,
		Category:       detail.Category,
		Rating:         detail.Rating,
		IngredientRaw:  detail.IngredientRaw,
		UsageTip:       detail.UsageTip,
		DescriptionRaw: detail.DescriptionRaw,
		Volume:         detail.Specs[LabelVolume],
		MadeFrom:       detail.Specs[LabelMadeFrom],
		SkinType:       detail.Specs[LabelSkinType],
		Images:         images,
	}
	if err := ValidateProduct(record); err != nil {
		return nil, fmt.Errorf("product %s: %w", meta.ProductID, err)
	}
	return record, nil
}

// ValidateProduct ensures the record carries the fields needed to persist it.
// Only the url is required; a blank name is stored as is.
func ValidateProduct(p *models.ProductRecord) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("product missing url")
	}
	return nil
}
