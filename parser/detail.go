package parser

import (
	"encoding/json"
)

// Block keys recognized in a detail payload.
const (
	BlockCommon        = "common_data"
	BlockIngredient    = "ingredient_data"
	BlockGuide         = "guide_data"
	BlockSpecification = "specification_data"
	BlockDescription   = "description_data"
)

// Detail holds the fields contributed by the blocks of one detail payload.
type Detail struct {
	Category       string
	Rating         float64
	URL            string
	Gallery        []string
	IngredientRaw  string
	UsageTip       string
	DescriptionRaw string
	Specs          map[string]string
}

// ExtractDetail folds the recognized blocks into a Detail. Every block is an
// optional contribution: unknown or malformed blocks add nothing and the
// affected fields keep their zero values. When a kind appears more than once
// the last block of that kind wins.
func ExtractDetail(blocks []json.RawMessage) Detail {
	detail := Detail{Specs: map[string]string{}}

	for _, raw := range blocks {
		block, ok := asObject(raw)
		if !ok {
			continue
		}

		if common, ok := asObject(block[BlockCommon]); ok {
			detail.Category = asString(common["category_name"])
			detail.Rating = asFloat(path(common, "rating", "average"))
			detail.URL = asString(common["url"])
			detail.Gallery = galleryImages(common["gallery"])
		}
		if data, ok := asObject(block[BlockIngredient]); ok {
			detail.IngredientRaw = NormalizeText(asString(path(data, "info", "full")))
		}
		if data, ok := asObject(block[BlockGuide]); ok {
			detail.UsageTip = NormalizeText(asString(path(data, "info", "full")))
		}
		if data, ok := asObject(block[BlockSpecification]); ok {
			detail.Specs = specifications(data["infos"])
		}
		if data, ok := asObject(block[BlockDescription]); ok {
			detail.DescriptionRaw = NormalizeText(asString(path(data, "info", "full")))
		}
	}

	return detail
}

func galleryImages(raw json.RawMessage) []string {
	items := asArray(raw)
	images := make([]string, 0, len(items))
	for _, item := range items {
		entry, ok := asObject(item)
		if !ok {
			continue
		}
		if image := asString(entry["image"]); image != "" {
			images = append(images, image)
		}
	}
	return images
}

// specifications flattens [{label, value}, ...] into a label→value map.
// Later labels overwrite earlier ones; entries without a label are ignored.
func specifications(raw json.RawMessage) map[string]string {
	specs := map[string]string{}
	for _, item := range asArray(raw) {
		entry, ok := asObject(item)
		if !ok {
			continue
		}
		label := asString(entry["label"])
		if label == "" {
			continue
		}
		specs[label] = asString(entry["value"])
	}
	return specs
}
