package parser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-beauty/models"
)

func TestValidateProduct(t *testing.T) {
	tests := []struct {
		name    string
		product *models.ProductRecord
		wantErr bool
	}{
		{
			name:    "valid product",
			product: &models.ProductRecord{URL: "https://site/p/1", Name: "Toner X"},
			wantErr: false,
		},
		{
			name:    "nil product",
			product: nil,
			wantErr: true,
		},
		{
			name:    "missing url",
			product: &models.ProductRecord{Name: "Toner X"},
			wantErr: true,
		},
		{
			name:    "blank url",
			product: &models.ProductRecord{URL: "   ", Name: "Toner X"},
			wantErr: true,
		},
		{
			name:    "blank name is kept",
			product: &models.ProductRecord{URL: "https://site/p/1"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProduct(tt.product)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIsCombo(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{input: "Combo 2 Toner", expected: true},
		{input: "Sữa rửa mặt COMBO tiết kiệm", expected: true},
		{input: "Toner X combo", expected: true},
		{input: "Toner X", expected: false},
		{input: "", expected: false},
		{input: "Com bo", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsCombo(tt.input))
		})
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "only whitespace", input: " \n\t ", expected: ""},
		{name: "plain text", input: "  Apply twice daily  ", expected: "Apply twice daily"},
		{name: "paragraphs", input: "<p>Water,</p>\n\n\n<p>Glycerin</p>", expected: "Water, Glycerin"},
		{name: "nbsp entity", input: "<div>Aqua&nbsp;&nbsp;Niacinamide</div>", expected: "Aqua Niacinamide"},
		{name: "nested markup", input: "<ul><li><b>Step 1</b>: cleanse</li>\n<li>Step 2: tone</li></ul>", expected: "Step 1: cleanse Step 2: tone"},
		{name: "newlines inside text", input: "line one\nline two\r\n\r\nline three", expected: "line one line two line three"},
		{name: "script dropped", input: "<p>Soft &amp; more</p><script>track()</script>", expected: "Soft & more"},
		{name: "style dropped", input: "<style>p{color:red}</style><p>Calm skin</p>", expected: "Calm skin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeText(tt.input))
		})
	}
}

func TestParseListing(t *testing.T) {
	body := []byte(`{"data":{"products":[
		{"id":1,"name":"Toner X","brand":{"name":"B"},"price":100},
		{"id":"2","name":"Serum Y","brand":"Plain","price":"250.5"},
		{"id":3,"name":"No Brand","brand":null},
		"garbage"
	]}}`)

	entries, err := ParseListing(body)
	require.NoError(t, err)

	assert.Equal(t, []ListingEntry{
		{ID: "1", Name: "Toner X", Brand: "B", Price: 100},
		{ID: "2", Name: "Serum Y", Brand: "Plain", Price: 250.5},
		{ID: "3", Name: "No Brand", Brand: "", Price: 0},
	}, entries)
}

func TestParseListingEmptyAndInvalid(t *testing.T) {
	for _, body := range []string{`{}`, `{"data":null}`, `{"data":{"products":[]}}`} {
		entries, err := ParseListing([]byte(body))
		require.NoError(t, err, body)
		assert.Empty(t, entries, body)
	}

	_, err := ParseListing([]byte(`<html>blocked</html>`))
	assert.ErrorIs(t, err, ErrInvalidListing)
}

func TestParseDetail(t *testing.T) {
	blocks, err := ParseDetail([]byte(`{"data":{"blocks":[{"common_data":{}},{"guide_data":{}}]}}`))
	require.NoError(t, err)
	assert.Len(t, blocks, 2)

	blocks, err = ParseDetail([]byte(`{"data":{"blocks":{}}}`))
	require.NoError(t, err)
	assert.Empty(t, blocks)

	_, err = ParseDetail([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidDetail)
}

func mustBlocks(t *testing.T, raw string) []json.RawMessage {
	t.Helper()
	var blocks []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &blocks))
	return blocks
}

func TestExtractDetailFullPayload(t *testing.T) {
	blocks := mustBlocks(t, `[
		{"common_data":{"category_name":"Toner","rating":{"average":4.5},"url":"https://site/p/1",
			"gallery":[{"image":"img1.jpg"},{"image":""},{"image":"img2.jpg"}]}},
		{"ingredient_data":{"info":{"full":"<p>Water,&nbsp;Glycerin</p>"}}},
		{"guide_data":{"info":{"full":"<ol><li>Cleanse</li>\n<li>Apply</li></ol>"}}},
		{"specification_data":{"infos":[
			{"label":"Dung Tích","value":"150ml"},
			{"label":"Nơi sản xuất","value":"Korea"},
			{"label":"Loại da","value":"Oily"},
			{"label":"Dung Tích","value":"200ml"},
			{"value":"orphan"}
		]}},
		{"description_data":{"info":{"full":"<div>Gentle\n\ntoner</div>"}}},
		{"unknown_data":{"info":{"full":"ignored"}}}
	]`)

	detail := ExtractDetail(blocks)

	assert.Equal(t, "Toner", detail.Category)
	assert.Equal(t, 4.5, detail.Rating)
	assert.Equal(t, "https://site/p/1", detail.URL)
	assert.Equal(t, []string{"img1.jpg", "img2.jpg"}, detail.Gallery)
	assert.Equal(t, "Water, Glycerin", detail.IngredientRaw)
	assert.Equal(t, "Cleanse Apply", detail.UsageTip)
	assert.Equal(t, "Gentle toner", detail.DescriptionRaw)
	assert.Equal(t, "200ml", detail.Specs[LabelVolume], "last occurrence of a label wins")
	assert.Len(t, detail.Specs, 3)
}

func TestExtractDetailSparseBlocks(t *testing.T) {
	blocks := mustBlocks(t, `[
		{"common_data":{"category_name":"Toner","url":"https://site/p/1"}},
		{"guide_data":{"info":{"full":"Shake well"}}}
	]`)

	record, err := Assemble(models.ListingMeta{ProductID: "1", Name: "Toner X"}, ExtractDetail(blocks))
	require.NoError(t, err)

	assert.Empty(t, record.IngredientRaw)
	assert.Empty(t, record.Volume)
	assert.Empty(t, record.MadeFrom)
	assert.Empty(t, record.SkinType)
	assert.Zero(t, record.Rating)
	assert.Equal(t, "Shake well", record.UsageTip)
}

func TestExtractDetailToleratesMalformedBlocks(t *testing.T) {
	blocks := mustBlocks(t, `[
		"not an object",
		{"common_data":"oops"},
		{"common_data":{"url":"https://site/p/9","rating":"4.0","gallery":{"image":"x"}}},
		{"ingredient_data":null},
		{"specification_data":{"infos":"nope"}},
		{"description_data":{"info":["a"]}}
	]`)

	detail := ExtractDetail(blocks)

	assert.Equal(t, "https://site/p/9", detail.URL)
	assert.Equal(t, 4.0, detail.Rating, "rating decoded from string")
	assert.Empty(t, detail.Gallery)
	assert.Empty(t, detail.Specs)
	assert.Empty(t, detail.DescriptionRaw)
	assert.Empty(t, detail.IngredientRaw)
}

func TestExtractDetailLastBlockOfKindWins(t *testing.T) {
	blocks := mustBlocks(t, `[
		{"specification_data":{"infos":[{"label":"Loại da","value":"Dry"},{"label":"Dung Tích","value":"50ml"}]}},
		{"specification_data":{"infos":[{"label":"Loại da","value":"All"}]}},
		{"common_data":{"url":"https://site/p/1","category_name":"A"}},
		{"common_data":{"url":"https://site/p/2","category_name":"B"}}
	]`)

	detail := ExtractDetail(blocks)

	assert.Equal(t, "https://site/p/2", detail.URL)
	assert.Equal(t, "B", detail.Category)
	assert.Equal(t, map[string]string{LabelSkinType: "All"}, detail.Specs)
}

func TestAssembleEndToEndExample(t *testing.T) {
	blocks := mustBlocks(t, `[{"common_data":{"category_name":"Toner","rating":{"average":4.5},"url":"https://site/p/1","gallery":[{"image":"img1.jpg"}]}}]`)
	meta := models.ListingMeta{Name: "Toner X", Brand: "B", Price: 100, ProductID: "1", CategorySlug: "toner-c1857"}

	record, err := Assemble(meta, ExtractDetail(blocks))
	require.NoError(t, err)

	assert.Equal(t, &models.ProductRecord{
		URL:      "https://site/p/1",
		Name:     "Toner X",
		Brand:    "B",
		Price:    100,
		Category: "Toner",
		Rating:   4.5,
		Images:   []string{"img1.jpg"},
	}, record)
}

func TestAssembleDropsIncompleteRecords(t *testing.T) {
	tests := []struct {
		name   string
		meta   models.ListingMeta
		detail Detail
	}{
		{name: "missing product id", meta: models.ListingMeta{Name: "Toner X"}, detail: Detail{URL: "https://site/p/1"}},
		{name: "missing url", meta: models.ListingMeta{ProductID: "1", Name: "Toner X"}, detail: Detail{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := Assemble(tt.meta, tt.detail)
			assert.Error(t, err)
			assert.Nil(t, record, "no partial record")
		})
	}
}

func TestAssembleKeepsBlankName(t *testing.T) {
	record, err := Assemble(models.ListingMeta{ProductID: "1", Brand: "B"}, Detail{URL: "https://site/p/1"})
	require.NoError(t, err)
	assert.Empty(t, record.Name)
	assert.Equal(t, "https://site/p/1", record.URL)
}

func TestAssembleDoesNotShareGallery(t *testing.T) {
	detail := Detail{URL: "https://site/p/1", Gallery: []string{"a.jpg"}}
	record, err := Assemble(models.ListingMeta{ProductID: "1", Name: "X"}, detail)
	require.NoError(t, err)

	detail.Gallery[0] = "mutated.jpg"
	assert.Equal(t, "a.jpg", record.Images[0], "record images must not alias the detail gallery")
}
