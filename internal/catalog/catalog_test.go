package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jogardn/laundry-orders/pkg/models"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	assert.Len(t, c.All(), 9)

	shirt, err := c.Get("3")
	require.NoError(t, err)
	assert.Equal(t, "Shirt / T-Shirt", shirt.Name)
	assert.True(t, shirt.Price.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, models.UnitPiece, shirt.Unit)

	_, err = c.Get("42")
	assert.ErrorIs(t, err, ErrUnknownItem)

	assert.Len(t, c.ByCategory(models.CategoryDryClean), 4)
	assert.Equal(t, models.ServiceCategories, c.Categories())
}

func TestAllReturnsCopy(t *testing.T) {
	c := Default()
	items := c.All()
	items[0].Name = "changed"

	first, err := c.Get(items[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", first.Name)
}

func TestParse(t *testing.T) {
	data := []byte(`
items:
  - id: wf
    name: Wash & Fold
    category: Wash & Fold
    price: "55.50"
    unit: kg
  - id: ir
    name: Ironing
    category: Iron Only
    price: "12"
    unit: pc
`)
	c, err := Parse(data)
	require.NoError(t, err)

	wf, err := c.Get("wf")
	require.NoError(t, err)
	assert.True(t, wf.Price.Equal(decimal.RequireFromString("55.5")))
	assert.Equal(t, []models.ServiceCategory{models.CategoryWashFold, models.CategoryIronOnly}, c.Categories())
}

func TestParseRejectsInvalidItems(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `items: []`},
		{"bad_category", "items:\n  - {id: a, name: A, category: Bleach, price: \"1\", unit: kg}"},
		{"bad_unit", "items:\n  - {id: a, name: A, category: Dry Clean, price: \"1\", unit: lb}"},
		{"zero_price", "items:\n  - {id: a, name: A, category: Dry Clean, price: \"0\", unit: pc}"},
		{"bad_price", "items:\n  - {id: a, name: A, category: Dry Clean, price: cheap, unit: pc}"},
		{"duplicate_id", "items:\n  - {id: a, name: A, category: Dry Clean, price: \"1\", unit: pc}\n  - {id: a, name: B, category: Dry Clean, price: \"2\", unit: pc}"},
		{"not_yaml", "items: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
