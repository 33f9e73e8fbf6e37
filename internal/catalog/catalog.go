package catalog

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/jogardn/laundry-orders/pkg/models"
)

var ErrUnknownItem = errors.New("unknown pricing item")

// Catalog is the static price list. It is safe for concurrent reads.
type Catalog struct {
	items []models.PricingItem
	byID  map[string]models.PricingItem
}

func New(items []models.PricingItem) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]models.PricingItem, len(items))}
	for _, item := range items {
		if err := validate(item); err != nil {
			return nil, err
		}
		if _, dup := c.byID[item.ID]; dup {
			return nil, fmt.Errorf("duplicate pricing item id %q", item.ID)
		}
		c.byID[item.ID] = item
		c.items = append(c.items, item)
	}
	if len(c.items) == 0 {
		return nil, errors.New("catalog has no items")
	}
	return c, nil
}

func validate(item models.PricingItem) error {
	switch {
	case item.ID == "":
		return errors.New("pricing item without id")
	case item.Name == "":
		return fmt.Errorf("pricing item %s: empty name", item.ID)
	case !item.Category.Valid():
		return fmt.Errorf("pricing item %s: unknown category %q", item.ID, item.Category)
	case !item.Unit.Valid():
		return fmt.Errorf("pricing item %s: unknown unit %q", item.ID, item.Unit)
	case !item.Price.IsPositive():
		return fmt.Errorf("pricing item %s: price must be positive", item.ID)
	}
	return nil
}

// Default returns the shop's standard price list.
func Default() *Catalog {
	c, err := New(defaultItems())
	if err != nil {
		panic(err)
	}
	return c
}

func defaultItems() []models.PricingItem {
	item := func(id, name string, category models.ServiceCategory, price int64, unit models.Unit) models.PricingItem {
		return models.PricingItem{ID: id, Name: name, Category: category, Price: decimal.NewFromInt(price), Unit: unit}
	}
	return []models.PricingItem{
		item("1", "Regular Laundry (Kg)", models.CategoryWashFold, 60, models.UnitKilogram),
		item("2", "Premium Wash & Iron (Kg)", models.CategoryWashIron, 90, models.UnitKilogram),
		item("3", "Shirt / T-Shirt", models.CategoryWashIron, 25, models.UnitPiece),
		item("4", "Trousers / Jeans", models.CategoryWashIron, 30, models.UnitPiece),
		item("5", "Saree (Cotton)", models.CategoryDryClean, 150, models.UnitPiece),
		item("6", "Saree (Silk)", models.CategoryDryClean, 250, models.UnitPiece),
		item("7", "Blazer / Coat", models.CategoryDryClean, 300, models.UnitPiece),
		item("8", "Blanket (Single)", models.CategoryDryClean, 200, models.UnitPiece),
		item("9", "Steam Iron Only", models.CategoryIronOnly, 15, models.UnitPiece),
	}
}

type fileItem struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Price    string `yaml:"price"`
	Unit     string `yaml:"unit"`
}

type file struct {
	Items []fileItem `yaml:"items"`
}

// Parse reads a YAML price list. Any invalid entry rejects the whole file.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	items := make([]models.PricingItem, 0, len(f.Items))
	for _, fi := range f.Items {
		price, err := decimal.NewFromString(fi.Price)
		if err != nil {
			return nil, fmt.Errorf("pricing item %s: invalid price %q: %w", fi.ID, fi.Price, err)
		}
		items = append(items, models.PricingItem{
			ID:       fi.ID,
			Name:     fi.Name,
			Category: models.ServiceCategory(fi.Category),
			Price:    price,
			Unit:     models.Unit(fi.Unit),
		})
	}
	return New(items)
}

func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

func (c *Catalog) All() []models.PricingItem {
	out := make([]models.PricingItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Catalog) Get(id string) (models.PricingItem, error) {
	item, ok := c.byID[id]
	if !ok {
		return models.PricingItem{}, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return item, nil
}

func (c *Catalog) ByCategory(category models.ServiceCategory) []models.PricingItem {
	var out []models.PricingItem
	for _, item := range c.items {
		if item.Category == category {
			out = append(out, item)
		}
	}
	return out
}

// Categories returns the categories that have at least one item, in canonical order.
func (c *Catalog) Categories() []models.ServiceCategory {
	var out []models.ServiceCategory
	for _, category := range models.ServiceCategories {
		if len(c.ByCategory(category)) > 0 {
			out = append(out, category)
		}
	}
	return out
}
