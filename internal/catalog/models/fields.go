package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// FieldDescriptor binds an external column name to an Item attribute.
// The table is static so a missing accessor is a compile error, not a runtime lookup failure.
type FieldDescriptor struct {
	Name     string
	Business bool
	Get      func(*Item) string
	Set      func(*Item, string) error
}

// Fields lists every mappable attribute in a stable order.
var Fields = buildFields()

var fieldsByName = func() map[string]FieldDescriptor {
	m := make(map[string]FieldDescriptor, len(Fields))
	for _, f := range Fields {
		m[f.Name] = f
	}
	return m
}()

// Field looks up a descriptor by column name, case-insensitively.
func Field(name string) (FieldDescriptor, bool) {
	f, ok := fieldsByName[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

func buildFields() []FieldDescriptor {
	fields := []FieldDescriptor{
		text("sku", false, func(i *Item) *string { return &i.SKU }),
		text("title", true, func(i *Item) *string { return &i.Title }),
		text("description", true, func(i *Item) *string { return &i.Description }),
		text("brand", true, func(i *Item) *string { return &i.Brand }),
		text("model", true, func(i *Item) *string { return &i.Model }),
		text("material", true, func(i *Item) *string { return &i.Material }),
		text("condition", true, func(i *Item) *string { return &i.Condition }),
		text("color", true, func(i *Item) *string { return &i.Color }),
		text("size", true, func(i *Item) *string { return &i.Size }),
		text("dimensions", true, func(i *Item) *string { return &i.Dimensions }),
		text("category", true, func(i *Item) *string { return &i.Category }),
		text("gender", true, func(i *Item) *string { return &i.Gender }),
		text("country", true, func(i *Item) *string { return &i.Country }),
		money("price", true, func(i *Item) **decimal.Decimal { return &i.Price }),
		money("sale_price", true, func(i *Item) **decimal.Decimal { return &i.SalePrice }),
		money("compare_at_price", true, func(i *Item) **decimal.Decimal { return &i.CompareAtPrice }),
		money("wholesale_price", true, func(i *Item) **decimal.Decimal { return &i.WholesalePrice }),
		{
			Name:     "quantity",
			Business: true,
			Get:      func(i *Item) string { return strconv.Itoa(i.Quantity) },
			Set: func(i *Item, v string) error {
				v = strings.TrimSpace(v)
				if v == "" {
					i.Quantity = 0
					return nil
				}
				q, err := strconv.Atoi(v)
				if err != nil {
					return fmt.Errorf("quantity %q: %w", v, err)
				}
				i.Quantity = q
				return nil
			},
		},
		money("cost", false, func(i *Item) **decimal.Decimal { return &i.Cost }),
		text("notes", false, func(i *Item) *string { return &i.Notes }),
	}
	for slot := 0; slot < MaxImages; slot++ {
		fields = append(fields, image(slot))
	}
	return fields
}

func text(name string, business bool, ref func(*Item) *string) FieldDescriptor {
	return FieldDescriptor{
		Name:     name,
		Business: business,
		Get:      func(i *Item) string { return *ref(i) },
		Set: func(i *Item, v string) error {
			*ref(i) = strings.TrimSpace(v)
			return nil
		},
	}
}

func money(name string, business bool, ref func(*Item) **decimal.Decimal) FieldDescriptor {
	return FieldDescriptor{
		Name:     name,
		Business: business,
		Get: func(i *Item) string {
			d := *ref(i)
			if d == nil {
				return ""
			}
			return d.String()
		},
		Set: func(i *Item, v string) error {
			v = strings.ReplaceAll(strings.TrimSpace(v), ",", ".")
			if v == "" {
				*ref(i) = nil
				return nil
			}
			d, err := decimal.NewFromString(v)
			if err != nil {
				return fmt.Errorf("%s %q: %w", name, v, err)
			}
			*ref(i) = &d
			return nil
		},
	}
}

func image(slot int) FieldDescriptor {
	return FieldDescriptor{
		Name:     fmt.Sprintf("image_%d", slot+1),
		Business: true,
		Get: func(i *Item) string {
			if slot < len(i.Images) {
				return i.Images[slot]
			}
			return ""
		},
		Set: func(i *Item, v string) error {
			v = strings.TrimSpace(v)
			if v == "" && slot >= len(i.Images) {
				return nil
			}
			for len(i.Images) <= slot {
				i.Images = append(i.Images, "")
			}
			i.Images[slot] = v
			return nil
		},
	}
}

// CompactImages drops empty slots while keeping the order of the rest.
func (i *Item) CompactImages() {
	if len(i.Images) == 0 {
		return
	}
	out := i.Images[:0]
	for _, img := range i.Images {
		if img != "" {
			out = append(out, img)
		}
	}
	if len(out) == 0 {
		i.Images = nil
		return
	}
	i.Images = out
}
