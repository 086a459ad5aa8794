package view

import (
	"context"
	"errors"
	"strings"

	"shopfloor/api/internal/backend"
	"shopfloor/api/internal/optimistic"
)

type Product struct {
	ID             string
	Model          string
	Description    string
	ReleaseDate    string
	Specifications map[string]string
	CreatedAt      string
}

// ProductInput is a create (ID empty) or an update.
type ProductInput struct {
	ID             string
	Model          string
	Description    string
	ReleaseDate    string
	Specifications map[string]string
}

var ErrModelRequired = errors.New("model name is required")

func decodeProduct(rec backend.Record) Product {
	p := Product{
		ID:          rec.ID(),
		Model:       rec.String("model"),
		Description: rec.String("description"),
		ReleaseDate: rec.String("release_date"),
		CreatedAt:   rec.String("created_at"),
	}
	if specs, ok := rec["specifications"].(map[string]any); ok {
		p.Specifications = make(map[string]string, len(specs))
		for k := range specs {
			p.Specifications[k] = backend.Record(specs).String(k)
		}
	}
	return p
}

func (in ProductInput) record() backend.Record {
	rec := backend.Record{
		"model":       strings.TrimSpace(in.Model),
		"description": strings.TrimSpace(in.Description),
	}
	if in.ReleaseDate != "" {
		rec["release_date"] = in.ReleaseDate
	} else {
		rec["release_date"] = nil
	}
	specs := make(map[string]any, len(in.Specifications))
	for k, v := range in.Specifications {
		specs[k] = v
	}
	rec["specifications"] = specs
	return rec
}

// Products is the product list, newest first.
type Products struct {
	*Table[Product]
}

func NewProducts(deps Deps) *Products {
	return &Products{Table: NewTable(deps, TableOptions[Product]{
		Table:          backend.TableProducts,
		Query:          backend.Query{Order: []backend.Order{backend.Desc("created_at")}},
		Decode:         decodeProduct,
		ID:             func(p Product) string { return p.ID },
		FailureMessage: "Failed to load products",
	})}
}

// Save creates the product when in.ID is empty and updates it otherwise.
func (p *Products) Save(ctx context.Context, in ProductInput) bool {
	action := "product changes"
	if strings.TrimSpace(in.Model) == "" {
		if p.deps.Gate.CheckRestriction(p.deps.Tiers.Tier(), action) {
			return false
		}
		p.deps.Sink.Error("Please enter a model name")
		return false
	}
	data := p.deps.Data
	if in.ID == "" {
		return p.coord.Perform(ctx, action, func(ctx context.Context) error {
			_, err := data.Insert(ctx, backend.TableProducts, in.record())
			return err
		}, "Product created successfully", "Error while saving")
	}
	return p.coord.Mutate(ctx, optimistic.Mutation[Product]{
		ResourceID: in.ID,
		Action:     action,
		Patch: func(cur Product) Product {
			cur.Model = strings.TrimSpace(in.Model)
			cur.Description = strings.TrimSpace(in.Description)
			cur.ReleaseDate = in.ReleaseDate
			cur.Specifications = in.Specifications
			return cur
		},
		Commit: func(ctx context.Context) error {
			_, err := data.Update(ctx, backend.TableProducts, in.ID, in.record())
			return err
		},
		SuccessMessage: "Product updated successfully",
		FailurePrefix:  "Error while saving",
	})
}

func (p *Products) Delete(ctx context.Context, id string) bool {
	data := p.deps.Data
	return p.coord.Perform(ctx, "deleting products", func(ctx context.Context) error {
		return data.Delete(ctx, backend.TableProducts, id)
	}, "Product deleted successfully", "Error while deleting")
}
