package collections

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"gomarketplace_sync/internal/catalog/models"
	"gomarketplace_sync/internal/catalog/runctx"
	"gomarketplace_sync/internal/platform"
	"gomarketplace_sync/pkg/logger"
)

// Rule defines one grouping. Expr is a CEL expression over item (map of field name to
// text value), price (double), quantity (int) and image_count (int). Match, when set, is
// used instead of Expr.
type Rule struct {
	Name  string
	Expr  string
	Match func(models.Item) bool
}

type grouping struct {
	name  string
	match func(models.Item) (bool, error)
}

// Resolver decides which collections an item belongs to and rewrites a product's
// memberships accordingly.
type Resolver struct {
	client    platform.Client
	groupings []grouping
	log       logger.Logger
}

func NewResolver(rules []Rule, client platform.Client, log logger.Logger) (*Resolver, error) {
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("price", cel.DoubleType),
		cel.Variable("quantity", cel.IntType),
		cel.Variable("image_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	r := &Resolver{client: client, log: log.WithPrefix("[Collections]")}
	seen := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		name := strings.TrimSpace(rule.Name)
		if name == "" {
			return nil, fmt.Errorf("collection rule without name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("collection %q defined twice", name)
		}
		seen[name] = struct{}{}

		if rule.Match != nil {
			match := rule.Match
			r.groupings = append(r.groupings, grouping{name: name, match: func(it models.Item) (bool, error) { return match(it), nil }})
			continue
		}
		prg, err := compile(env, rule.Expr)
		if err != nil {
			return nil, fmt.Errorf("collection %q: %w", name, err)
		}
		r.groupings = append(r.groupings, grouping{name: name, match: func(it models.Item) (bool, error) {
			out, _, err := prg.Eval(activation(it))
			if err != nil {
				return false, err
			}
			b, ok := out.Value().(bool)
			if !ok {
				return false, fmt.Errorf("rule returned %T, want bool", out.Value())
			}
			return b, nil
		}})
	}
	return r, nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return prg, nil
}

func activation(it models.Item) map[string]any {
	fields := make(map[string]string, len(models.Fields))
	for _, f := range models.Fields {
		fields[f.Name] = f.Get(&it)
	}
	price := 0.0
	if it.Price != nil {
		price = it.Price.InexactFloat64()
	}
	return map[string]any{
		"item":        fields,
		"price":       price,
		"quantity":    int64(it.Quantity),
		"image_count": int64(it.ImageCount()),
	}
}

// Names returns the configured grouping names in rule order.
func (r *Resolver) Names() []string {
	names := make([]string, len(r.groupings))
	for i, g := range r.groupings {
		names[i] = g.name
	}
	return names
}

// Groupings returns the names of the groupings item belongs to. A rule that fails to
// evaluate is logged and treated as not matching.
func (r *Resolver) Groupings(it models.Item) []string {
	var out []string
	for _, g := range r.groupings {
		ok, err := g.match(it)
		if err != nil {
			r.log.Error("rule %s failed for %s: %v", g.name, it.SKU, err)
			continue
		}
		if ok {
			out = append(out, g.name)
		}
	}
	return out
}

// Mapping resolves every grouping to a remote collection id, creating missing collections.
// The result is cached on rc until rc.Invalidate.
func (r *Resolver) Mapping(ctx context.Context, rc *runctx.Context) (map[string]string, error) {
	return rc.Collections(func() (map[string]string, error) {
		existing, err := r.client.ListCollections(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list collections: %w", err)
		}
		byTitle := make(map[string]string, len(existing))
		for _, c := range existing {
			byTitle[strings.ToLower(c.Title)] = c.ID
		}
		mapping := make(map[string]string, len(r.groupings))
		for _, g := range r.groupings {
			if id, ok := byTitle[strings.ToLower(g.name)]; ok {
				mapping[g.name] = id
				continue
			}
			created, err := r.client.CreateCollection(ctx, g.name)
			if err != nil {
				return nil, fmt.Errorf("failed to create collection %s: %w", g.name, err)
			}
			r.log.Log("created collection %s (%s)", g.name, created.ID)
			mapping[g.name] = created.ID
		}
		return mapping, nil
	})
}

// Desired translates the item's groupings to remote collection ids.
func (r *Resolver) Desired(ctx context.Context, rc *runctx.Context, it models.Item) ([]string, error) {
	mapping, err := r.Mapping(ctx, rc)
	if err != nil {
		return nil, err
	}
	var ids []string
	seen := make(map[string]struct{})
	for _, name := range r.Groupings(it) {
		id, ok := mapping[name]
		if !ok || id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// Sync replaces the product's memberships: every current one is removed, every desired one
// is added. Memberships are not diffed.
func (r *Resolver) Sync(ctx context.Context, rc *runctx.Context, productID string, it models.Item) ([]string, error) {
	desired, err := r.Desired(ctx, rc, it)
	if err != nil {
		return nil, err
	}
	current, err := r.client.ListMemberships(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships of %s: %w", productID, err)
	}
	for _, m := range current {
		if err := r.client.DeleteMembership(ctx, m.ID); err != nil {
			return nil, fmt.Errorf("failed to remove %s from collection %s: %w", productID, m.CollectionID, err)
		}
	}
	for _, id := range desired {
		if _, err := r.client.AddMembership(ctx, id, productID); err != nil {
			return nil, fmt.Errorf("failed to add %s to collection %s: %w", productID, id, err)
		}
	}
	return desired, nil
}
