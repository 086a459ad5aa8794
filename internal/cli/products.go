package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"shopfloor/api/internal/view"
)

func NewProductsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "products",
		Aliases: []string{"product"},
		Short:   "List, create, edit and delete products",
	}
	cmd.AddCommand(newProductsListCommand(opts))
	cmd.AddCommand(newProductsSaveCommand(opts))
	cmd.AddCommand(newProductsDeleteCommand(opts))
	return cmd
}

// mountProducts runs fn with a mounted product view.
func mountProducts(cmd *cobra.Command, rt *runtime, fn func(*view.Products) error) error {
	products := view.NewProducts(rt.deps)
	if err := products.Mount(cmd.Context()); err != nil {
		return WrapExitError(ExitFailure, "load products", err)
	}
	defer products.Unmount()
	return fn(products)
}

func newProductsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List products, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				return mountProducts(cmd, rt, func(p *view.Products) error {
					return printProducts(rt.out, p.Records())
				})
			})
		},
	}
}

func newProductsSaveCommand(opts *RootOptions) *cobra.Command {
	var (
		in    view.ProductInput
		specs []string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create a product, or update it when --id is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseSpecs(specs)
			if err != nil {
				return WrapExitError(ExitCommandError, "save", err)
			}
			in.Specifications = parsed
			return withRuntime(cmd, opts, func(rt *runtime) error {
				return mountProducts(cmd, rt, func(p *view.Products) error {
					if !p.Save(cmd.Context(), in) {
						return NewExitError(ExitFailure, "product not saved")
					}
					return printProducts(rt.out, p.Records())
				})
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "product to update")
	cmd.Flags().StringVar(&in.Model, "model", "", "model name")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.ReleaseDate, "release-date", "", "release date (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&specs, "spec", nil, "specification as key=value (repeatable)")
	return cmd
}

func newProductsDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				return mountProducts(cmd, rt, func(p *view.Products) error {
					if !p.Delete(cmd.Context(), args[0]) {
						return NewExitError(ExitFailure, "product not deleted")
					}
					return printProducts(rt.out, p.Records())
				})
			})
		},
	}
}

func parseSpecs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --spec %q: want key=value", pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

type productOutput struct {
	ID             string            `json:"id"`
	Model          string            `json:"model"`
	Description    string            `json:"description,omitempty"`
	ReleaseDate    string            `json:"releaseDate,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
	CreatedAt      string            `json:"createdAt,omitempty"`
}

func printProducts(out *OutputFormatter, products []view.Product) error {
	list := make([]productOutput, 0, len(products))
	for _, p := range products {
		list = append(list, productOutput(p))
	}
	if out.JSON() {
		return out.WriteJSON(map[string]any{"products": list})
	}
	rows := make([][]string, 0, len(list))
	for _, p := range list {
		rows = append(rows, []string{p.ID, p.Model, p.ReleaseDate, formatSpecs(p.Specifications), p.Description})
	}
	return out.Table([]string{"ID", "MODEL", "RELEASED", "SPECS", "DESCRIPTION"}, rows)
}

func formatSpecs(specs map[string]string) string {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+specs[k])
	}
	return strings.Join(parts, ", ")
}
