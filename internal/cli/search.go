package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"shopfloor/api/internal/search"
)

func NewSearchCommand(opts *RootOptions) *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Search products and machines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := search.Query{Text: strings.Join(args, " "), Limit: limit}
			switch kind {
			case "":
			case string(search.ResultProduct), string(search.ResultMachine):
				q.FilterType = search.ResultType(kind)
			default:
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid --type %q: must be product or machine", kind))
			}
			if limit < 1 || limit > 100 {
				return NewExitError(ExitCommandError, "--limit must be between 1 and 100")
			}
			return withRuntime(cmd, opts, func(rt *runtime) error {
				resp, err := rt.search(cmd.Context(), q)
				if err != nil {
					return WrapExitError(ExitFailure, "search", err)
				}
				if rt.out.JSON() {
					return rt.out.WriteJSON(resp)
				}
				rows := make([][]string, 0, len(resp.Results))
				for _, r := range resp.Results {
					rows = append(rows, []string{string(r.Type), r.ID, r.Title, r.Status, r.Snippet})
				}
				if err := rt.out.Table([]string{"TYPE", "ID", "TITLE", "STATUS", "DETAIL"}, rows); err != nil {
					return err
				}
				_, err = fmt.Fprintf(rt.out.Writer, "\n%d of %d results (%s)\n", len(resp.Results), resp.Total, resp.Engine)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "restrict to product or machine")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}
