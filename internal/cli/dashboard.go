package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"shopfloor/api/internal/view"
)

func NewDashboardCommand(opts *RootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show today's production overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				dash := view.NewDashboard(rt.deps)
				if err := dash.Mount(cmd.Context()); err != nil {
					return WrapExitError(ExitFailure, "load dashboard", err)
				}
				defer dash.Unmount()

				render := func() error { return printDashboard(rt.out, dash.Stats()) }
				if err := render(); err != nil || !watch {
					return err
				}
				updates, cancel := signalOnUpdate(dash.OnUpdate)
				defer cancel()
				return watchUntilInterrupted(cmd.Context(), updates, render)
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing when productions change")
	return cmd
}

type dashboardOutput struct {
	TotalProducts   int                    `json:"totalProducts"`
	ActiveMachines  int                    `json:"activeMachines"`
	TotalEmployees  int                    `json:"totalEmployees"`
	TodayProduction int                    `json:"todayProduction"`
	QualityRate     float64                `json:"qualityRate"`
	MachineStatus   map[string]int         `json:"machineStatus"`
	Recent          []recentProductionLine `json:"recentProductions"`
}

type recentProductionLine struct {
	Number    string `json:"productionNumber"`
	Product   string `json:"product,omitempty"`
	Machine   string `json:"machine,omitempty"`
	Quantity  int    `json:"quantity"`
	Status    string `json:"status"`
	StartTime string `json:"startTime,omitempty"`
}

func printDashboard(out *OutputFormatter, s view.Stats) error {
	result := dashboardOutput{
		TotalProducts:   s.TotalProducts,
		ActiveMachines:  s.ActiveMachines,
		TotalEmployees:  s.TotalEmployees,
		TodayProduction: s.TodayProduction,
		QualityRate:     s.QualityRate,
		MachineStatus: map[string]int{
			"operational": s.MachineStatus.Operational,
			"maintenance": s.MachineStatus.Maintenance,
			"idle":        s.MachineStatus.Idle,
		},
		Recent: make([]recentProductionLine, 0, len(s.RecentProductions)),
	}
	for _, p := range s.RecentProductions {
		result.Recent = append(result.Recent, recentProductionLine{
			Number: p.Number, Product: p.Product, Machine: p.Machine,
			Quantity: p.Quantity, Status: p.Status, StartTime: p.StartTime,
		})
	}
	if out.JSON() {
		return out.WriteJSON(result)
	}

	w := out.Writer
	fmt.Fprintf(w, "Products:          %d\n", result.TotalProducts)
	fmt.Fprintf(w, "Active machines:   %d (maintenance %d, idle %d)\n",
		result.ActiveMachines, s.MachineStatus.Maintenance, s.MachineStatus.Idle)
	fmt.Fprintf(w, "Employees:         %d\n", result.TotalEmployees)
	fmt.Fprintf(w, "Produced today:    %d\n", result.TodayProduction)
	fmt.Fprintf(w, "Quality rate:      %.1f%%\n\n", result.QualityRate)
	if len(result.Recent) == 0 {
		fmt.Fprintln(w, "No recent productions")
		return nil
	}
	rows := make([][]string, 0, len(result.Recent))
	for _, p := range result.Recent {
		rows = append(rows, []string{p.Number, p.Product, p.Machine, strconv.Itoa(p.Quantity), p.Status})
	}
	return out.Table([]string{"PRODUCTION", "PRODUCT", "MACHINE", "QTY", "STATUS"}, rows)
}
