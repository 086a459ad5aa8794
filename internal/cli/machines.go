package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"shopfloor/api/internal/optimistic"
	"shopfloor/api/internal/view"
)

func NewMachinesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "machines",
		Aliases: []string{"machine"},
		Short:   "List, watch and change machines",
	}
	cmd.AddCommand(newMachinesListCommand(opts, false))
	cmd.AddCommand(newMachinesListCommand(opts, true))
	cmd.AddCommand(newMachinesSetStatusCommand(opts))
	return cmd
}

func newMachinesListCommand(opts *RootOptions, watch bool) *cobra.Command {
	var filter string
	use, short := "list", "List machines"
	if watch {
		use, short = "watch", "List machines and follow changes until interrupted"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(rt *runtime) error {
				machines := view.NewMachines(rt.deps, optimistic.Hooks[view.Machine]{})
				if err := machines.Mount(cmd.Context()); err != nil {
					return WrapExitError(ExitFailure, "load machines", err)
				}
				defer machines.Unmount()

				render := func() error { return printMachines(rt.out, machines, filter) }
				if err := render(); err != nil || !watch {
					return err
				}
				updates, cancel := signalOnUpdate(machines.OnUpdate)
				defer cancel()
				return watchUntilInterrupted(cmd.Context(), updates, render)
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only machines whose name, type or location contains this")
	return cmd
}

func newMachinesSetStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Change a machine's status (operational, maintenance, idle, error)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := view.ParseMachineStatus(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "set-status", err)
			}
			return withRuntime(cmd, opts, func(rt *runtime) error {
				machines := view.NewMachines(rt.deps, optimistic.Hooks[view.Machine]{})
				if err := machines.Mount(cmd.Context()); err != nil {
					return WrapExitError(ExitFailure, "load machines", err)
				}
				defer machines.Unmount()

				if _, ok := machines.Find(args[0]); !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("machine %s not found", args[0]))
				}
				if !machines.SetStatus(cmd.Context(), args[0], status) {
					return NewExitError(ExitFailure, "status not changed")
				}
				return printMachines(rt.out, machines, "")
			})
		},
	}
}

type machineOutput struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Location string `json:"location"`
}

type machineStatsOutput struct {
	Total       int `json:"total"`
	Operational int `json:"operational"`
	Maintenance int `json:"maintenance"`
	Idle        int `json:"idle"`
	Error       int `json:"error"`
}

type machinesOutput struct {
	Machines []machineOutput    `json:"machines"`
	Stats    machineStatsOutput `json:"stats"`
}

func printMachines(out *OutputFormatter, machines *view.Machines, filter string) error {
	list := machines.Filter(filter)
	st := machines.Stats()
	result := machinesOutput{
		Machines: make([]machineOutput, 0, len(list)),
		Stats:    machineStatsOutput(st),
	}
	for _, m := range list {
		result.Machines = append(result.Machines, machineOutput{
			ID: m.ID, Name: m.Name, Type: m.Type, Status: string(m.Status), Location: m.Location,
		})
	}
	if out.JSON() {
		return out.WriteJSON(result)
	}
	rows := make([][]string, 0, len(list))
	for _, m := range result.Machines {
		rows = append(rows, []string{m.ID, m.Name, m.Type, m.Status, m.Location})
	}
	if err := out.Table([]string{"ID", "NAME", "TYPE", "STATUS", "LOCATION"}, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out.Writer, "\n%d machines, %d operational\n", result.Stats.Total, result.Stats.Operational)
	return err
}
