// Command monitorctl is a thin CLI wrapper over the monitor's Control
// API (pkg/client): register, list, and drive the lifecycle of
// supervised processes on a running monitord.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/monitd/internal/registry"
	"github.com/loykin/monitd/pkg/client"
	"github.com/loykin/monitd/pkg/template"
)

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func main() {
	var baseURL string
	var timeout time.Duration

	root := &cobra.Command{Use: "monitorctl"}
	root.PersistentFlags().StringVar(&baseURL, "url", client.DefaultConfig().BaseURL, "monitord Control API base URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	newClient := func() *client.Client {
		return client.New(client.Config{BaseURL: baseURL, Timeout: timeout})
	}

	cmdList := &cobra.Command{
		Use:   "list",
		Short: "List registered processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := newClient().ListProcesses(context.Background())
			if err != nil {
				return err
			}
			printJSON(entries)
			return nil
		},
	}

	cmdGet := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one process's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := newClient().GetProcess(context.Background(), args[0])
			if err != nil {
				return err
			}
			printJSON(entry)
			return nil
		},
	}

	var (
		executable   string
		name         string
		workDir      string
		autostart    bool
		argList      []string
		templateKind string
	)
	cmdRegister := &cobra.Command{
		Use:   "register <id>",
		Short: "Register a new process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := registry.ProcessConfig{ID: args[0], Name: args[0]}
			if templateKind != "" {
				if executable == "" {
					return fmt.Errorf("--template requires --executable")
				}
				scaffold, err := template.NewGenerator().Generate(template.Kind(templateKind), args[0], executable)
				if err != nil {
					return err
				}
				cfg = scaffold
			}
			if executable != "" {
				cfg.Executable = executable
			}
			if name != "" {
				cfg.Name = name
			}
			if workDir != "" {
				cfg.WorkDir = workDir
			}
			if cmd.Flags().Changed("autostart") {
				cfg.Autostart = autostart
			}
			if len(argList) > 0 {
				cfg.Args = argList
			}
			return newClient().RegisterProcess(context.Background(), cfg)
		},
	}
	cmdRegister.Flags().StringVar(&executable, "executable", "", "executable path (required unless implied by --template)")
	cmdRegister.Flags().StringVar(&name, "name", "", "display name")
	cmdRegister.Flags().StringVar(&workDir, "workdir", "", "working directory")
	cmdRegister.Flags().BoolVar(&autostart, "autostart", false, "supervise and restart this process automatically")
	cmdRegister.Flags().StringSliceVar(&argList, "arg", nil, "argument (repeatable)")
	cmdRegister.Flags().StringVar(&templateKind, "template", "", fmt.Sprintf("scaffold defaults for a process archetype (%v)", template.NewGenerator().SupportedKinds()))

	cmdDeregister := &cobra.Command{
		Use:   "deregister <id>",
		Short: "Deregister a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeregisterProcess(context.Background(), args[0])
		},
	}

	cmdStart := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a registered process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().StartProcess(context.Background(), args[0])
		},
	}

	var stopWait time.Duration
	cmdStop := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().StopProcess(context.Background(), args[0], stopWait)
		},
	}
	cmdStop.Flags().DurationVar(&stopWait, "wait", 2*time.Second, "grace period before escalating to a forceful stop")

	cmdEnable := &cobra.Command{
		Use:   "enable <id>",
		Short: "Re-enable a disabled process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().EnableProcess(context.Background(), args[0])
		},
	}

	cmdDisable := &cobra.Command{
		Use:   "disable <id>",
		Short: "Disable a process and stop it if running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DisableProcess(context.Background(), args[0])
		},
	}

	var autostartValue bool
	cmdAutostart := &cobra.Command{
		Use:   "autostart <id> <true|false>",
		Short: "Change a process's autostart flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[1] {
			case "true":
				autostartValue = true
			case "false":
				autostartValue = false
			default:
				return fmt.Errorf("expected true or false, got %q", args[1])
			}
			return newClient().SetAutostart(context.Background(), args[0], autostartValue)
		},
	}

	cmdStatus := &cobra.Command{
		Use:   "status",
		Short: "Show monitor-wide status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newClient().MonitorStatus(context.Background())
			if err != nil {
				return err
			}
			printJSON(status)
			return nil
		},
	}

	root.AddCommand(cmdList, cmdGet, cmdRegister, cmdDeregister, cmdStart, cmdStop, cmdEnable, cmdDisable, cmdAutostart, cmdStatus)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
