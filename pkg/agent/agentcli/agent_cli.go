package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/ahihi/nocturnal/internal/surfacesvc"
	"github.com/ahihi/nocturnal/pkg/agent"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "nocturnal"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:      filepath.Join(configDir, "data"),
		BridgeConfig: filepath.Join(configDir, "bridge.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "nocturnal",
		Short: "Control surface bridge",
		Long:  `nocturnal is a daemon that bridges a hardware control surface to OSC or MIDI.`,
	}
	var a *agent.Agent
	agentProvider := func() *agent.Agent {
		return a
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.BridgeConfig, "config", cfg.BridgeConfig, "bridge config file")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}
	rootCmd.AddCommand(NewRun(agentProvider))
	rootCmd.AddCommand(NewListDevices(agentProvider))
	rootCmd.AddCommand(NewListMidiPorts())
	return rootCmd
}

func NewRun(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge",
		Long:  `Run the bridge daemon until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return agent().Run(cmd.Context())
		},
	}
}

func NewListDevices(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices [addr]",
		Short: "List surface devices",
		Long:  `List surface devices ever seen by the agent, attached or not, optionally filtered by address (vendor:product:interface).`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := agent().Surfaces().ListDevices()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				addr, err := surfacesvc.ParseAddress(args[0])
				if err != nil {
					return err
				}
				filtered := devices[:0]
				for _, dev := range devices {
					if dev.Address == addr {
						filtered = append(filtered, dev)
					}
				}
				devices = filtered
			}
			jsonB, err := json.MarshalIndent(devices, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewListMidiPorts() *cobra.Command {
	return &cobra.Command{
		Use:   "list-midi-ports",
		Short: "List MIDI ports",
		Long:  `List MIDI input and output ports visible to the system.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			drv, err := rtmididrv.New()
			if err != nil {
				return fmt.Errorf("failed to initialize MIDI driver: %w", err)
			}
			defer drv.Close()
			ins, err := drv.Ins()
			if err != nil {
				return fmt.Errorf("failed to list MIDI inputs: %w", err)
			}
			outs, err := drv.Outs()
			if err != nil {
				return fmt.Errorf("failed to list MIDI outputs: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "inputs:")
			for i, port := range ins {
				fmt.Fprintf(out, "  %d: %s\n", i, port.String())
			}
			fmt.Fprintln(out, "outputs:")
			for i, port := range outs {
				fmt.Fprintf(out, "  %d: %s\n", i, port.String())
			}
			return nil
		},
	}
}
