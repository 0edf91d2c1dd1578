package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

var composeFile string

// composeFlag maps a boolean flag onto extra docker compose arguments.
type composeFlag struct {
	name, short, usage string
	def                bool
	on, off            []string
}

func composeCmd(use, short, verb string, flags ...composeFlag) *cobra.Command {
	values := make([]bool, len(flags))
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			composeArgs := []string{"compose", "-f", composeFile, verb}
			for i, f := range flags {
				if values[i] {
					composeArgs = append(composeArgs, f.on...)
				} else {
					composeArgs = append(composeArgs, f.off...)
				}
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(cmd.Context(), "docker", composeArgs...)
		},
	}
	for i, f := range flags {
		cmd.Flags().BoolVarP(&values[i], f.name, f.short, f.def, f.usage)
	}
	return cmd
}

func newStackCommands() []*cobra.Command {
	return []*cobra.Command{
		composeCmd("build [service...]", "Build the server and worker images", "build",
			composeFlag{name: "no-cache", usage: "Disable Docker build cache", on: []string{"--no-cache"}}),
		composeCmd("up [service...]", "Start postgres, redis, minio, server and worker", "up",
			composeFlag{name: "detached", short: "d", def: true, usage: "Run docker compose in detached mode", on: []string{"-d"}},
			composeFlag{name: "skip-build", usage: "Skip rebuilding images before starting", off: []string{"--build"}}),
		composeCmd("down", "Stop the compose stack", "down",
			composeFlag{name: "volumes", short: "v", usage: "Remove stack volumes", on: []string{"-v"}}),
		composeCmd("logs [service...]", "Tail logs from compose services", "logs",
			composeFlag{name: "follow", usage: "Stream logs continuously", on: []string{"-f"}}),
		newTestCmd(),
		newRunCmd(),
	}
}

func newTestCmd() *cobra.Command {
	var race, cover, integration bool
	cmd := &cobra.Command{
		Use:   "test [packages]",
		Short: "Run Go tests (defaults to ./...)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pkgs := args
			if len(pkgs) == 0 {
				pkgs = []string{"./..."}
			}
			goArgs := []string{"test"}
			if race {
				goArgs = append(goArgs, "-race")
			}
			if cover {
				goArgs = append(goArgs, "-cover")
			}
			if integration {
				goArgs = append(goArgs, "-tags", "integration")
			}
			goArgs = append(goArgs, pkgs...)
			return runCommand(cmd.Context(), "go", goArgs...)
		},
	}
	cmd.Flags().BoolVar(&race, "race", false, "Enable Go race detector")
	cmd.Flags().BoolVar(&cover, "cover", false, "Collect coverage data")
	cmd.Flags().BoolVar(&integration, "integration", false, "Include testcontainers suites (needs Docker)")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the server or worker binary directly",
	}
	for _, name := range []string{"server", "worker"} {
		path := "./cmd/" + name
		cmd.AddCommand(&cobra.Command{
			Use:   name,
			Short: fmt.Sprintf("go run %s", path),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runCommand(cmd.Context(), "go", append([]string{"run", path}, args...)...)
			},
		})
	}
	return cmd
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}
