// Command fateful is the F8ful toolchain: assemble sources into a
// program image, run that image in the cycle-stepped emulator's
// interactive shell, push it to a physical board, or batch-test a
// directory of assembly files against their declared expectations.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"fateful/internal/coredata"
	"fateful/pkg/asm"
	"fateful/pkg/deploy"
	"fateful/pkg/diag"
	"fateful/pkg/emu"
	"fateful/pkg/shell"
	"fateful/pkg/testrun"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fateful",
		Short: "Assembler, emulator and deploy tool for the F8ful microcoded CPU",
	}

	root.AddCommand(newAssembleCmd())
	root.AddCommand(newEmulateCmd())
	root.AddCommand(newDeployCmd())
	root.AddCommand(newTestCmd())
	return root
}

func newAssembleCmd() *cobra.Command {
	var output string
	var verbose bool
	var frequency int64

	cmd := &cobra.Command{
		Use:   "assemble <file>",
		Short: "Assemble a source file into a raw program image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := diag.Normal
			if verbose {
				v = diag.Verbose
			}
			var predefines map[string]int64
			if frequency != 0 {
				predefines = map[string]int64{"CPU_FREQUENCY": frequency}
			}
			out, bag := asm.Assemble(args[0], v, predefines)
			bag.Render(os.Stderr)
			if bag.HasErrors() {
				return fmt.Errorf("assembly failed")
			}
			if output == "" {
				output = trimExt(args[0]) + ".bin"
			}
			if err := os.WriteFile(output, out.Result.Image[:], 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Printf("wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path (default: input with .bin extension)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "render note-level diagnostics too")
	cmd.Flags().Int64Var(&frequency, "frequency", 0, "bind CPU_FREQUENCY to this Hz value as a predefined symbol")
	return cmd
}

func newEmulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emulate <file>",
		Short: "Assemble and run a program in the interactive shell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, bag := asm.Assemble(args[0], diag.Normal)
			bag.Render(os.Stderr)
			if bag.HasErrors() {
				return fmt.Errorf("assembly failed")
			}
			rom, err := coredata.DefaultROM()
			if err != nil {
				return err
			}
			m := emu.New(rom)
			m.LoadProgram(out.Result.Image)
			shell.New(m, os.Stdin, os.Stdout).Run()
			return nil
		},
	}
	return cmd
}

func newDeployCmd() *cobra.Command {
	var board, port string
	var baud int
	var sizeFlag int

	cmd := &cobra.Command{
		Use:   "deploy <file>",
		Short: "Assemble a program and push it to a physical F8ful board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, bag := asm.Assemble(args[0], diag.Normal)
			bag.Render(os.Stderr)
			if bag.HasErrors() {
				return fmt.Errorf("assembly failed")
			}
			opts := deploy.Options{Board: board, Port: port, Baud: baud}
			n, err := deploy.Deploy(out.Result.Image, sizeFlag, opts, openSerialPort)
			if err != nil {
				return err
			}
			fmt.Printf("sent %d bytes to %s\n", n, opts.Port)
			return nil
		},
	}
	cmd.Flags().StringVar(&board, "board", "", "known board name (overrides FATEFUL_BOARD)")
	cmd.Flags().StringVar(&port, "port", "", "serial port path (overrides FATEFUL_PORT)")
	cmd.Flags().IntVar(&baud, "baud", 0, "baud rate (overrides FATEFUL_BAUD)")
	cmd.Flags().IntVar(&sizeFlag, "size", 0, "bytes to send from the image start (default: whole image)")
	return cmd
}

// openSerialPort opens a tty device node directly; the board is
// expected to appear as a plain character device, so no dedicated
// serial-port library is needed beyond the OS file-handle semantics
// that already apply baud/framing via the device's own termios state.
func openSerialPort(port string, baud int) (deploy.Writer, error) {
	f, err := os.OpenFile(port, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	_ = baud // the device node's termios configuration, not this process, owns baud/framing
	return f, nil
}

func newTestCmd() *cobra.Command {
	var workers int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "test <glob...>",
		Short: "Assemble and run a set of test programs, checking their declared expectations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var paths []string
			for _, pattern := range args {
				matches, err := filepath.Glob(pattern)
				if err != nil {
					return fmt.Errorf("bad pattern %q: %w", pattern, err)
				}
				paths = append(paths, matches...)
			}
			if len(paths) == 0 {
				return fmt.Errorf("no files matched")
			}

			results, _ := testrun.Run(paths, testrun.Config{NumWorkers: workers, Timeout: timeout})

			failed := 0
			for _, r := range results {
				switch {
				case r.Err != nil:
					failed++
					fmt.Printf("FAIL %s (%s): %v\n", r.Path, r.Duration.Round(time.Millisecond), r.Err)
				case !r.Passed:
					failed++
					fmt.Printf("FAIL %s (%s):\n", r.Path, r.Duration.Round(time.Millisecond))
					for _, f := range r.Failures {
						fmt.Printf("  %s\n", f)
					}
				default:
					fmt.Printf("ok   %s (%s)\n", r.Path, r.Duration.Round(time.Millisecond))
				}
			}
			fmt.Printf("\n%d/%d passed\n", len(results)-failed, len(results))
			if failed > 0 {
				return fmt.Errorf("%d test(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "parallel workers (0 = NumCPU)")
	cmd.Flags().DurationVar(&timeout, "timeout", testrun.DefaultTimeout, "per-test timeout")
	return cmd
}

func trimExt(path string) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)]
}
