// Command aarch64ld links AArch64 ELF64 relocatable object files into a
// statically-linked ELF64 executable for Linux/AArch64.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xyproto/aarch64ld/internal/diag"
	"github.com/xyproto/aarch64ld/internal/link"
	"github.com/xyproto/aarch64ld/internal/object"
)

var (
	cfgFile     string
	outputPath  string
	baseAddress uint64
	pageSize    uint64
	entrySymbol string
	verbose     bool
	logFile     string
)

var rootCmd = &cobra.Command{
	Use:   "aarch64ld <output> <input.o>...",
	Short: "Static linker for AArch64 ELF64 relocatable objects",
	Long: `aarch64ld links one or more AArch64 ELF64 ET_REL object files into a
single statically-linked ET_EXEC executable.

It resolves global symbols, lays out .text/.rodata/.data into PT_LOAD
segments, applies the supported AArch64 RELA relocations, and emits the
final ELF64 image. It does not perform dynamic linking, archive
extraction, link-time optimization, or position-independent output.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLink(cmd.Context(), args)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.aarch64ld.yaml)")
	rootCmd.Flags().Uint64Var(&baseAddress, "base-address", 0x400000, "virtual load base: file offset 0 maps here, and the first PT_LOAD segment starts at the next page past the headers")
	rootCmd.Flags().Uint64Var(&pageSize, "page-size", 4096, "page size used for segment alignment")
	rootCmd.Flags().StringVar(&entrySymbol, "entry", "_start", "name of the entry-point symbol")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "also write JSON diagnostics to this file")

	viper.BindPFlag("base-address", rootCmd.Flags().Lookup("base-address"))
	viper.BindPFlag("page-size", rootCmd.Flags().Lookup("page-size"))
	viper.BindPFlag("entry", rootCmd.Flags().Lookup("entry"))
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("log-file", rootCmd.Flags().Lookup("log-file"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".aarch64ld")
	}

	viper.SetEnvPrefix("AARCH64LD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}

func runLink(ctx context.Context, args []string) error {
	outputPath = args[0]
	inputPaths := args[1:]

	logger, closeLog, err := diag.NewLogger(viper.GetBool("verbose"), viper.GetString("log-file"))
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer closeLog()
	slog.SetDefault(logger)

	opts := link.Options{
		BaseAddress: viper.GetUint64("base-address"),
		PageSize:    viper.GetUint64("page-size"),
		EntrySymbol: viper.GetString("entry"),
		Verbose:     viper.GetBool("verbose"),
	}
	linker := link.New(opts)

	// Bulk file reads are one of the two I/O boundaries cancellation is
	// honored at: check once before reading any input, rather than
	// per-file, since a half-read batch is discarded wholesale anyway.
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range inputPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return diag.IoFailureOf(p, fmt.Errorf("reading input: %w", err))
		}
		f, err := object.Parse(p, data)
		if err != nil {
			slog.Error("failed to parse input", "input", p, "error", err)
			return err
		}
		slog.Debug("parsed input", "input", p, "sections", len(f.Sections))
		linker.AddInput(f)
	}

	slog.Info("linking", "inputs", len(inputPaths), "output", outputPath, "base_address", opts.BaseAddress)

	out, err := linker.Link(ctx)
	if err != nil {
		slog.Error("link failed", "error", err)
		return err
	}

	if err := writeExecutable(ctx, outputPath, out); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}

	slog.Info("wrote executable", "output", outputPath, "bytes", len(out))
	return nil
}

// writeExecutable stages the linked image in a temp file next to the final
// path and renames it into place only once it's fully written, so a failed
// or interrupted write never leaves a partial or non-executable file at
// outputPath. ctx is checked once up front, the other of the two I/O
// boundaries cancellation is honored at.
func writeExecutable(ctx context.Context, outputPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, ".aarch64ld-*.tmp")
	if err != nil {
		return diag.IoFailureOf(dir, fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return diag.IoFailureOf(tmpPath, fmt.Errorf("writing output: %w", err))
	}
	if err := tmp.Chmod(0o755); err != nil {
		tmp.Close()
		return diag.IoFailureOf(tmpPath, fmt.Errorf("chmod output: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return diag.IoFailureOf(tmpPath, fmt.Errorf("closing output: %w", err))
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return diag.IoFailureOf(outputPath, fmt.Errorf("renaming output into place: %w", err))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
