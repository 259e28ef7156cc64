// Package cmd implements the photocritic command line interface.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/PiaoShihao/photocritic/aesthetic"
	"github.com/PiaoShihao/photocritic/api"
	"github.com/PiaoShihao/photocritic/envconfig"
	"github.com/PiaoShihao/photocritic/logutil"
	"github.com/PiaoShihao/photocritic/pipeline"
	"github.com/PiaoShihao/photocritic/progress"
	"github.com/PiaoShihao/photocritic/version"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "photocritic",
		Short:   "Local aesthetic critique of photographs with a vision language model",
		Version: version.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true

			level := envconfig.LogLevel()
			if s, _ := cmd.Flags().GetString("log-level"); s != "" {
				level = parseLevel(s)
			}
			slog.SetDefault(logutil.NewLogger(os.Stderr, level))
		},
	}

	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")

	cobra.EnableCommandSorting = false

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Generate an aesthetic critique for an image",
		RunE:  runAnalyze,
	}

	analyzeCmd.Flags().String("image", "", "Path to the image to critique")
	analyzeCmd.Flags().String("prompt", "", "Prompt text (overrides --prompt-file)")
	analyzeCmd.Flags().String("prompt-file", "", "Path to a <prompt>-tagged template file")
	analyzeCmd.Flags().String("model", "./Models", "Path to the model directory")
	analyzeCmd.Flags().String("device", "cpu", "Compute device")
	analyzeCmd.Flags().Int("max-tokens", 2048, "Maximum number of generated tokens")
	analyzeCmd.Flags().Float32("temperature", 0, "Sampling temperature; 0 is deterministic")
	analyzeCmd.Flags().Int64("seed", 0, "Sampling seed for non-zero temperature")
	analyzeCmd.Flags().Bool("no-stream", false, "Print the full critique at once instead of streaming")
	analyzeCmd.Flags().Bool("scores", false, "Extract and print per-dimension scores")

	rootCmd.AddCommand(analyzeCmd)

	return rootCmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	imagePath, _ := cmd.Flags().GetString("image")
	prompt, _ := cmd.Flags().GetString("prompt")
	promptFile, _ := cmd.Flags().GetString("prompt-file")
	modelDir, _ := cmd.Flags().GetString("model")
	device, _ := cmd.Flags().GetString("device")
	maxTokens, _ := cmd.Flags().GetInt("max-tokens")
	temperature, _ := cmd.Flags().GetFloat32("temperature")
	seed, _ := cmd.Flags().GetInt64("seed")
	noStream, _ := cmd.Flags().GetBool("no-stream")
	scores, _ := cmd.Flags().GetBool("scores")

	if imagePath == "" {
		return errors.New("--image is required")
	}

	if prompt == "" {
		prompt = aesthetic.LoadPromptTemplate(promptFile)
	}

	prog := progress.NewProgress(os.Stderr)
	prog.Add(progress.NewSpinner("loading model"))

	p, err := pipeline.New(modelDir, device)
	prog.StopAndClear()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := api.GenerateRequest{
		Prompt:      prompt,
		ImagePath:   imagePath,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Seed:        seed,
	}

	var sb strings.Builder
	var reason api.DoneReason

	err = p.Generate(ctx, req, func(resp api.GenerateResponse) {
		if resp.Done {
			reason = resp.DoneReason
			return
		}
		sb.WriteString(resp.Content)
		if !noStream {
			fmt.Print(resp.Content)
		}
	})
	if err != nil {
		return err
	}

	if noStream {
		fmt.Print(sb.String())
	}
	fmt.Println()

	if reason == api.DoneReasonCancel {
		fmt.Fprintln(os.Stderr, "cancelled; partial critique above")
	}

	if scores {
		printScores(aesthetic.ParseResponse(sb.String()))
	}

	return nil
}

func printScores(a api.AestheticAnalysis) {
	fmt.Println()
	fmt.Println(a.String())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Dimension", "Score"})
	table.Append([]string{"Composition", formatScore(a.Scores.Composition)})
	table.Append([]string{"Focal length", formatScore(a.Scores.FocalLength)})
	table.Append([]string{"Contrast/Exposure/Brightness", formatScore(a.Scores.ContrastExposureBrightness)})
	table.Append([]string{"Overall", formatScore(a.Scores.Overall)})
	table.Render()
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "/10"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return logutil.LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
