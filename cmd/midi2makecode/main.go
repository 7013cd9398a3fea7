// Package main is the entry point for midi2makecode CLI
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/james-see/midi2makecode/pkg/api"
	"github.com/james-see/midi2makecode/pkg/config"
	"github.com/james-see/midi2makecode/pkg/converter"
	"github.com/james-see/midi2makecode/pkg/converter/targets"
	"github.com/james-see/midi2makecode/pkg/logger"
	"github.com/james-see/midi2makecode/pkg/songs"
	"github.com/james-see/midi2makecode/pkg/tui"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	outputFile string
	targetName string
	formatName string
	logLevel   string
	serverPort string
	songTitles []string

	cfg *config.Config
	log = zap.NewNop()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "midi2makecode",
	Short: "Convert MIDI files into MakeCode melodies",
	Long: `midi2makecode converts standard MIDI files into quantized melody code
for MakeCode editors.

Supports the BBC micro:bit, Adafruit Circuit Playground Express and
MakeCode Arcade, plus a JSON export of the parsed MIDI.

Examples:
  midi2makecode convert song.mid -t arcade
  midi2makecode convert song.mid -t microbit --format span -o song.ts
  midi2makecode extension intro.mid theme.mid -t adafruit -o songs.ts
  midi2makecode watch song.mid -t arcade
  midi2makecode tui
  midi2makecode serve --port 8080`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

var convertCmd = &cobra.Command{
	Use:   "convert <input>",
	Short: "Convert a MIDI file to target code",
	Long: `Converts a MIDI file (or song JSON) to melody code for the target.
An output path ending in .mid writes the quantized preview instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var jsonCmd = &cobra.Command{
	Use:   "json <input.mid>",
	Short: "Export the parsed MIDI as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runJSON,
}

var quantizeCmd = &cobra.Command{
	Use:   "quantize <input>",
	Short: "Print the quantized tracks of a MIDI file",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuantize,
}

var previewCmd = &cobra.Command{
	Use:   "preview <input>",
	Short: "Render the quantized melody back to MIDI",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

var extensionCmd = &cobra.Command{
	Use:   "extension <input>...",
	Short: "Build an editor extension with a song list",
	Long: `Builds a MakeCode extension exposing every input as a song in a SongList
enum, with play blocks. Titles default to the file names.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtension,
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List supported targets",
	Args:  cobra.NoArgs,
	RunE:  runTargets,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive terminal UI",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	RunE:  runServe,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&targetName, "target", "t", "", "Target (microbit, adafruit, arcade, json); default from DEFAULT_TARGET")
	rootCmd.PersistentFlags().StringVar(&formatName, "format", "", "Token format (legacy, span); default from TOKEN_FORMAT")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	convertCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: input with the target's extension)")
	jsonCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .json file path")
	previewCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output .mid file path")
	extensionCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: stdout)")
	extensionCmd.Flags().StringArrayVar(&songTitles, "title", nil, "Song title, in input order (repeatable)")

	serveCmd.Flags().StringVarP(&serverPort, "port", "p", "", "Server port (default from PORT)")

	// Add commands
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(jsonCmd)
	rootCmd.AddCommand(quantizeCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(extensionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(serveCmd)
}

// setup loads the environment and applies flag overrides
func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	var err error
	if cfg, err = config.Load(); err != nil {
		return err
	}

	if targetName == "" {
		targetName = cfg.DefaultTarget
	}
	if formatName == "" {
		formatName = cfg.TokenFormat
	}

	if cmd == serveCmd {
		if logLevel == "" {
			logLevel = cfg.LogLevel
		}
		log, err = logger.New(logLevel)
	} else {
		log, err = logger.NewConsole(logLevel)
	}
	return err
}

func getTarget() (converter.Target, error) {
	return targets.Lookup(targetName)
}

func getFormat() (converter.TokenFormat, error) {
	return converter.ParseTokenFormat(formatName)
}

func newConverter() (*converter.Converter, error) {
	target, err := getTarget()
	if err != nil {
		return nil, err
	}
	format, err := getFormat()
	if err != nil {
		return nil, err
	}
	return converter.New(target, converter.WithTokenFormat(format), converter.WithLogger(log)), nil
}

func getOutputPath(input, defaultExt string) string {
	if outputFile != "" {
		return outputFile
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + defaultExt
}

// reportSkipped prints tracks dropped from a partial conversion to stderr and
// returns nil for them; any other error is returned as is
func reportSkipped(input string, err error) error {
	var skipped *converter.SkippedTracksError
	if !errors.As(err, &skipped) {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: skipped %d track(s):\n", input, len(skipped.Errs))
	for _, w := range skipped.Warnings() {
		fmt.Fprintf(os.Stderr, "  %s\n", w)
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	input := args[0]
	conv, err := newConverter()
	if err != nil {
		return err
	}

	output := getOutputPath(input, conv.GetTarget().Extension())
	if output == input {
		return fmt.Errorf("output would overwrite %s; pass -o", input)
	}

	if err := reportSkipped(input, conv.ConvertFile(input, output)); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s (%s)\n", input, output, conv.GetTarget().Name())
	return nil
}

func runJSON(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input, ".json")
	if output == input {
		return fmt.Errorf("output would overwrite %s; pass -o", input)
	}

	conv := converter.New(targets.NewJSON(), converter.WithLogger(log))
	if err := conv.ConvertFile(input, output); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s\n", input, output)
	return nil
}

func runQuantize(cmd *cobra.Command, args []string) error {
	format, err := getFormat()
	if err != nil {
		return err
	}

	md, err := converter.LoadSongFile(args[0])
	if err != nil {
		return err
	}

	conv := converter.New(nil, converter.WithTokenFormat(format), converter.WithLogger(log))
	tracks, qerr := conv.QuantizeSong(md)
	if qerr != nil && tracks == nil {
		return qerr
	}

	fmt.Printf("%s: %.2f bpm, %.2fs, %d tracks\n", filepath.Base(args[0]), md.Header.BPM, md.Duration, len(tracks))
	for i, t := range tracks {
		fmt.Printf("\n[%d] %s (%d slots)\n%s\n", i, t.Instrument, t.Slots(), strings.Join(t.Notes(format), " "))
	}
	return reportSkipped(args[0], qerr)
}

func runPreview(cmd *cobra.Command, args []string) error {
	input := args[0]
	output := getOutputPath(input, ".preview.mid")

	if err := reportSkipped(input, converter.New(nil, converter.WithLogger(log)).ConvertFile(input, output)); err != nil {
		return err
	}
	fmt.Printf("Rendered %s -> %s\n", input, output)
	return nil
}

func runExtension(cmd *cobra.Command, args []string) error {
	conv, err := newConverter()
	if err != nil {
		return err
	}

	list := songs.NewList()
	for i, input := range args {
		md, err := converter.LoadSongFile(input)
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
		tracks, err := conv.QuantizeSong(md)
		if err != nil && tracks == nil {
			return fmt.Errorf("%s: %w", input, err)
		}
		if err := reportSkipped(input, err); err != nil {
			return err
		}

		title := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		if i < len(songTitles) && songTitles[i] != "" {
			title = songTitles[i]
		}
		song := list.Add(title, tracks)
		log.Info("added song", zap.String("id", song.ID), zap.Int("tracks", len(tracks)))
	}

	out, err := conv.ConvertSongs(list.Songs())
	if err != nil {
		return err
	}

	if outputFile == "" {
		fmt.Println(out)
		return nil
	}
	if err := os.WriteFile(outputFile, []byte(out), 0644); err != nil {
		return err
	}
	fmt.Printf("Wrote %d songs -> %s (%s)\n", list.Len(), outputFile, conv.GetTarget().Name())
	return nil
}

func runTargets(cmd *cobra.Command, args []string) error {
	for _, t := range targets.All() {
		marker := " "
		if string(t.ID()) == targetName {
			marker = "*"
		}
		fmt.Printf("%s %-9s %-38s %s\n", marker, t.ID(), t.Name(), t.Extension())
	}
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	format, err := getFormat()
	if err != nil {
		return err
	}
	return tui.Run(format)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serverPort != "" {
		cfg.Port = serverPort
	}
	cfg.DefaultTarget = targetName
	cfg.TokenFormat = formatName

	flush, err := api.InitSentry(cfg, version)
	if err != nil {
		log.Warn("sentry disabled", zap.Error(err))
	}
	defer flush()

	log.Info("starting API server",
		zap.String("port", cfg.Port),
		zap.String("target", cfg.DefaultTarget),
		zap.String("swagger", "http://localhost:"+cfg.Port+"/swagger/index.html"),
	)
	err = api.StartServer(cmd.Context(), cfg, log)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
