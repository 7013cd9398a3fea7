package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bep/debounce"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/james-see/midi2makecode/pkg/converter"
)

var (
	pollInterval  time.Duration
	debounceDelay time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <input>",
	Short: "Re-convert a MIDI file whenever it changes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: input with the target's extension)")
	watchCmd.Flags().DurationVar(&pollInterval, "interval", 500*time.Millisecond, "How often to check the input for changes")
	watchCmd.Flags().DurationVar(&debounceDelay, "debounce", time.Second, "Quiet period after a change before converting")
}

func runWatch(cmd *cobra.Command, args []string) error {
	input := args[0]
	if f := converter.DetectFormat(input); f != converter.FormatMIDI && f != converter.FormatJSON {
		return fmt.Errorf("cannot watch %s: expected a .mid or .json file", input)
	}

	conv, err := newConverter()
	if err != nil {
		return err
	}

	output := getOutputPath(input, conv.GetTarget().Extension())
	if output == input {
		return fmt.Errorf("output would overwrite %s; pass -o", input)
	}

	convert := func() {
		if err := reportSkipped(input, conv.ConvertFile(input, output)); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", time.Now().Format(time.TimeOnly), err)
			return
		}
		fmt.Printf("%s: converted %s -> %s\n", time.Now().Format(time.TimeOnly), input, output)
	}

	convert()
	fmt.Printf("Watching %s (ctrl+c to stop)\n", input)

	return watchFile(cmd.Context(), input, pollInterval, debounceDelay, convert)
}

// watchFile calls onChange, debounced, whenever the file's size or mtime changes
func watchFile(ctx context.Context, path string, interval, delay time.Duration, onChange func()) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod, lastSize := info.ModTime(), info.Size()

	debounced := debounce.New(delay)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				// Editors often replace files by rename; try again next tick
				log.Debug("stat failed", zap.String("file", path), zap.Error(err))
				continue
			}
			if info.ModTime().Equal(lastMod) && info.Size() == lastSize {
				continue
			}
			lastMod, lastSize = info.ModTime(), info.Size()
			log.Debug("change detected", zap.String("file", path))
			debounced(onChange)
		}
	}
}
