package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/chaptervoice/internal/engine"
	"github.com/dgnsrekt/chaptervoice/internal/ttypes"
	"github.com/dgnsrekt/chaptervoice/internal/tune"
)

var (
	calibrateRate float64

	calibrateCmd = &cobra.Command{
		Use:   "calibrate VOICE",
		Short: "Measure a voice's synthesis throughput on this device",
		Long: paragraph(
			fmt.Sprintf("\n%s a voice by synthesizing a small corpus at increasing concurrency levels, then store the lowest level that keeps up with playback.", keyword("Calibrate")),
		),
		Example: paragraph("chaptervoice calibrate piper:en_US-lessac-medium\nchaptervoice calibrate --rate 2.0 mock:narrator"),
		Args:    cobra.ExactArgs(1),
		RunE:    runCalibrate,
	}
)

func init() {
	calibrateCmd.Flags().Float64Var(&calibrateRate, "rate", 0, "playback rate to calibrate for (defaults to the configured rate)")
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	voice := qualifyVoice(args[0])
	rate := viper.GetFloat64("rate")
	if cmd.Flags().Changed("rate") {
		rate = calibrateRate
	}
	rate = ttypes.ClampRate(rate)

	engineType, _, err := engine.ParseVoiceID(voice)
	if err != nil {
		return err
	}

	reg := buildRegistry()
	defer reg.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readyCtx, cancel := context.WithTimeout(ctx, engine.DefaultReadinessTimeout)
	err = reg.EnsureVoiceReady(readyCtx, voice)
	cancel()
	if err != nil {
		return err
	}
	eng, err := reg.Resolve(voice)
	if err != nil {
		return err
	}

	fmt.Printf("Calibrating %s for %.2fx playback...\n\n", keyword(voice), rate)
	started := time.Now()
	res, err := tune.NewCalibrator(eng, tune.CalibratorConfig{TargetRate: rate}).Run(ctx, voice)
	if err != nil {
		return fmt.Errorf("calibration failed: %w", err)
	}

	printLevels(res)
	fmt.Printf("\nChosen concurrency %s: %.2fx speedup over single-threaded, RTF %.3f, took %s\n",
		keyword(fmt.Sprintf("%d", res.Chosen)), res.Speedup, res.RTF, time.Since(started).Round(time.Millisecond))
	if res.Warning != "" {
		fmt.Println(subtle("note: " + res.Warning))
	}

	profiles := tune.NewProfileStore(profilesPath())
	if err := profiles.Save(res.Profile(engineType)); err != nil {
		return fmt.Errorf("unable to save profile: %w", err)
	}
	log.Debug("profile saved", "voice", voice, "path", profilesPath())
	fmt.Println(subtle("Profile saved to " + profilesPath()))
	return nil
}

func printLevels(res tune.Result) {
	rows := [][]string{{"LEVEL", "WALL", "AUDIO", "RTF", "FAILURES", ""}}
	for _, lr := range res.Levels {
		mark := ""
		if lr.Concurrency == res.Chosen {
			mark = "chosen"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", lr.Concurrency),
			lr.WallClock.Round(time.Millisecond).String(),
			lr.AudioDuration.Round(time.Millisecond).String(),
			fmt.Sprintf("%.3f", lr.RTF),
			fmt.Sprintf("%d/%d", lr.Failures, lr.Requests),
			mark,
		})
	}
	printTable(rows)
}

// printTable renders rows with columns padded to their widest cell.
// runewidth keeps alignment straight when cells carry wide glyphs.
func printTable(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		fmt.Println(strings.TrimRight(b.String(), " "))
	}
}
