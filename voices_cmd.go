package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/chaptervoice/internal/engine"
	"github.com/dgnsrekt/chaptervoice/utils"
)

const voiceCheckTimeout = 10 * time.Second

var (
	voicesWatch bool

	voicesCmd = &cobra.Command{
		Use:   "voices [VOICE...]",
		Short: "Show voice readiness",
		Long: paragraph(
			fmt.Sprintf("\nCheck whether voices are %s to speak: engine runtime reachable, voice assets installed. With no arguments the configured voice is checked.", keyword("ready")),
		),
		Example: paragraph("chaptervoice voices\nchaptervoice voices piper:en_US-lessac-medium kokoro:af_bella\nchaptervoice voices --watch piper:en_US-lessac-medium"),
		RunE:    runVoices,
	}
)

func init() {
	voicesCmd.Flags().BoolVar(&voicesWatch, "watch", false, "keep watching the voice asset directories and re-check on changes")
}

func runVoices(_ *cobra.Command, args []string) error {
	voices := make([]string, 0, len(args))
	for _, v := range args {
		voices = append(voices, qualifyVoice(v))
	}
	if len(voices) == 0 {
		voices = []string{qualifyVoice(viper.GetString("voice"))}
	}
	sort.Strings(voices)

	reg := buildRegistry()
	defer reg.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printReadiness(ctx, reg, voices)
	if !voicesWatch {
		return nil
	}

	dirs := assetDirs()
	if len(dirs) == 0 {
		return errors.New("no voice asset directories configured to watch")
	}
	w, err := engine.WatchAssets(dirs...)
	if err != nil {
		return fmt.Errorf("unable to watch voice assets: %w", err)
	}
	defer w.Close() //nolint:errcheck

	fmt.Println(subtle("watching for voice asset changes, ctrl-c to stop"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case path, ok := <-w.Changes():
			if !ok {
				return nil
			}
			log.Debug("voice assets changed", "path", path)
			fmt.Println(subtle(time.Now().Format("15:04:05") + " assets changed: " + path))
			printReadiness(ctx, reg, voices)
		}
	}
}

func printReadiness(ctx context.Context, reg *engine.Registry, voices []string) {
	rows := [][]string{{"VOICE", "ENGINE", "STATUS"}}
	for _, v := range voices {
		engineType, _, err := engine.ParseVoiceID(v)
		if err != nil {
			rows = append(rows, []string{v, "", err.Error()})
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, voiceCheckTimeout)
		readiness, err := reg.CheckVoiceReady(checkCtx, v)
		cancel()
		status := readiness.String()
		if err != nil {
			status = fmt.Sprintf("error: %v", err)
		}
		rows = append(rows, []string{v, string(engineType), status})
	}
	printTable(rows)
}

// assetDirs lists the configured on-disk voice asset locations worth
// watching. Server-backed engines have no local assets.
func assetDirs() []string {
	var dirs []string
	for _, key := range []string{"piper.voices_dir", "supertonic.assets_dir"} {
		dir := utils.ExpandPath(viper.GetString(key))
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}
