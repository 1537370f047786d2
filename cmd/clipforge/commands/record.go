package commands

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipforge/capture/internal/api"
	"github.com/clipforge/capture/internal/audio"
	"github.com/clipforge/capture/internal/bridge/x11"
	"github.com/clipforge/capture/internal/config"
	"github.com/clipforge/capture/internal/encoding"
	"github.com/clipforge/capture/internal/logger"
	"github.com/clipforge/capture/internal/media"
	"github.com/clipforge/capture/internal/recorder"
	"github.com/clipforge/capture/internal/region"
	"github.com/clipforge/capture/internal/timeline"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a display region",
	Long: `Record a region of a display to a media file.

While recording:
  SIGINT  (Ctrl-C)  stops and finalizes the recording
  SIGUSR1           toggles pause/resume
  SIGUSR2           toggles a duration mark`,
	Example: `  # Record the full first display until Ctrl-C
  clipforge record

  # Record a 1280x720 region at 720p quality for 30 seconds
  clipforge record --width 1280 --height 720 --quality 720p --duration 30s

  # Record with microphone and desktop audio
  clipforge record --mic --desktop-audio --output demo`,
	RunE: runRecord,
}

var (
	recDisplay      string
	recX, recY      int
	recW, recH      int
	recQuality      string
	recFPS          int
	recMic          bool
	recMicDevice    string
	recDesktopAudio bool
	recRequireAudio bool
	recDuration     time.Duration
	recOutput       string
	recDebug        bool
)

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().StringVar(&recDisplay, "display", "display-0", "display id to record")
	recordCmd.Flags().IntVar(&recX, "x", 0, "region x origin in logical pixels")
	recordCmd.Flags().IntVar(&recY, "y", 0, "region y origin in logical pixels")
	recordCmd.Flags().IntVar(&recW, "width", 0, "region width (0 means full display)")
	recordCmd.Flags().IntVar(&recH, "height", 0, "region height (0 means full display)")
	recordCmd.Flags().StringVar(&recQuality, "quality", "", "quality tier (auto, 480p, 720p, 1080p)")
	recordCmd.Flags().IntVar(&recFPS, "fps", 0, "capture frame rate")
	recordCmd.Flags().BoolVar(&recMic, "mic", false, "capture microphone audio")
	recordCmd.Flags().StringVar(&recMicDevice, "mic-device", "", "microphone device id or name")
	recordCmd.Flags().BoolVar(&recDesktopAudio, "desktop-audio", false, "capture desktop audio via loopback")
	recordCmd.Flags().BoolVar(&recRequireAudio, "require-audio", false, "fail instead of degrading when audio is unavailable")
	recordCmd.Flags().DurationVar(&recDuration, "duration", 0, "stop automatically after this long")
	recordCmd.Flags().StringVar(&recOutput, "output", "", "output path without extension")
	recordCmd.Flags().BoolVar(&recDebug, "debug", false, "serve the debug API while recording")
}

func runRecord(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.Get()

	logLevel := cfg.LogLevel
	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		logLevel = viper.GetString("log_level")
	}
	logger.Init(logLevel, true)

	b, err := x11.New()
	if err != nil {
		return fmt.Errorf("failed to connect to display server: %w", err)
	}
	defer b.Close()

	area, err := buildArea(cmd.Context(), b, cfg)
	if err != nil {
		return err
	}

	var provider recorder.AudioProvider
	if area.Audio.Enabled() {
		mixer, err := audio.NewMixer()
		if err != nil {
			if area.Audio.Required {
				return fmt.Errorf("audio required but unavailable: %w", err)
			}
			logger.WithComponent("record").Warn().Err(err).Msg("Audio unavailable, recording video only")
		} else {
			defer mixer.Close()
			provider = mixer
		}
	}

	sink := timeline.NewMemorySink(cfg.Debug.TimelineEvents)
	ctl := recorder.New(region.NewManager(b), recorder.Options{
		Audio:        provider,
		Sink:         sink,
		BitsPerPixel: cfg.Capture.BitsPerPixel(),
	})

	if recDebug || cfg.Debug.Enabled {
		srv := api.NewServer(ctl, sink, configMgr, b)
		go func() {
			if err := srv.Start(cfg.Debug.ListenAddr); err != nil {
				logger.WithComponent("record").Warn().Err(err).Msg("Debug API server stopped")
			}
		}()
	}

	ctx := cmd.Context()
	if err := ctl.Start(ctx, area, ""); err != nil {
		return err
	}
	fmt.Printf("Recording %s (%dx%d @ %d fps). Ctrl-C to stop.\n",
		area.DisplayID, area.Rect.Dx(), area.Rect.Dy(), area.FPS)

	waitForStop(ctx, ctl)

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	artifact, err := ctl.Stop(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to finalize recording: %w", err)
	}
	if artifact == nil {
		return fmt.Errorf("no recording was active at stop time (state %q)", ctl.State())
	}

	return writeArtifact(artifact)
}

// buildArea resolves the requested region against the display list
func buildArea(ctx context.Context, b *x11.Bridge, cfg config.Config) (region.Area, error) {
	displays, err := b.Displays(ctx)
	if err != nil {
		return region.Area{}, fmt.Errorf("failed to enumerate displays: %w", err)
	}
	var (
		bounds image.Rectangle
		scale  float64
		found  bool
	)
	for _, d := range displays {
		if d.ID == recDisplay {
			bounds, scale, found = d.Bounds, d.ScaleFactor, true
		}
	}
	if !found {
		return region.Area{}, fmt.Errorf("display %q not found", recDisplay)
	}

	rect := image.Rect(recX, recY, recX+recW, recY+recH)
	if recW <= 0 || recH <= 0 {
		rect = bounds
	}

	quality := recQuality
	if quality == "" {
		quality = cfg.Capture.Quality
	}
	fps := recFPS
	if fps <= 0 {
		fps = cfg.Capture.FPS
	}

	return region.Area{
		DisplayID:   recDisplay,
		Rect:        rect,
		ScaleFactor: scale,
		Quality:     encoding.ParseQualityTier(quality),
		FPS:         fps,
		Audio: region.AudioSettings{
			Microphone:       recMic || cfg.Audio.Microphone,
			MicrophoneDevice: firstNonEmpty(recMicDevice, cfg.Audio.MicrophoneDevice),
			DesktopAudio:     recDesktopAudio || cfg.Audio.DesktopAudio,
			Required:         recRequireAudio || cfg.Audio.Required,
		},
	}, nil
}

// waitForStop blocks until SIGINT, the optional duration, or context
// cancellation, handling pause and mark signals along the way.
func waitForStop(ctx context.Context, ctl *recorder.Controller) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	var deadline <-chan time.Time
	if recDuration > 0 {
		t := time.NewTimer(recDuration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				if ctl.State() == recorder.StatePaused {
					if err := ctl.Resume(ctx, "signal"); err != nil {
						logger.WithComponent("record").Warn().Err(err).Msg("Resume failed")
					} else {
						fmt.Println("Resumed.")
					}
				} else {
					if err := ctl.Pause(ctx, recorder.PauseManual, "signal"); err != nil {
						logger.WithComponent("record").Warn().Err(err).Msg("Pause failed")
					} else {
						fmt.Printf("Paused at %.1fs.\n", float64(ctl.Elapsed())/1000)
					}
				}
			case syscall.SIGUSR2:
				ctl.ToggleMark("")
				fmt.Printf("Mark toggled at %.1fs.\n", float64(ctl.Elapsed())/1000)
			default:
				return
			}
		}
	}
}

// writeArtifact persists the finished recording next to the requested
// output path.
func writeArtifact(artifact *recorder.Artifact) error {
	base := recOutput
	if base == "" {
		base = "clipforge-" + time.Now().Format("20060102-150405")
	}

	if artifact.FilePath != "" {
		fmt.Printf("Recording written by native capture: %s (%.1fs)\n",
			artifact.FilePath, float64(artifact.DurationMs)/1000)
	} else if artifact.Blob != nil {
		path := base + extensionFor(artifact.Blob.MIME)
		if err := os.WriteFile(path, artifact.Blob.Data, 0644); err != nil {
			return fmt.Errorf("failed to write recording: %w", err)
		}
		fmt.Printf("Recording written: %s (%.1fs)\n", path, float64(artifact.DurationMs)/1000)
	}

	if artifact.AudioBlob != nil {
		path := base + ".wav"
		if err := os.WriteFile(path, artifact.AudioBlob.Data, 0644); err != nil {
			return fmt.Errorf("failed to write audio track: %w", err)
		}
		fmt.Printf("Audio track written: %s (%s, offset %dms)\n",
			path, artifact.AudioConfig.BitrateTier, artifact.AudioOffsetMs)
	}

	for _, m := range artifact.Marks {
		note := m.Note
		if note == "" {
			note = "-"
		}
		fmt.Printf("Mark: %ds-%ds %s\n", m.Start, m.End, note)
	}
	return nil
}

func extensionFor(mime string) string {
	switch {
	case strings.HasPrefix(mime, "video/webm"):
		return ".webm"
	case mime == media.MIMEMotionJPEG:
		return ".mjpeg"
	default:
		return ".bin"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
