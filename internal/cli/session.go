package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/deepwatch/internal/audio"
	"github.com/GriffinCanCode/deepwatch/internal/detect"
	"github.com/GriffinCanCode/deepwatch/internal/orchestrator"
	"github.com/GriffinCanCode/deepwatch/internal/screen"
)

// sessionFlags are shared by the video and voice commands.
type sessionFlags struct {
	mode       string
	duration   time.Duration
	background bool
	quiet      bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.mode, "mode", "m", string(detect.ModeLiveCall), "threshold set: live_call or web_surfing")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&f.background, "background", false, "mark the session as a background run")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "hide the progress bar")
}

func newVideoCommand(global *globalFlags) *cobra.Command {
	var flags sessionFlags
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Watch the screen for deepfake faces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := detect.ParseMode(flags.mode)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer rt.Close()

			capturer := screen.New(rt.log)
			defer capturer.Close()

			p := newProgress(cmd.ErrOrStderr(), "video", flags.duration, flags.quiet)
			defer p.finish()

			req := orchestrator.VideoRequest{Mode: mode, Background: flags.background, Duration: flags.duration}
			err = rt.manager.RunVideoDetection(cmd.Context(), req, capturer.Capture, func(u detect.VideoUpdate) {
				switch u := u.(type) {
				case detect.FaceClassification:
					p.verdict(u.String())
				case detect.ResultNotification:
					p.result(cmd.OutOrStdout(), u)
				}
			})
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newVoiceCommand(global *globalFlags) *cobra.Command {
	var (
		flags   sessionFlags
		capture time.Duration
	)
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Listen to call audio for deepfake voices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := detect.ParseMode(flags.mode)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context(), global)
			if err != nil {
				return err
			}
			defer rt.Close()

			src, err := openAudio(rt)
			if err != nil {
				return err
			}
			defer src.Close()

			p := newProgress(cmd.ErrOrStderr(), "voice", flags.duration, flags.quiet)
			defer p.finish()

			req := orchestrator.VoiceRequest{
				Mode:            mode,
				Background:      flags.background,
				Duration:        flags.duration,
				CaptureDuration: capture,
			}
			return rt.manager.RunVoiceSession(cmd.Context(), req, src, func(u detect.VoiceUpdate) {
				switch u := u.(type) {
				case detect.VoiceClassification:
					p.verdict(u.String())
				case detect.ResultNotification:
					p.result(cmd.OutOrStdout(), u)
				}
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&capture, "capture", orchestrator.DefaultCaptureDuration, "audio read length per capture")
	return cmd
}

func openAudio(rt *runtime) (*audio.DeviceSource, error) {
	return audio.OpenDevice(audio.DeviceConfig{
		SampleRate:      rt.cfg.SampleRate,
		Channels:        rt.cfg.CaptureChannels,
		SystemAudio:     rt.cfg.CaptureSystemAudio,
		ExcludedDevices: rt.cfg.ExcludedAudioDevices,
		Logger:          rt.log,
	})
}

// progress shows elapsed session time and the latest verdict. Without a
// duration the bar is an open-ended spinner.
type progress struct {
	pipeline string
	w        io.Writer
	bar      *progressbar.ProgressBar
	start    time.Time
	stop     chan struct{}
	done     chan struct{}
}

func newProgress(w io.Writer, pipeline string, d time.Duration, quiet bool) *progress {
	if quiet {
		w = io.Discard
	}
	total := int64(-1)
	if d > 0 {
		total = int64(d.Seconds())
	}
	p := &progress{
		pipeline: pipeline,
		w:        w,
		bar: progressbar.NewOptions64(total,
			progressbar.OptionSetDescription(pipeline+": analyzing"),
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetElapsedTime(true),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionThrottle(100*time.Millisecond),
		),
		start: time.Now(),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.tick()
	return p
}

func (p *progress) tick() {
	defer close(p.done)
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			_ = p.bar.Set64(int64(time.Since(p.start).Seconds()))
		}
	}
}

func (p *progress) verdict(v string) {
	p.bar.Describe(fmt.Sprintf("%s: %s", p.pipeline, v))
}

// result prints artifact paths below the bar.
func (p *progress) result(w io.Writer, r detect.ResultNotification) {
	if r.IsLast {
		_ = p.bar.Clear()
		fmt.Fprintf(w, "session summary: %s\n", r.ResultPath)
		return
	}
	p.bar.Describe(fmt.Sprintf("%s: saved %s", p.pipeline, r.ResultPath))
}

func (p *progress) finish() {
	close(p.stop)
	<-p.done
	_ = p.bar.Finish()
	fmt.Fprintln(p.w)
}
