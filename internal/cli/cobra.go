package cli

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"pan360/internal/config"
	"pan360/internal/pipeline"
	"pan360/internal/server"
	"pan360/internal/stitch"
	"pan360/internal/storage"
	"pan360/internal/tasks"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "pan360",
		Short: "pan360 assembles panoramic mosaics from rotating camera rigs",
		Long: `pan360 stitches frame sequences captured by a motorized rotating camera
into seamless cylindrical mosaics, using the rig bearings recorded with
each frame or pure feature matching when no bearings are available.`,
	}

	rootCmd.AddCommand(newStitchCmd(root))
	rootCmd.AddCommand(newPreviewCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newStrategiesCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newStitchCmd(root *Root) *cobra.Command {
	var (
		algorithm      string
		output         string
		hfov           float64
		blendWidth     int
		totalAngle     float64
		angleIncrement float64
		noFineTuning   bool
		noLoopClosure  bool
		debugPlacement bool
		detector       string
		matcher        string
		autoMode       string
		preview        bool
	)

	cmd := &cobra.Command{
		Use:   "stitch <input_directory> [output_path]",
		Short: "Assemble a mosaic from a directory of captured frames",
		Long: `Stitch a session directory of frames into a single mosaic.

Frames named frame_angle_NNN.jpg carry their rig bearing in the filename;
for unnamed frames use --angle-increment to synthesize bearings, or the
manual/opencv_auto algorithms which need no bearings at all.

Examples:
  pan360 stitch /captures/session-042/
  pan360 stitch /captures/sky/ mosaic.jpg --algorithm simple_angle --hfov 62.5
  pan360 stitch /captures/partial/ --total-angle 180 --no-loop-closure
  pan360 stitch /captures/handheld/ --algorithm manual`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			if len(args) > 1 {
				output = args[1]
			}
			if output == "" {
				base := filepath.Base(filepath.Clean(input))
				output = filepath.Join(root.cfg.Watch.OutputDir, base+".jpg")
			}

			options := map[string]any{"source": "cli", "preview": preview}
			if algorithm != "" {
				if _, err := stitch.ParseKind(algorithm); err != nil {
					return err
				}
				options["algorithm"] = algorithm
			}
			if hfov > 0 {
				options["hfov"] = hfov
			}
			if blendWidth >= 0 {
				options["blendWidth"] = blendWidth
			}
			if totalAngle > 0 {
				options["totalAngle"] = totalAngle
			}
			if angleIncrement > 0 {
				options["angleIncrement"] = angleIncrement
			}
			if cmd.Flags().Changed("no-fine-tuning") {
				options["fineTuning"] = !noFineTuning
			}
			if cmd.Flags().Changed("no-loop-closure") {
				options["loopClosure"] = !noLoopClosure
			}
			if debugPlacement {
				options["debugPlacement"] = true
			}
			if detector != "" {
				options["detector"] = detector
			}
			if matcher != "" {
				options["matcher"] = matcher
			}
			if autoMode != "" {
				options["autoMode"] = autoMode
			}

			job := pipeline.Job{
				ID:        newID("stitch"),
				Type:      pipeline.JobStitch,
				InputPath: input,
				Output:    output,
				Options:   options,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "stitching algorithm (simple_angle|sensor_aided|opencv_auto|manual), config default if empty")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output mosaic path")
	cmd.Flags().Float64Var(&hfov, "hfov", 0, "camera horizontal field of view in degrees")
	cmd.Flags().IntVar(&blendWidth, "blend-width", -1, "feathered blend width in pixels, 0 disables blending")
	cmd.Flags().Float64Var(&totalAngle, "total-angle", 0, "total sweep angle in degrees, 360 wraps the canvas")
	cmd.Flags().Float64Var(&angleIncrement, "angle-increment", 0, "bearing step for frames without angle filenames")
	cmd.Flags().BoolVar(&noFineTuning, "no-fine-tuning", false, "place frames at predicted offsets without overlap matching")
	cmd.Flags().BoolVar(&noLoopClosure, "no-loop-closure", false, "skip loop closure error redistribution")
	cmd.Flags().BoolVar(&debugPlacement, "debug-placement", false, "hard-place frames without blending to inspect seams")
	cmd.Flags().StringVar(&detector, "detector", "", "feature detector (orb|akaze|sift)")
	cmd.Flags().StringVar(&matcher, "matcher", "", "feature matcher (bf|flann)")
	cmd.Flags().StringVar(&autoMode, "auto-mode", "", "opencv_auto stitch mode (panorama|scans)")
	cmd.Flags().BoolVar(&preview, "preview", false, "also write a downscaled preview image")

	return cmd
}

func newPreviewCmd(root *Root) *cobra.Command {
	var (
		output   string
		maxWidth uint
	)

	cmd := &cobra.Command{
		Use:   "preview <mosaic_path>",
		Short: "Write a downscaled preview of an existing mosaic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options := map[string]any{"source": "cli"}
			if maxWidth > 0 {
				options["maxWidth"] = float64(maxWidth)
			}
			job := pipeline.Job{
				ID:        newID("prev"),
				Type:      pipeline.JobPreview,
				InputPath: args[0],
				Output:    output,
				Options:   options,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "preview path (default <mosaic>_preview.jpg)")
	cmd.Flags().UintVar(&maxWidth, "max-width", 0, "maximum preview width in pixels")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP stitching server",
		Long: `Start an HTTP server accepting frame uploads and exposing job status,
mosaic downloads and live result streams over SSE and websockets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg.Server
			if addr != "" {
				cfg.Addr = addr
			}
			srv := server.New(cfg, root.log, root.pipeline, root.store)
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (host:port), config default if empty")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		paths  []string
		marker string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch capture directories and stitch completed sessions",
		Long: `Monitor capture directories for finished rig sessions. A session is
considered complete when its marker file appears; each completed session
is stitched with the configured defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(paths) == 0 {
				paths = root.cfg.Watch.Paths
			}
			if len(paths) == 0 {
				return fmt.Errorf("no watch paths configured")
			}
			if marker == "" {
				marker = root.cfg.Watch.MarkerFile
			}

			handler := func(dir string) {
				base := filepath.Base(filepath.Clean(dir))
				job := pipeline.Job{
					ID:        newID("watch"),
					Type:      pipeline.JobStitch,
					InputPath: dir,
					Output:    filepath.Join(root.cfg.Watch.OutputDir, base+".jpg"),
					Options:   map[string]any{"source": "watcher", "preview": true},
				}
				if err := root.enqueue(context.Background(), job); err != nil {
					root.log.Error("failed to queue session", "dir", dir, "error", err)
				}
			}

			watcher, err := tasks.NewSessionWatcher(paths, marker, handler, root.log)
			if err != nil {
				return err
			}
			return watcher.Run(cmd.Context())
		},
	}

	cmd.Flags().StringSliceVar(&paths, "path", nil, "capture directories to watch, config default if empty")
	cmd.Flags().StringVar(&marker, "marker", "", "session completion marker filename")

	return cmd
}

func newStrategiesCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List available stitching algorithms",
		Run: func(cmd *cobra.Command, args []string) {
			for _, kind := range stitch.Kinds() {
				cmd.Printf("%-14s %s\n", kind, stitch.Describe(kind))
			}
		},
	}
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := root.cfg
			cmd.Printf("Server Address:   %s\n", cfg.Server.Addr)
			cmd.Printf("Upload Dir:       %s\n", cfg.Server.UploadDir)
			cmd.Printf("Results Dir:      %s\n", cfg.Server.ResultsDir)
			cmd.Printf("Database Path:    %s\n", cfg.Server.DatabasePath)
			cmd.Printf("Parallel Jobs:    %d\n", cfg.Processing.ParallelJobs)
			cmd.Printf("Queue Size:       %d\n", cfg.Processing.QueueSize)
			cmd.Printf("Algorithm:        %s\n", cfg.Stitch.Algorithm)
			cmd.Printf("HFOV:             %.1f deg\n", cfg.Stitch.HFOVDegrees)
			cmd.Printf("Blend Width:      %d px\n", cfg.Stitch.BlendWidth)
			cmd.Printf("Total Angle:      %.1f deg\n", cfg.Stitch.TotalAngle)
			cmd.Printf("Fine Tuning:      %t\n", cfg.Stitch.FineTuning)
			cmd.Printf("Loop Closure:     %t\n", cfg.Stitch.LoopClosure)
			cmd.Printf("Detector:         %s\n", cfg.Stitch.Detector)
			cmd.Printf("Matcher:          %s\n", cfg.Stitch.Matcher)
			cmd.Printf("Log Level:        %s\n", cfg.Logging.Level)
			cmd.Printf("Log Format:       %s\n", cfg.Logging.Format)
		},
	}

	cmd.AddCommand(showCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("pan360 v1.0.0")
		},
	}
}
