package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "~/.config/pan360/config.yaml"
	defaultParallel   = 2
)

// Config holds user-editable settings for the stitching service.
type Config struct {
	Processing Processing `yaml:"processing"`
	Logging    Logging    `yaml:"logging"`
	Server     Server     `yaml:"server"`
	Stitch     Stitch     `yaml:"stitch"`
	Watch      Watch      `yaml:"watch"`
}

// Processing captures pipeline execution preferences.
type Processing struct {
	ParallelJobs int `yaml:"parallel_jobs"`
	QueueSize    int `yaml:"queue_size"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // text, json
	FileOutput bool   `yaml:"file_output"` // Enable file logging
	LogDir     string `yaml:"log_dir"`     // Directory for log files
}

// Server configures the REST job-queue server.
type Server struct {
	Addr         string `yaml:"addr"`
	UploadDir    string `yaml:"upload_dir"`
	ResultsDir   string `yaml:"results_dir"`
	DatabasePath string `yaml:"database_path"`
	MaxUploadMB  int64  `yaml:"max_upload_mb"`
	PreviewWidth uint   `yaml:"preview_width"`
}

// Stitch carries the default parameters handed to the assembly strategies.
type Stitch struct {
	Algorithm             string  `yaml:"algorithm"` // simple_angle, sensor_aided, opencv_auto, manual
	HFOVDegrees           float64 `yaml:"hfov"`
	BlendWidth            int     `yaml:"blend_width"`
	TotalAngle            float64 `yaml:"total_angle"`
	AngleIncrement        float64 `yaml:"angle_increment"` // 0 = derive from bearings
	FineTuning            bool    `yaml:"fine_tuning"`
	LoopClosure           bool    `yaml:"loop_closure"`
	OverlapSearchFraction float64 `yaml:"overlap_search"`
	MaxAdjustmentFraction float64 `yaml:"max_adjustment"`
	Detector              string  `yaml:"detector"` // orb, akaze, sift
	Matcher               string  `yaml:"matcher"`  // bf, flann
	MaxFeatures           int     `yaml:"max_features"`
	DebugPlacement        bool    `yaml:"debug_placement"` // hard overwrite, exposes seams
}

// Watch configures spool-directory monitoring for capture sessions.
type Watch struct {
	Paths      []string `yaml:"paths"`
	MarkerFile string   `yaml:"marker_file"`
	OutputDir  string   `yaml:"output_dir"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// The path comes from PAN360_CONFIG when set.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("PAN360_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", expanded, err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			QueueSize:    16,
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Server: Server{
			Addr:         ":8080",
			UploadDir:    "./uploads",
			ResultsDir:   "./results",
			DatabasePath: filepath.Join(os.TempDir(), "pan360.db"),
			MaxUploadMB:  256,
			PreviewWidth: 1600,
		},
		Stitch: Stitch{
			Algorithm:             "sensor_aided",
			HFOVDegrees:           54.0,
			BlendWidth:            100,
			TotalAngle:            360.0,
			FineTuning:            true,
			LoopClosure:           true,
			OverlapSearchFraction: 0.3,
			MaxAdjustmentFraction: 0.2,
			Detector:              "orb",
			Matcher:               "bf",
			MaxFeatures:           500,
		},
		Watch: Watch{
			MarkerFile: "session.done",
			OutputDir:  "./results",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
