package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gocv.io/x/gocv"

	"github.com/genert/posenet"
)

func main() {
	os.Exit(run())
}

func run() int {
	settingsFile := flag.String("settings", "", "Path to application's settings (JSON or YAML)")
	model := flag.Int("model", 0, "Model variant: 50, 75, 100 or 101")
	size := flag.String("size", "", "Width and height of texture, e.g. 640x480")
	spoutName := flag.String("spout_name", "", "Name of the texture sender to receive from")
	scaleFactor := flag.Float64("scale_factor", 0, "Input scale factor")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	/* Read settings */
	settings := posenet.DefaultSettings()
	if *settingsFile != "" {
		var err error
		if settings, err = posenet.NewSettings(*settingsFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}
	if *model != 0 {
		settings.NeuralNetworkSettings.Model = *model
	}
	if *size != "" {
		width, height, err := posenet.ParseSize(*size)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		settings.Texture.Width, settings.Texture.Height = width, height
	}
	if *spoutName != "" {
		settings.Texture.SourceName = *spoutName
	}
	if *scaleFactor != 0 {
		settings.NeuralNetworkSettings.ScaleFactor = *scaleFactor
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger.Info("starting",
		"gocv", gocv.Version(),
		"opencv", gocv.OpenCVVersion(),
		"model", settings.NeuralNetworkSettings.Model,
		"scale_factor", settings.NeuralNetworkSettings.ScaleFactor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	directory := posenet.NewDirectory()
	publisher, err := posenet.NewPublisher(settings, directory, logger)
	if err != nil {
		logger.Error("can't start texture publisher", "err", err)
		return 1
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := publisher.Run(ctx); err != nil {
			logger.Error("texture publisher stopped", "err", err)
		}
	}()
	defer func() {
		stop()
		<-done
		publisher.Close()
	}()

	netModel, err := posenet.NewNetModel(settings.NeuralNetworkSettings)
	if err != nil {
		logger.Error("can't load model", "err", err)
		return 1
	}

	telemetry, err := posenet.NewUDPMessageSink(settings.Telemetry.Address())
	if err != nil {
		netModel.Close()
		logger.Error("can't open telemetry", "err", err)
		return 1
	}

	var displays posenet.MultiDisplay
	if settings.Display.ImshowEnable {
		logger.Info("press 'ESC' or close the window to stop")
		displays = append(displays, posenet.NewWindowDisplay("Spout Receiver", settings.Texture.Width, settings.Texture.Height))
	}
	if settings.MjpegSettings.Enable {
		displays = append(displays, posenet.NewMJPEGDisplay(settings.MjpegSettings.Port, logger))
	}
	if len(displays) == 0 {
		displays = append(displays, &posenet.HeadlessDisplay{})
	}

	app, err := posenet.NewApp(settings, posenet.Collaborators{
		Transport: directory,
		Model:     netModel,
		Decoder:   posenet.ArgmaxDecoder{},
		Drawer:    posenet.NewSkeletonDrawer(),
		Telemetry: telemetry,
		Display:   displays,
	}, logger)
	if err != nil {
		netModel.Close()
		telemetry.Close()
		displays.Close()
		logger.Error("can't create application", "err", err)
		return 1
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error("pipeline stopped", "err", err)
		return 1
	}

	logger.Info("shutting down")
	return 0
}
