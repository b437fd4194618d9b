package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/afilmory/builder/builder"
	"github.com/afilmory/builder/common/config"
	"github.com/afilmory/builder/common/logging"
	"github.com/afilmory/builder/common/rcontext"
	"github.com/afilmory/builder/common/version"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "builder.yaml", "The path to the configuration")
	singlePhoto := flag.String("single-photo", "", "Process one photo and print its manifest item as JSON (cluster worker mode)")
	force := flag.Bool("force", false, "Reprocess every photo, ignoring the skip policy")
	forceManifest := flag.Bool("force-manifest", false, "Recompute metadata but reuse cached thumbnails")
	forceThumbnails := flag.Bool("force-thumbnails", false, "Regenerate thumbnails but reuse cached metadata")
	flag.Parse()

	// Override config path with env for Docker users
	if configEnv := os.Getenv("BUILDER_CONFIG"); configEnv != "" {
		configPath = &configEnv
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatal("Could not load config: ", err)
	}
	cfg.Options.ForceMode = cfg.Options.ForceMode || *force
	cfg.Options.ForceManifest = cfg.Options.ForceManifest || *forceManifest
	cfg.Options.ForceThumbnails = cfg.Options.ForceThumbnails || *forceThumbnails

	if err = logging.Setup(cfg.Logging.Directory, cfg.Logging.Colors, cfg.Logging.JsonLogs, cfg.Logging.Level); err != nil {
		logrus.Fatal("Could not set up logging: ", err)
	}
	if *singlePhoto != "" {
		// stdout carries the item JSON back to the parent process
		logrus.SetOutput(os.Stderr)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := rcontext.Initial(cfg).WithContext(signalCtx)

	b, err := builder.New(cfg, *configPath)
	if err != nil {
		ctx.Log.Fatal(err)
	}

	if *singlePhoto != "" {
		item, perr := b.ProcessOne(ctx, *singlePhoto)
		if perr != nil {
			ctx.Log.Fatal(perr)
		}
		if err = json.NewEncoder(os.Stdout).Encode(item); err != nil {
			ctx.Log.Fatal(err)
		}
		return
	}

	ctx.Log.Info("Starting build (version ", version.Version, ")")
	if _, err = b.Run(ctx); err != nil {
		ctx.Log.Error("Build failed: ", err)
		os.Exit(1)
	}
}
