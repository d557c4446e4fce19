package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cnn "github.com/LdDl/cnn-go"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	configPath = flag.String("config", "", "Optional YAML file applied on top of the reference configuration")
	synthetic  = flag.Bool("synthetic", false, "Train on generated windows instead of files in data directory")
	epochs     = flag.Int("epochs", -1, "Override number of epochs when >= 0")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg := cnn.DefaultConfig()
	if *configPath != "" {
		cfg = *must.M1(cnn.LoadConfig(*configPath))
	}
	if *synthetic {
		cfg.Data.Source = cnn.DataSourceSynthetic
	}
	if *epochs >= 0 {
		cfg.Train.Epochs = *epochs
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	/* Seed every random stream before building anything */
	rs := cnn.SeedEverything(cfg.Train.Seed)
	klog.Infof("seed=%d source=%s", cfg.Train.Seed, cfg.Data.Source)

	/* Prepare train, validation and test windows */
	splits := must.M1(cnn.LoadSplits(cfg.Data, cfg.Model, rs))

	/* Train, evaluate and save */
	ckpt := must.M1(cnn.Run(ctx, cfg, splits, rs))
	fmt.Printf("Test Accuracy: %.4f\n", ckpt.TestAccuracy)
}
