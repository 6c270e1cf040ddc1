// Command guiderun runs a demonstration guide over a small Gaussian model.
//
// It builds an EasyGuide for a mean/scale estimation model, executes a number
// of guide passes (grouped joint sampling or MAP point estimates), and prints
// a summary of the learned parameter store. The model data and plate layout
// come from a YAML config file.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/easyguide/core"
	"github.com/sbl8/easyguide/dist"
	"github.com/sbl8/easyguide/guide"
	"github.com/sbl8/easyguide/runtime"
)

type config struct {
	// Data holds the observed values. When empty, Size standard normal
	// draws are synthesized.
	Data []float64 `yaml:"data"`
	// Size is the plate size; defaults to len(Data).
	Size int `yaml:"size"`
	// SubsampleSize enables plate subsampling when nonzero and smaller
	// than Size.
	SubsampleSize int `yaml:"subsample_size"`
	// Mode selects the guide body: "group" or "map".
	Mode string `yaml:"mode"`
}

func loadConfig(path string) (*config, error) {
	cfg := &config{Mode: "group"}
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	if cfg.Mode != "group" && cfg.Mode != "map" {
		return nil, errors.Errorf("unknown mode %q (want group or map)", cfg.Mode)
	}
	return cfg, nil
}

// meanModel is the demonstration program: a global location and scale with
// conditionally independent observations under one plate.
func meanModel(cfg *config) guide.Model {
	obs, err := core.FromSlice(cfg.Data, core.Shape{len(cfg.Data)})
	return func(ctx *runtime.Context, _ ...any) error {
		if err != nil {
			return err
		}
		loc, err := ctx.Sample("loc", dist.NewNormal(0, 10))
		if err != nil {
			return err
		}
		scale, err := ctx.Sample("scale", dist.NewLogNormal(0, 1))
		if err != nil {
			return err
		}
		p, err := ctx.NewPlate("data", cfg.Size, cfg.SubsampleSize, nil)
		if err != nil {
			return err
		}
		if err := p.Enter(ctx); err != nil {
			return err
		}
		defer p.Exit(ctx)
		y, err := core.IndexSelect(obs, 0, p.Indices())
		if err != nil {
			return err
		}
		_, err = ctx.Sample("y", dist.NewNormal(loc.Data[0], scale.Data[0]), runtime.WithObs(y))
		return err
	}
}

// groupGuide samples loc and scale jointly as one packed diagonal normal
// whose parameters live in the store.
func groupGuide(ctx *runtime.Context, g *guide.EasyGuide) error {
	grp, err := g.Group(ctx, "loc|scale")
	if err != nil {
		return err
	}
	n := grp.EventShape()[0]
	loc, err := ctx.Param("guide_loc", core.NewTensor(core.Shape{n}), dist.Real, 1)
	if err != nil {
		return err
	}
	scale, err := ctx.Param("guide_scale", core.Full(core.Shape{n}, 0.1), dist.Positive, 1)
	if err != nil {
		return err
	}
	_, _, err = grp.Sample(ctx, "packed", dist.NewDiagNormal(loc, scale), nil)
	return err
}

func run(cmd *cobra.Command, log *zap.Logger) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	steps, _ := cmd.Flags().GetInt("steps")
	seed, _ := cmd.Flags().GetUint64("seed")
	savePath, _ := cmd.Flags().GetString("save")

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Size == 0 {
		cfg.Size = len(cfg.Data)
	}
	if cfg.Size == 0 {
		cfg.Size = 100
	}

	ctx := runtime.NewContext(runtime.WithSeed(seed), runtime.WithLogger(log))
	if len(cfg.Data) == 0 {
		cfg.Data = make([]float64, cfg.Size)
		for i := range cfg.Data {
			cfg.Data[i] = ctx.RNG().NormFloat64()
		}
	}

	var body guide.GuideFn
	switch cfg.Mode {
	case "map":
		body = func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
			if _, err := g.MapEstimate(ctx, "loc"); err != nil {
				return err
			}
			_, err := g.MapEstimate(ctx, "scale")
			return err
		}
	default:
		body = func(g *guide.EasyGuide, ctx *runtime.Context, _ ...any) error {
			return groupGuide(ctx, g)
		}
	}

	g := guide.New(meanModel(cfg), body, guide.WithLogger(log))
	for i := 0; i < steps; i++ {
		if err := g.Run(ctx); err != nil {
			return errors.Wrapf(err, "guide pass %d", i)
		}
	}
	log.Info("guide passes complete",
		zap.Int("steps", steps),
		zap.String("mode", cfg.Mode),
		zap.Int("observations", cfg.Size))

	for _, name := range ctx.Store().Names() {
		v, err := ctx.Store().Get(name)
		if err != nil {
			return err
		}
		fmt.Printf("%-16s %s\n", name, v.Shape)
	}

	if savePath != "" {
		if err := ctx.Store().Save(savePath); err != nil {
			return errors.Wrap(err, "saving parameters")
		}
		log.Info("parameter store saved", zap.String("path", savePath))
	}
	return nil
}

func main() {
	var verbose bool
	root := &cobra.Command{
		Use:           "guiderun",
		Short:         "Run a demonstration guide and report its parameter store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := zap.NewNop()
			if verbose {
				var err error
				if log, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			defer log.Sync()
			return run(cmd, log)
		},
	}
	root.Flags().String("config", "", "Path to a YAML config file")
	root.Flags().Int("steps", 10, "Number of guide passes to run")
	root.Flags().Uint64("seed", 0, "Random seed")
	root.Flags().String("save", "", "Write the parameter store to this path")
	root.Flags().BoolVar(&verbose, "verbose", false, "Enable development logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
