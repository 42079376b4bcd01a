// Package cli contains the command line interface for estimating registration transforms.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	debugFlag = "debug"

	estimateFlagSource            = "source"
	estimateFlagTarget            = "target"
	estimateFlagCorrespondences   = "correspondences"
	estimateFlagConfig            = "config"
	estimateFlagMethod            = "method"
	estimateFlagDtype             = "dtype"
	estimateFlagDevice            = "device"
	estimateFlagGradientNeighbors = "gradient-neighbors"
	estimateFlagOutput            = "output"
	estimateFlagOutputFormat      = "output-format"
)

var app = &cli.App{
	Name:            "registration",
	Usage:           "estimate rigid transforms between point clouds",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "estimate",
			Usage:     "compute one registration step from a source cloud, a target cloud and correspondences",
			UsageText: "registration estimate --source <pcd> --target <pcd> --correspondences <file> [other options]",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:     estimateFlagSource,
					Required: true,
					Usage:    "source point cloud `FILE` (pcd)",
				},
				&cli.PathFlag{
					Name:     estimateFlagTarget,
					Required: true,
					Usage:    "target point cloud `FILE` (pcd)",
				},
				&cli.PathFlag{
					Name:     estimateFlagCorrespondences,
					Required: true,
					Usage:    "`FILE` with one target index per source point, -1 for no match",
				},
				&cli.PathFlag{
					Name:    estimateFlagConfig,
					Aliases: []string{"c"},
					Usage:   "load estimator configuration from a JSON `FILE`",
				},
				&cli.StringFlag{
					Name:  estimateFlagMethod,
					Usage: "estimation method when no config is given: point_to_point, point_to_plane or colored_icp",
					Value: "point_to_point",
				},
				&cli.StringFlag{
					Name:  estimateFlagDtype,
					Usage: "element type of the loaded clouds: float32 or float64",
					Value: "float64",
				},
				&cli.StringFlag{
					Name:  estimateFlagDevice,
					Usage: "device the clouds are placed on",
					Value: "CPU:0",
				},
				&cli.IntFlag{
					Name:  estimateFlagGradientNeighbors,
					Usage: "estimate target color gradients from this many nearest neighbors, 0 to skip",
				},
				&cli.PathFlag{
					Name:  estimateFlagOutput,
					Usage: "write the transformed source cloud to `FILE` (pcd)",
				},
				&cli.StringFlag{
					Name:  estimateFlagOutputFormat,
					Usage: "pcd format of the output: ascii, binary or binary_compressed",
					Value: "binary",
				},
			},
			Action: EstimateAction,
		},
		{
			Name:      "info",
			Usage:     "print the attributes of a point cloud",
			UsageText: "registration info [--dtype float32] <pcd>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  estimateFlagDtype,
					Usage: "element type of the loaded cloud: float32 or float64",
					Value: "float64",
				},
			},
			Action: InfoAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
