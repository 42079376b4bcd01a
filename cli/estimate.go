package cli

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"go.viam.com/registration/logging"
	"go.viam.com/registration/pointcloud"
	"go.viam.com/registration/registration"
	"go.viam.com/registration/spatialmath"
)

// EstimateAction runs one registration step and prints the resulting transform and fit.
func EstimateAction(c *cli.Context) error {
	logger := newLogger(c)

	dtype, err := parseDtype(c.String(estimateFlagDtype))
	if err != nil {
		return err
	}
	device, err := pointcloud.ParseDevice(c.String(estimateFlagDevice))
	if err != nil {
		return err
	}
	var source, target *pointcloud.PointCloud
	var loaders errgroup.Group
	loaders.Go(func() (err error) {
		source, err = readPCDFile(c.Path(estimateFlagSource), dtype, device)
		return errors.Wrap(err, "could not read source cloud")
	})
	loaders.Go(func() (err error) {
		target, err = readPCDFile(c.Path(estimateFlagTarget), dtype, device)
		return errors.Wrap(err, "could not read target cloud")
	})
	if err := loaders.Wait(); err != nil {
		return err
	}
	logger.Debugw("loaded clouds", "source_points", source.Size(), "target_points", target.Size(),
		"source_attributes", source.AttrNames(), "target_attributes", target.AttrNames())

	correspondences, err := readCorrespondencesFile(c.Path(estimateFlagCorrespondences))
	if err != nil {
		return errors.Wrap(err, "could not read correspondences")
	}

	if k := c.Int(estimateFlagGradientNeighbors); k > 0 {
		if !target.HasNormals() || !target.HasColors() {
			return errors.New("estimating color gradients requires a target with normals and colors")
		}
		neighbors, err := pointcloud.NearestNeighbors(c.Context, target, k)
		if err != nil {
			return err
		}
		if err := pointcloud.EstimateColorGradients(target, neighbors); err != nil {
			return errors.Wrap(err, "could not estimate target color gradients")
		}
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	estimation, err := registration.NewFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	result, err := registration.Evaluate(estimation, source, target, correspondences)
	if err != nil {
		return errors.Wrapf(err, "%s estimation failed", estimation.Type())
	}
	printResult(c, estimation, result)

	if out := c.Path(estimateFlagOutput); out != "" {
		format, err := parsePCDType(c.String(estimateFlagOutputFormat))
		if err != nil {
			return err
		}
		transformed, err := source.Transform(result.Transformation)
		if err != nil {
			return err
		}
		if err := writePCDFile(out, transformed, format); err != nil {
			return errors.Wrap(err, "could not write transformed cloud")
		}
		infof(c.App.Writer, "Wrote transformed source cloud to %s", out)
	}
	return nil
}

// InfoAction prints the size, dtype and attributes of a point cloud file.
func InfoAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one point cloud file")
	}
	dtype, err := parseDtype(c.String(estimateFlagDtype))
	if err != nil {
		return err
	}
	cloud, err := readPCDFile(c.Args().First(), dtype, pointcloud.DefaultDevice)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "points:     %d", cloud.Size())
	printf(c.App.Writer, "dtype:      %v", cloud.Dtype())
	printf(c.App.Writer, "attributes: %v", cloud.AttrNames())
	centroid := cloud.Centroid()
	printf(c.App.Writer, "centroid:   (%.6g, %.6g, %.6g)", centroid.X, centroid.Y, centroid.Z)
	return nil
}

const rigidTolerance = 1e-6

func printResult(c *cli.Context, estimation registration.TransformationEstimation, result *registration.Result) {
	w := c.App.Writer
	if result.Inliers == 0 {
		warningf(w, "no valid correspondences, transform is the identity")
	}
	if !spatialmath.IsRigidTransformation(result.Transformation, rigidTolerance) {
		warningf(w, "transform is not rigid within %g", rigidTolerance)
	}
	printf(w, "method: %s", estimation.Type())
	printf(w, "%s", result)
	printf(w, "transformation:\n%v", mat.Formatted(result.Transformation, mat.Squeeze()))
}

func newLogger(c *cli.Context) logging.Logger {
	if c.Bool(debugFlag) {
		return logging.NewDebugLogger("registration")
	}
	return logging.NewLogger("registration")
}

func parseDtype(name string) (tensor.Dtype, error) {
	switch name {
	case "float32":
		return tensor.Float32, nil
	case "float64":
		return tensor.Float64, nil
	default:
		return tensor.Dtype{}, errors.Errorf("unsupported dtype %q, expected float32 or float64", name)
	}
}

// loadConfig reads the estimator config file, or builds one from the method flag when no file is
// given.
func loadConfig(c *cli.Context) (*registration.Config, error) {
	path := c.Path(estimateFlagConfig)
	if path == "" {
		return &registration.Config{Method: c.String(estimateFlagMethod)}, nil
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not read config")
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Wrapf(err, "could not parse config %s", path)
	}
	return registration.DecodeConfig(attrs)
}

func readPCDFile(path string, dtype tensor.Dtype, device pointcloud.Device) (*pointcloud.PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck
	defer f.Close()
	return pointcloud.ReadPCD(f, dtype, device)
}

func parsePCDType(name string) (pointcloud.PCDType, error) {
	switch name {
	case "ascii":
		return pointcloud.PCDAscii, nil
	case "binary":
		return pointcloud.PCDBinary, nil
	case "binary_compressed":
		return pointcloud.PCDCompressed, nil
	default:
		return 0, errors.Errorf("unsupported pcd format %q, expected ascii, binary or binary_compressed", name)
	}
}

func writePCDFile(path string, cloud *pointcloud.PointCloud, format pointcloud.PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return pointcloud.WritePCD(cloud, f, format)
}
