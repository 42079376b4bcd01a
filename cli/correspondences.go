package cli

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.viam.com/registration/registration"
)

// readCorrespondences parses one target index per line. Blank lines and lines starting with '#'
// are skipped; -1 marks a source point without a match.
func readCorrespondences(in io.Reader) (*tensor.Dense, error) {
	var indices []int64
	scanner := bufio.NewScanner(in)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNum)
		}
		indices = append(indices, idx)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return nil, errors.New("no correspondences found")
	}
	return registration.NewCorrespondences(indices), nil
}

func readCorrespondencesFile(path string) (*tensor.Dense, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	//nolint:errcheck
	defer f.Close()
	return readCorrespondences(f)
}
