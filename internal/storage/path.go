package storage

import (
	"fmt"
	"path"
	"regexp"
)

var datasetNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildDatasetFilePath places one part of an attached dataset under a stable
// per-dataset prefix.
func BuildDatasetFilePath(datasetName string, sequence int) (string, error) {
	if err := ValidateDatasetName(datasetName); err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	return path.Join(
		"datasets",
		datasetName,
		fmt.Sprintf("part-%05d.parquet", sequence),
	), nil
}

// DatasetPrefix is the object-key prefix holding every part of a dataset.
func DatasetPrefix(datasetName string) (string, error) {
	if err := ValidateDatasetName(datasetName); err != nil {
		return "", err
	}
	return path.Join("datasets", datasetName) + "/", nil
}

func ValidateDatasetName(name string) error {
	if !datasetNamePattern.MatchString(name) {
		return fmt.Errorf("invalid dataset name: %q", name)
	}
	return nil
}
