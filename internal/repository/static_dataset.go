package repository

import (
	_ "embed"
	"fmt"

	"go.uber.org/zap"

	"h2o-proposal-system/internal/domain"
	"h2o-proposal-system/internal/infrastructure"
)

//go:embed data/proven_cases.yaml
var builtinDataset []byte

// BuiltinProvenCases parses the dataset shipped with the binary.
func BuiltinProvenCases(logger *zap.Logger) ([]domain.ProvenCase, error) {
	cases, err := infrastructure.NewDatasetReader(logger).ReadProvenCases(builtinDataset)
	if err != nil {
		return nil, fmt.Errorf("failed to read builtin proven cases: %w", err)
	}
	return cases, nil
}

// LoadProvenCases reads the dataset at path, or the builtin one when path is empty.
func LoadProvenCases(path string, logger *zap.Logger) ([]domain.ProvenCase, error) {
	if path == "" {
		return BuiltinProvenCases(logger)
	}
	cases, err := infrastructure.NewDatasetReader(logger).ReadProvenCasesFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proven cases from %s: %w", path, err)
	}
	return cases, nil
}
