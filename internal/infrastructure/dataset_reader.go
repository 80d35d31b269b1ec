package infrastructure

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"h2o-proposal-system/internal/domain"
)

var ErrInvalidFileFormat = errors.New("invalid file format")

// provenCaseFile is the on-disk layout of a proven-case dataset.
type provenCaseFile struct {
	Version int                 `yaml:"version"`
	Cases   []domain.ProvenCase `yaml:"cases"`
}

type DatasetReader struct {
	logger *zap.Logger
}

func NewDatasetReader(logger *zap.Logger) *DatasetReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetReader{logger: logger}
}

// ReadProvenCases parses a YAML dataset. Cases with an empty id, an inverted
// flow range or an empty treatment train are skipped with a warning.
func (r *DatasetReader) ReadProvenCases(content []byte) ([]domain.ProvenCase, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, ErrInvalidFileFormat
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var file provenCaseFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFileFormat, err)
	}
	if len(file.Cases) == 0 {
		return nil, fmt.Errorf("%w: no cases", ErrInvalidFileFormat)
	}

	cases := make([]domain.ProvenCase, 0, len(file.Cases))
	seen := make(map[string]struct{}, len(file.Cases))
	for _, c := range file.Cases {
		c.ID = strings.TrimSpace(c.ID)
		switch {
		case c.ID == "":
			r.logger.Warn("Skipping proven case without id", zap.String("name", c.Name))
			continue
		case c.FlowRange.Min < 0 || c.FlowRange.Max < c.FlowRange.Min:
			r.logger.Warn("Skipping proven case with invalid flow range",
				zap.String("id", c.ID),
				zap.Float64("min", c.FlowRange.Min),
				zap.Float64("max", c.FlowRange.Max))
			continue
		case len(c.TreatmentTrain) == 0:
			r.logger.Warn("Skipping proven case without treatment train", zap.String("id", c.ID))
			continue
		}
		if _, dup := seen[c.ID]; dup {
			r.logger.Warn("Skipping duplicate proven case", zap.String("id", c.ID))
			continue
		}
		seen[c.ID] = struct{}{}
		cases = append(cases, c)
	}

	r.logger.Debug("Proven cases loaded", zap.Int("count", len(cases)), zap.Int("version", file.Version))
	return cases, nil
}

// ReadProvenCasesFromFile reads a dataset from disk.
func (r *DatasetReader) ReadProvenCasesFromFile(filename string) ([]domain.ProvenCase, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return r.ReadProvenCases(content)
}
