package workflow

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type batchFile struct {
	Analyses []yaml.Node `yaml:"analyses"`
}

// LoadBatch reads analysis configs from a YAML document of the form
// `analyses: [...]`. Fields an entry omits keep their DefaultConfig value.
func LoadBatch(r io.Reader) ([]AnalysisConfig, error) {
	var doc batchFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: batch file is empty", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: parse batch file: %v", ErrInvalidConfig, err)
	}
	if len(doc.Analyses) == 0 {
		return nil, fmt.Errorf("%w: batch file has no analyses", ErrInvalidConfig)
	}

	out := make([]AnalysisConfig, 0, len(doc.Analyses))
	for i := range doc.Analyses {
		cfg := DefaultConfig("")
		if err := doc.Analyses[i].Decode(&cfg); err != nil {
			return nil, fmt.Errorf("%w: analysis %d: %v", ErrInvalidConfig, i+1, err)
		}
		if cfg.Name == "" {
			cfg.Name = fmt.Sprintf("analysis_%d", i+1)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// LoadBatchFile opens path and calls LoadBatch.
func LoadBatchFile(path string) ([]AnalysisConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadBatch(f)
}
