package currency

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// StaticSource serves rates from a YAML file. It backs offline runs and tests,
// and acts as the last-resort fallback when both the HTTP source and the
// local cache are unavailable.
//
// File shape:
//
//	rates:
//	  USD: 40.25
//	  EUR: 43.80
//	ui: 6.07
type StaticSource struct {
	Rates map[string]float64 `yaml:"rates"`
	UI    float64            `yaml:"ui"`
}

// LoadStatic reads a StaticSource from a YAML file.
func LoadStatic(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "currency: read static rates %s", path)
	}

	var src StaticSource
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, eris.Wrapf(err, "currency: parse static rates %s", path)
	}
	if len(src.Rates) == 0 {
		return nil, eris.Errorf("currency: static rates %s has no rates", path)
	}
	return &src, nil
}

// FetchCurrencyRates returns a copy of the static table.
func (s *StaticSource) FetchCurrencyRates(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(s.Rates))
	for k, v := range s.Rates {
		out[k] = v
	}
	return out, nil
}

// FetchIndexedUnitRate returns the static UI rate.
func (s *StaticSource) FetchIndexedUnitRate(ctx context.Context) (float64, error) {
	if s.UI <= 0 {
		return 0, eris.New("currency: static rates file has no UI rate")
	}
	return s.UI, nil
}
