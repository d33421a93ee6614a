package catalog

import (
	_ "embed"

	"github.com/pitabwire/catalogboard/internal/config"
	"github.com/pitabwire/catalogboard/internal/openapi"
)

// Contract is the catalog service's published OpenAPI document. It is
// indexed when no spec file is configured.
//
//go:embed contract.yaml
var Contract []byte

// LoadContract indexes the catalog's operations into idx, reading
// cfg.SpecFile when set and the built-in contract otherwise.
func LoadContract(idx *openapi.Index, cfg config.CatalogConfig) error {
	src := openapi.SpecSource{ServiceID: cfg.ServiceID, BaseURL: cfg.BaseURL, SpecPath: cfg.SpecFile}
	if cfg.SpecFile != "" {
		return idx.Load([]openapi.SpecSource{src})
	}
	return idx.LoadData(src, Contract)
}
