package external

import (
	"context"
	"encoding/json"

	"membergate/internal/verification"
	"membergate/pkg/platform/retry"
)

// DevExtractor is a local stand-in used when no extractor URL is configured.
// It treats the submitted document as a JSON encoding of the extracted fields,
// which lets the full pipeline run end to end without the real service.
type DevExtractor struct{}

func (DevExtractor) Extract(_ context.Context, document []byte) (verification.Extraction, error) {
	var fields struct {
		LegalName      string `json:"legal_name"`
		RegistryNumber string `json:"registry_number"`
		CountryCode    string `json:"country_code"`
	}
	if err := json.Unmarshal(document, &fields); err != nil {
		return verification.Extraction{}, retry.Permanent(err)
	}
	return verification.Extraction{
		Fields: verification.ExtractedFields{
			LegalName:      fields.LegalName,
			RegistryNumber: fields.RegistryNumber,
			CountryCode:    fields.CountryCode,
		},
		Confidence: 0.99,
	}, nil
}

// DevRegistry is a local stand-in where every identifier resolves to an
// active entity. Seed Names to make specific lookups return a real official
// name; everything else echoes the identifier. Real deployments must
// configure REGISTRY_URL.
type DevRegistry struct {
	// Names maps canonical "CC identifier" keys to official names. Lookups
	// for unknown keys still succeed with the identifier as the name.
	Names map[string]string
}

func (r DevRegistry) Lookup(_ context.Context, registryIdentifier, countryCode string) (verification.RegistryRecord, error) {
	name := registryIdentifier
	if n, ok := r.Names[countryCode+" "+registryIdentifier]; ok {
		name = n
	}
	return verification.RegistryRecord{OfficialName: name, Active: true}, nil
}
