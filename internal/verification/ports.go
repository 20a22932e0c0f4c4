package verification

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Extraction is the structured result of the document extraction
// collaborator.
type Extraction struct {
	Fields     ExtractedFields
	Confidence float64
}

// Extractor is the external document-extraction service. The extraction
// algorithm itself is out of scope; we consume fields plus a confidence
// score.
type Extractor interface {
	Extract(ctx context.Context, document []byte) (Extraction, error)
}

// RegistryRecord is the authoritative registry's view of a legal entity.
type RegistryRecord struct {
	OfficialName string
	Active       bool
}

// RegistryLookup is the external authoritative-source lookup used for
// cross-checking extracted fields.
type RegistryLookup interface {
	Lookup(ctx context.Context, registryIdentifier, countryCode string) (RegistryRecord, error)
}
