package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Contract names accepted by ValidateContract.
const (
	ReportContract   = "attribution-report"
	DocumentContract = "attribution-document"
)

//go:embed contracts/*.schema.json
var contracts embed.FS

// ContractNames lists the embedded contracts.
func ContractNames() []string {
	return []string{ReportContract, DocumentContract}
}

// Contract returns the raw bytes of an embedded JSON schema.
func Contract(name string) ([]byte, error) {
	data, err := contracts.ReadFile("contracts/" + name + ".schema.json")
	if err != nil {
		return nil, fmt.Errorf("unknown contract %q", name)
	}
	return data, nil
}

// ValidateAgainstSchema validates an arbitrary payload against a JSON schema file.
func ValidateAgainstSchema(schemaPath string, payload interface{}) error {
	schemaBytes, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema %s: %w", schemaPath, err)
	}
	return validateBytes(schemaBytes, payload)
}

// ValidateContract validates payload against one of the embedded contracts.
func ValidateContract(name string, payload interface{}) error {
	schemaBytes, err := Contract(name)
	if err != nil {
		return err
	}
	return validateBytes(schemaBytes, payload)
}

// ValidateReport validates an attribution report against its contract.
func ValidateReport(report AttributionReport) error {
	return ValidateContract(ReportContract, report)
}

func validateBytes(schemaBytes []byte, payload interface{}) error {
	var payloadLoader gojsonschema.JSONLoader
	switch v := payload.(type) {
	case json.RawMessage:
		payloadLoader = gojsonschema.NewBytesLoader(v)
	default:
		payloadBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payloadLoader = gojsonschema.NewBytesLoader(payloadBytes)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaBytes), payloadLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if result.Valid() {
		return nil
	}

	errors := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		errors = append(errors, issue.String())
	}
	return fmt.Errorf("payload failed schema validation: %s", strings.Join(errors, "; "))
}
