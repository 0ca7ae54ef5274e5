package services

import (
	"encoding/json"
	"fmt"
	"os"

	"appsentry/internal/domain/models"
)

// LoadCertWhitelist reads a JSON certificate whitelist file. An empty
// path yields an empty whitelist; every app then scores zero on the
// certificate match weight.
func LoadCertWhitelist(path string) ([]models.CertWhitelistEntry, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cert whitelist: %w", err)
	}

	var entries []models.CertWhitelistEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse cert whitelist: %w", err)
	}

	for i, e := range entries {
		if e.PackageName == "" {
			return nil, fmt.Errorf("cert whitelist entry %d: package_name is required", i)
		}
	}

	return entries, nil
}
