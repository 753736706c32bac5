package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Residue files carry the unmatched set of one run into the next. The
// extension picks the encoding: .yaml and .yml use YAML, anything else JSON.

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func readResidue(path string) (*models.UnmatchedSet, error) {
	if err := validateFileExists(path, "residue file"); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	var set models.UnmatchedSet
	if isYAML(path) {
		err = yaml.Unmarshal(data, &set)
	} else {
		err = json.Unmarshal(data, &set)
	}
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "", "", err).
			WithSuggestion("Pass a file written by --residue-out")
	}

	set = set.Canonical()
	return &set, nil
}

func writeResidue(path string, set models.UnmatchedSet) error {
	set = set.Canonical()

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(set)
	} else {
		data, err = json.MarshalIndent(set, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode residue", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}
