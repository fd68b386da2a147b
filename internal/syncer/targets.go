package syncer

import (
	"encoding/json"
	"os"

	"git.home.luguber.info/inful/packsync/internal/foundation/errors"
	"git.home.luguber.info/inful/packsync/internal/registry"
)

// ParseTargets decodes a JSON array of {name,url,hash} objects and validates it.
func ParseTargets(data []byte) ([]Target, error) {
	var targets []Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "invalid target list").Build()
	}
	if err := ValidateTargets(targets); err != nil {
		return nil, err
	}
	return targets, nil
}

// LoadTargets reads and parses a target list file.
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is provided by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("target list not found").WithContext("path", path).Build()
		}
		return nil, errors.WrapError(err, errors.CategoryFileSystem, "failed to read target list").
			WithContext("path", path).
			Build()
	}
	return ParseTargets(data)
}

// ValidateTarget requires a valid name, a url and a hash.
func ValidateTarget(t Target) error {
	if err := registry.ValidateName(t.Name); err != nil {
		return err
	}
	if t.URL == "" || t.Hash == "" {
		return errors.ValidationError("target requires url and hash").
			WithContext("package", t.Name).
			Build()
	}
	return nil
}

// ValidateTargets checks every target and rejects repeated names. Passes do
// not call it; they fail bad entries one by one.
func ValidateTargets(targets []Target) error {
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if err := ValidateTarget(t); err != nil {
			return errors.WrapError(err, errors.CategoryValidation, "invalid target").
				WithContext("index", i).
				Build()
		}
		if _, dup := seen[t.Name]; dup {
			return duplicateTarget(t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

func duplicateTarget(name string) error {
	return errors.ValidationError("duplicate package in target list").
		WithContext("package", name).
		Build()
}
