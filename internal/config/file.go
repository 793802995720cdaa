package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProvisionFile is the on-disk form of the provisioning settings:
//
//	urls:
//	  - postgresql://scott:tiger@/test?host=db1:5432&host=db2:5432
//	  - sqlite:///tmp/test.db
//	drivers:
//	  - pgxpool
//	  - postgresql+pgx?sslmode=disable
type ProvisionFile struct {
	URLs    []string `yaml:"urls"`
	Drivers []string `yaml:"drivers"`
}

// LoadProvisionFile reads and strictly decodes a YAML provisioning file.
func LoadProvisionFile(path string) (*ProvisionFile, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("provision file %s: unsupported extension %q", path, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provision file: %w", err)
	}

	var pf ProvisionFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse provision file %s: %w", path, err)
	}
	return &pf, nil
}
