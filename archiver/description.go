package archiver

import (
	"bytes"
	"fmt"
	"runtime"
	"strings"
	"text/template"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// maxDescriptionLength is the longest archive description a vault accepts.
const maxDescriptionLength = 1024

type descriptionModel struct {
	envRepo env.Repository
	logger  log.Logger
	os      string
	arch    string
}

type descriptionInventory struct {
	OS         string
	Arch       string
	Vault      string
	Source     string
	Timestamp  string
	Workflow   string
	CommitHash string
}

func newDescriptionModel(envRepo env.Repository, logger log.Logger) descriptionModel {
	return descriptionModel{
		envRepo: envRepo,
		logger:  logger,
		os:      runtime.GOOS,
		arch:    runtime.GOARCH,
	}
}

// Evaluate renders an archive description template, for example
// `{{ .Source }} from {{ getenv "HOSTNAME" }} at {{ .Timestamp }}`.
func (m descriptionModel) Evaluate(text, vault, source, timestamp string) (string, error) {
	funcMap := template.FuncMap{
		"getenv": m.envRepo.Get,
	}

	tmpl, err := template.New("").Funcs(funcMap).Parse(text)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	inventory := descriptionInventory{
		OS:         m.os,
		Arch:       m.arch,
		Vault:      vault,
		Source:     source,
		Timestamp:  timestamp,
		Workflow:   m.envRepo.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		CommitHash: m.envRepo.Get("BITRISE_GIT_COMMIT"),
	}
	m.warnIfUsedAndEmpty(text, "Workflow", inventory.Workflow)
	m.warnIfUsedAndEmpty(text, "CommitHash", inventory.CommitHash)

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, inventory); err != nil {
		return "", err
	}

	description := buf.String()
	if err := validateDescription(description); err != nil {
		return "", err
	}
	return description, nil
}

func (m descriptionModel) warnIfUsedAndEmpty(text, name, value string) {
	if value == "" && strings.Contains(text, "."+name) {
		m.logger.Warnf("Template variable .%s is not defined", name)
	}
}

// validateDescription checks the vault's rule: at most 1024 printable ASCII characters.
func validateDescription(description string) error {
	if len(description) > maxDescriptionLength {
		return fmt.Errorf("archive description is %d characters long, the limit is %d", len(description), maxDescriptionLength)
	}
	for i, r := range description {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("archive description contains a non printable ASCII character at position %d", i)
		}
	}
	return nil
}
