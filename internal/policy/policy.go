// Package policy implements the access policy for sample submission and
// queries.
//
// The policy is backed by two externally editable files: an allow-list of
// sender addresses (one per line) and a saving toggle. Both are re-read on
// every check so operator edits take effect without a restart. Every failure
// mode fails closed: a missing or unreadable file denies access and disables
// saving, it never propagates an error into the request path.
package policy

import (
	"bufio"
	"os"
	"strings"
)

// savingEnabledValue is the exact trimmed toggle-file content that enables
// persistence. Anything else, including an empty or unreadable file, disables it.
const savingEnabledValue = "enabled"

// Policy decides whether a sender may submit or query data and whether
// persistence is currently enabled.
//
// Policy is safe for concurrent use: it holds no mutable state.
type Policy struct {
	allowListPath    string
	savingTogglePath string
}

// New creates a Policy backed by the given files.
func New(allowListPath, savingTogglePath string) *Policy {
	return &Policy{
		allowListPath:    allowListPath,
		savingTogglePath: savingTogglePath,
	}
}

// Allowed reports whether address is present verbatim in the allow-list.
// No normalization is applied; the line must match the address exactly.
func (p *Policy) Allowed(address string) bool {
	if address == "" {
		return false
	}
	for _, line := range p.readLines() {
		if line == address {
			return true
		}
	}
	return false
}

// SavingEnabled reports whether accepted reports should be persisted.
func (p *Policy) SavingEnabled() bool {
	data, err := os.ReadFile(p.savingTogglePath)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == savingEnabledValue
}

// Addresses returns the current allow-list in file order. An unreadable
// file yields an empty list.
func (p *Policy) Addresses() []string {
	return p.readLines()
}

// readLines reads the allow-list, trimming line endings and dropping blank
// lines. Read failures yield nil.
func (p *Policy) readLines() []string {
	f, err := os.Open(p.allowListPath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if scanner.Err() != nil {
		// Partial reads deny everything rather than authorize from a
		// truncated list.
		return nil
	}
	return lines
}
