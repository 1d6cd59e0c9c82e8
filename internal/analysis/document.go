// Package analysis loads session analysis documents: the collected analyzer
// outputs for one session, as written by the analyzer pipeline in JSON or YAML.
package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
)

// Format is the serialization of an analysis document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat infers the document format from a file extension.
// Anything that is not .yaml/.yml is treated as JSON.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// IsDocumentPath reports whether path has an extension analysis documents use.
func IsDocumentPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Document is one session's analyzer output.
type Document struct {
	SessionID  string                `json:"session_id" yaml:"session_id"`
	AnalyzedAt time.Time             `json:"analyzed_at,omitempty" yaml:"analyzed_at,omitempty"`
	Project    string                `json:"project,omitempty" yaml:"project,omitempty"`
	Transcript consensus.Transcript  `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	Agents     map[string]AgentEntry `json:"agents" yaml:"agents"`
}

// AgentEntry is one analyzer's raw result. Pointer fields distinguish
// "absent" from zero so absent values can take their neutral defaults.
type AgentEntry struct {
	DQScore    *DQEntry               `json:"dq_score,omitempty" yaml:"dq_score,omitempty"`
	Confidence *float64               `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty" yaml:"data,omitempty"`
}

// DQEntry is the raw DQ score of an agent.
type DQEntry struct {
	Validity    *float64 `json:"validity,omitempty" yaml:"validity,omitempty"`
	Specificity *float64 `json:"specificity,omitempty" yaml:"specificity,omitempty"`
	Correctness *float64 `json:"correctness,omitempty" yaml:"correctness,omitempty"`
}

// Decode parses a document. Structural mismatches (agents not a mapping,
// data not a mapping, numbers given as strings) are contract violations and
// wrap consensus.ErrInvalidInput.
func Decode(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: parsing yaml document: %v", consensus.ErrInvalidInput, err)
		}
	case FormatJSON, "":
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: parsing json document: %v", consensus.ErrInvalidInput, err)
		}
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadFile reads and decodes the document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading analysis document: %w", err)
	}
	doc, err := Decode(data, DetectFormat(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks the parts of the document the engine cannot default.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", consensus.ErrInvalidInput)
	}
	for name := range d.Agents {
		if _, err := consensus.ParseAgentKind(name); err != nil {
			return err
		}
	}
	return nil
}

// AgentNames returns the agent names present in the document, sorted.
func (d *Document) AgentNames() []string {
	names := make([]string, 0, len(d.Agents))
	for name := range d.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Input converts the document into engine input.
func (d *Document) Input() (map[consensus.AgentKind]consensus.AgentResult, consensus.Transcript, error) {
	transcript := d.Transcript
	if transcript.SessionID == "" {
		transcript.SessionID = d.SessionID
	}

	results := make(map[consensus.AgentKind]consensus.AgentResult, len(d.Agents))
	for _, name := range d.AgentNames() {
		kind, err := consensus.ParseAgentKind(name)
		if err != nil {
			return nil, transcript, err
		}
		if _, dup := results[kind]; dup {
			return nil, transcript, fmt.Errorf("%w: agent %q listed twice", consensus.ErrInvalidInput, kind)
		}

		entry := d.Agents[name]
		payload, err := buildPayload(kind, entry.Data)
		if err != nil {
			return nil, transcript, err
		}
		results[kind] = consensus.AgentResult{
			DQ:         entry.dq(),
			Confidence: orNeutral(entry.Confidence),
			Payload:    payload,
		}
	}
	return results, transcript, nil
}

func (e AgentEntry) dq() consensus.DQScore {
	if e.DQScore == nil {
		return consensus.NeutralDQ()
	}
	return consensus.DQScore{
		Validity:    orNeutral(e.DQScore.Validity),
		Specificity: orNeutral(e.DQScore.Specificity),
		Correctness: orNeutral(e.DQScore.Correctness),
	}
}

func orNeutral(v *float64) float64 {
	if v == nil {
		return consensus.DefaultConfig().Neutral
	}
	return *v
}
