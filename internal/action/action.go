// Package action models remote execution metadata: an Action describing
// a unit of work and the ActionResult describing its outcome. All types
// are immutable value objects once decoded.
package action

import "remoteclient/internal/digest"

// Property is one platform requirement, e.g. a container image
// declaration.
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Action references a Command and an input root by digest and declares
// the outputs the command is expected to produce.
type Action struct {
	CommandDigest     digest.Digest `json:"command_digest"`
	InputRootDigest   digest.Digest `json:"input_root_digest"`
	OutputFiles       []string      `json:"output_files,omitempty"`
	OutputDirectories []string      `json:"output_directories,omitempty"`
	Platform          []Property    `json:"platform,omitempty"`
}

// Payload is content carried either by reference or inline: exactly one
// of Digest and Raw is meaningful. A nil Digest marks the inline case.
type Payload struct {
	Digest *digest.Digest `json:"digest,omitempty"`
	Raw    []byte         `json:"raw,omitempty"`
}

// Inline reports whether the payload carries its bytes directly rather
// than referencing them by digest.
func (p Payload) Inline() bool {
	return p.Digest == nil
}

// OutputFile is one file produced by an executed action.
type OutputFile struct {
	Path         string  `json:"path"`
	Content      Payload `json:"content"`
	IsExecutable bool    `json:"is_executable,omitempty"`
}

// OutputDirectory is one directory produced by an executed action,
// described by the digest of a Tree object.
type OutputDirectory struct {
	Path       string        `json:"path"`
	TreeDigest digest.Digest `json:"tree_digest"`
}

// ActionResult is the recorded outcome of executing an Action.
type ActionResult struct {
	OutputFiles       []OutputFile      `json:"output_files,omitempty"`
	OutputDirectories []OutputDirectory `json:"output_directories,omitempty"`
	ExitCode          int32             `json:"exit_code"`
	Stdout            Payload           `json:"stdout"`
	Stderr            Payload           `json:"stderr"`
}
