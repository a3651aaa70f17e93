// Package project reads and writes qudag.cue, the settings file of an
// application built on qudag.
package project

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"

	cuembed "github.com/chazu/qudag/cue"
)

// FileName is the settings file name in a project directory.
const FileName = "qudag.cue"

// Node configures the node started by dev and deploy.
type Node struct {
	Listen   string   `json:"listen"`
	Peers    []string `json:"peers"`
	Replicas int      `json:"replicas"`
}

// Training configures dev --train.
type Training struct {
	Model        string  `json:"model"`
	Rounds       int     `json:"rounds"`
	Participants int     `json:"participants"`
	LearningRate float64 `json:"learningRate"`
}

// Settings is a decoded qudag.cue.
type Settings struct {
	Name     string    `json:"name"`
	Node     Node      `json:"node"`
	Training *Training `json:"training,omitempty"`
}

func schema(ctx *cue.Context) (cue.Value, error) {
	src, err := cuembed.ProjectFS.ReadFile(cuembed.ProjectSchemaFile)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read project schema: %w", err)
	}
	v := ctx.CompileBytes(src, cue.Filename(cuembed.ProjectSchemaFile))
	if v.Err() != nil {
		return cue.Value{}, fmt.Errorf("failed to compile project schema: %w", v.Err())
	}
	return v.LookupPath(cue.ParsePath("#Project")), nil
}

// Load reads and validates the settings file at path.
func Load(path string) (*Settings, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	s, err := Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse validates CUE source against the project schema, applies defaults
// and decodes it.
func Parse(src []byte) (*Settings, error) {
	ctx := cuecontext.New()
	project, err := schema(ctx)
	if err != nil {
		return nil, err
	}

	data := ctx.CompileBytes(src, cue.Filename(FileName))
	if data.Err() != nil {
		return nil, fmt.Errorf("failed to compile settings: %w", data.Err())
	}

	value := project.Unify(data)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid settings: %s", errors.Details(err, nil))
	}

	var s Settings
	if err := value.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return &s, nil
}

// Default returns the settings a new project starts with.
func Default(name string) *Settings {
	return &Settings{
		Name: name,
		Node: Node{Listen: "0.0.0.0:8000", Peers: []string{}, Replicas: 1},
	}
}

// Render formats s as a qudag.cue file. The result is validated against the
// schema before it is returned.
func Render(s *Settings) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "name: %s\n", strconv.Quote(s.Name))
	fmt.Fprintf(&b, "node: {\nlisten: %s\nreplicas: %d\npeers: [%s]\n}\n",
		strconv.Quote(s.Node.Listen), s.Node.Replicas, quoteAll(s.Node.Peers))
	if t := s.Training; t != nil {
		fmt.Fprintf(&b, "training: {\nmodel: %s\nrounds: %d\nparticipants: %d\nlearningRate: %s\n}\n",
			strconv.Quote(t.Model), t.Rounds, t.Participants, strconv.FormatFloat(t.LearningRate, 'g', -1, 64))
	}

	out, err := format.Source(b.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to format settings: %w", err)
	}
	if _, err := Parse(out); err != nil {
		return nil, fmt.Errorf("rendered settings are invalid: %w", err)
	}
	return out, nil
}

func quoteAll(ss []string) string {
	quoted := make([]string, len(ss))
	for i, s := range ss {
		quoted[i] = strconv.Quote(s)
	}
	return strings.Join(quoted, ", ")
}
