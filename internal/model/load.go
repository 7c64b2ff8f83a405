package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/viewmill/viewmill/internal/ids"
)

// File formats bind 1:1 onto the model types; Parse does no inference
// beyond defaulting a hop's document key to its field name.

type fileModel struct {
	Version fileVersion `yaml:"version"`
	Views   []fileView  `yaml:"views"`
}

type fileVersion struct {
	Epoch   string `yaml:"epoch"`
	Version string `yaml:"version"`
}

type fileView struct {
	Name  string     `yaml:"name"`
	Root  string     `yaml:"root"`
	Paths []filePath `yaml:"paths"`
}

type filePath struct {
	Refs []fileRef `yaml:"refs,omitempty"`
	Leaf fileLeaf  `yaml:"leaf"`
}

type fileRef struct {
	From  string `yaml:"from"`
	Field string `yaml:"field"`
	To    string `yaml:"to"`
	As    string `yaml:"as,omitempty"`
}

type fileLeaf struct {
	Class  string   `yaml:"class"`
	Fields []string `yaml:"fields"`
}

// Parse binds a YAML view-model document into a validated Views.
func Parse(data []byte) (*Views, error) {
	var fm fileModel
	if err := yaml.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("parse view model: %w", err)
	}

	defs := make([]ViewDef, 0, len(fm.Views))
	for _, fv := range fm.Views {
		def := ViewDef{Name: fv.Name, Root: fv.Root}
		for _, fp := range fv.Paths {
			path := PathDef{
				Leaf: Leaf{Class: fp.Leaf.Class, Fields: fp.Leaf.Fields},
			}
			for _, fr := range fp.Refs {
				path.Refs = append(path.Refs, Ref{
					From:   fr.From,
					Field:  fr.Field,
					To:     fr.To,
					DocKey: fr.As,
				})
			}
			def.Paths = append(def.Paths, path)
		}
		defs = append(defs, def)
	}

	version := ids.NewChainedVersion(fm.Version.Epoch, fm.Version.Version)
	return New(version, defs)
}

// LoadFile reads and parses a view-model file.
func LoadFile(path string) (*Views, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read view model: %w", err)
	}
	return Parse(data)
}
