package client

import (
	"fmt"
	"os"

	goyaml "github.com/goccy/go-yaml"
)

// experimentFile is the on-disk shape of an experiment metadata file: the
// experiment record plus an optional session template.
type experimentFile struct {
	Experiment ExperimentMeta `yaml:"experiment"`
	Session    SessionMeta    `yaml:"session"`
}

// LoadExperimentMeta reads experiment and session metadata from a YAML
// file, the hand-edited companion to an experiment script. The session
// part may be absent; its zero value registers fine.
func LoadExperimentMeta(path string) (ExperimentMeta, SessionMeta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ExperimentMeta{}, SessionMeta{}, fmt.Errorf("failed to read experiment file: %w", err)
	}
	var f experimentFile
	if err := goyaml.Unmarshal(raw, &f); err != nil {
		return ExperimentMeta{}, SessionMeta{}, fmt.Errorf("failed to parse experiment file %s: %w", path, err)
	}
	if f.Experiment.Code == "" {
		return ExperimentMeta{}, SessionMeta{}, fmt.Errorf("experiment file %s has no experiment code", path)
	}
	return f.Experiment, f.Session, nil
}

// RegisterFromFile loads an experiment metadata file and registers both
// records, wiring the session to the experiment id it was assigned.
func (c *Connection) RegisterFromFile(path string) (uint32, SessionInfo, error) {
	exp, ses, err := LoadExperimentMeta(path)
	if err != nil {
		return 0, SessionInfo{}, err
	}
	expID, err := c.RegisterExperiment(exp)
	if err != nil {
		return 0, SessionInfo{}, err
	}
	if ses.Code == "" {
		ses.Code = exp.Code
	}
	ses.ExperimentID = expID
	info, err := c.RegisterSession(ses)
	if err != nil {
		return 0, SessionInfo{}, err
	}
	return expID, info, nil
}
