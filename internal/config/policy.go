package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CallPolicy is the optional YAML file that tunes how calls end.
//
//	end_call_keywords:
//	  - have a great day
//	  - speak to a human
//	idle_nudge: Are you still there?
//	idle_closing: Thank you for your time. Have a great day.
//	hangup_grace: 3s
type CallPolicy struct {
	EndCallKeywords []string `yaml:"end_call_keywords"`
	IdleNudge       string   `yaml:"idle_nudge"`
	IdleClosing     string   `yaml:"idle_closing"`
	HangupGrace     Duration `yaml:"hangup_grace"`
}

// Duration reads Go duration strings such as "3s" from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// LoadPolicy reads a call policy file. An empty path returns the zero
// policy, which callers fill with built-in defaults.
func LoadPolicy(path string) (CallPolicy, error) {
	if path == "" {
		return CallPolicy{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return CallPolicy{}, fmt.Errorf("read call policy: %w", err)
	}
	var p CallPolicy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return CallPolicy{}, fmt.Errorf("parse call policy %s: %w", path, err)
	}
	if p.HangupGrace < 0 {
		return CallPolicy{}, errors.New("call policy: hangup_grace must not be negative")
	}
	return p, nil
}
