// Package descriptor reads the config.yml a cluster is deployed from.
//
//	model: Master-Slave
//	services:
//	  message_broker: {name: rabbitmq, image: rabbitmq:3-management}
//	setups:
//	  runner: {image: pgacloud/runner, scaling: 1}
//	  initializer: {image: pgacloud/initializer, scaling: 2}
//	operators:
//	  selection: {image: pgacloud/selection, scaling: 3}
//	  ...
//	population:
//	  use_initial_population: false
//	properties:
//	  USE_INIT: false
package descriptor

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"github.com/pgacloud/manager/internal/orchestrator"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"gopkg.in/yaml.v3"
	"io"
	"sort"
	"strings"
)

// FileName is the name the descriptor is uploaded under.
const FileName = "config.yml"

// Stage is one service entry. Name defaults to the entry's key.
type Stage struct {
	Name    string `yaml:"name" validate:"required,hostname_rfc1123,excludes=--"`
	Image   string `yaml:"image" validate:"required"`
	Scaling uint64 `yaml:"scaling"`
	Probe   string `yaml:"probe" validate:"omitempty,oneof=http tasks"`
}

type Descriptor struct {
	Model      string                 `yaml:"model"`
	Services   map[string]Stage       `yaml:"services" validate:"dive"`
	Setups     map[string]Stage       `yaml:"setups" validate:"required,dive"`
	Operators  map[string]Stage       `yaml:"operators" validate:"required,dive"`
	Population map[string]interface{} `yaml:"population"`
	Properties map[string]interface{} `yaml:"properties"`
}

var validate = validator.New()

// Parse decodes and validates a descriptor. Unknown keys are rejected.
func Parse(data []byte) (*Descriptor, error) {
	const op = "parse descriptor"

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		if err == io.EOF {
			return nil, perrors.E(op, perrors.ErrInvalidDescriptor, "empty document")
		}
		return nil, perrors.E(op, perrors.ErrInvalidDescriptor, "%v", err)
	}
	d.defaultNames()

	if err := validate.Struct(&d); err != nil {
		return nil, perrors.E(op, perrors.ErrInvalidDescriptor, "%s", describe(err))
	}
	for _, c := range []struct {
		section string
		values  map[string]interface{}
		key     string
	}{
		{"population", d.Population, orchestrator.KeyUseInitialPopulation},
		{"properties", d.Properties, orchestrator.KeyUseInit},
	} {
		if v, ok := c.values[c.key]; ok {
			if _, isBool := v.(bool); !isBool {
				return nil, perrors.E(op, perrors.ErrInvalidDescriptor, "%s.%s must be a boolean, got %v", c.section, c.key, v)
			}
		}
	}
	return &d, nil
}

func (d *Descriptor) defaultNames() {
	for _, m := range []map[string]Stage{d.Services, d.Setups, d.Operators} {
		for key, s := range m {
			if s.Name == "" {
				s.Name = key
				m[key] = s
			}
		}
	}
}

// Setup converts the descriptor into a deployment request for the uploaded
// files.
func (d *Descriptor) Setup(files []string) orchestrator.Setup {
	return orchestrator.Setup{
		Model:      d.Model,
		Supports:   stages(d.Services, orchestrator.CategorySupport),
		Setups:     stages(d.Setups, orchestrator.CategorySetup),
		Operators:  stages(d.Operators, orchestrator.CategoryOperator),
		Population: d.Population,
		Properties: d.Properties,
		Files:      files,
	}
}

func stages(m map[string]Stage, category orchestrator.Category) []orchestrator.StageSpec {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]orchestrator.StageSpec, 0, len(m))
	for _, k := range keys {
		s := m[k]
		out = append(out, orchestrator.StageSpec{
			Role:     s.Name,
			Image:    s.Image,
			Replicas: s.Scaling,
			Category: category,
			Probe:    orchestrator.ProbeKind(s.Probe),
		})
	}
	return out
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Descriptor.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Tag()))
	}
	return strings.Join(msgs, ", ")
}
