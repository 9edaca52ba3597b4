package descriptor

import (
	"errors"
	"github.com/google/go-cmp/cmp"
	"github.com/pgacloud/manager/internal/orchestrator"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"testing"
)

const masterSlave = `
model: Master-Slave
services:
  message_broker:
    name: rabbitmq
    image: rabbitmq:3-management
  redis:
    image: redis:7
    probe: tasks
setups:
  runner:
    image: pgacloud/runner
    scaling: 1
  initializer:
    image: pgacloud/initializer
    scaling: 2
operators:
  selection:
    image: pgacloud/selection
    scaling: 3
  crossover:
    image: pgacloud/crossover
  mutation:
    image: pgacloud/mutation
  fitness:
    image: pgacloud/fitness
    scaling: 4
population:
  use_initial_population: true
  size: 100
properties:
  USE_INIT: false
  MAX_GENERATIONS: 50
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(masterSlave))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	s := d.Setup([]string{"config.yml", "population.yml"})

	want := orchestrator.Setup{
		Model: "Master-Slave",
		Supports: []orchestrator.StageSpec{
			{Role: "rabbitmq", Image: "rabbitmq:3-management", Category: orchestrator.CategorySupport},
			{Role: "redis", Image: "redis:7", Category: orchestrator.CategorySupport, Probe: orchestrator.ProbeTasks},
		},
		Setups: []orchestrator.StageSpec{
			{Role: "initializer", Image: "pgacloud/initializer", Replicas: 2, Category: orchestrator.CategorySetup},
			{Role: "runner", Image: "pgacloud/runner", Replicas: 1, Category: orchestrator.CategorySetup},
		},
		Operators: []orchestrator.StageSpec{
			{Role: "crossover", Image: "pgacloud/crossover", Category: orchestrator.CategoryOperator},
			{Role: "fitness", Image: "pgacloud/fitness", Replicas: 4, Category: orchestrator.CategoryOperator},
			{Role: "mutation", Image: "pgacloud/mutation", Category: orchestrator.CategoryOperator},
			{Role: "selection", Image: "pgacloud/selection", Replicas: 3, Category: orchestrator.CategoryOperator},
		},
		Population: map[string]interface{}{"use_initial_population": true, "size": 100},
		Properties: map[string]interface{}{"USE_INIT": false, "MAX_GENERATIONS": 50},
		Files:      []string{"config.yml", "population.yml"},
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Errorf("Setup() (-want +got):\n%s", diff)
	}
	if !s.UseInitialPopulation() || s.UseInit() {
		t.Errorf("UseInitialPopulation() = %v, UseInit() = %v", s.UseInitialPopulation(), s.UseInit())
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "empty document",
			doc:  "",
		},
		{
			name: "not yaml",
			doc:  "model: [Master-Slave",
		},
		{
			name: "unknown key",
			doc:  "model: Master-Slave\nsetups: {runner: {image: r}}\noperators: {}\nrouting: {}\n",
		},
		{
			name: "unknown stage key",
			doc:  "setups: {runner: {image: r, replicas: 2}}\noperators: {}\n",
		},
		{
			name: "missing image",
			doc:  "setups: {runner: {scaling: 1}}\noperators: {}\n",
		},
		{
			name: "missing setups",
			doc:  "model: Master-Slave\noperators: {selection: {image: s}}\n",
		},
		{
			name: "separator in name",
			doc:  "setups: {runner: {image: r}}\noperators: {sel: {name: sel--x, image: s}}\n",
		},
		{
			name: "name is not a hostname",
			doc:  "setups: {runner: {image: r}}\noperators: {sel: {name: Sel_1, image: s}}\n",
		},
		{
			name: "unknown probe",
			doc:  "setups: {runner: {image: r, probe: tcp}}\noperators: {}\n",
		},
		{
			name: "negative scaling",
			doc:  "setups: {runner: {image: r, scaling: -1}}\noperators: {}\n",
		},
		{
			name: "use_initial_population is not a boolean",
			doc:  "setups: {runner: {image: r}}\noperators: {}\npopulation: {use_initial_population: \"yes\"}\n",
		},
		{
			name: "USE_INIT is not a boolean",
			doc:  "setups: {runner: {image: r}}\noperators: {}\nproperties: {USE_INIT: 1}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() error = nil")
			}
			if !errors.Is(err, perrors.ErrInvalidDescriptor) {
				t.Errorf("Parse() error = %v, want ErrInvalidDescriptor", err)
			}
			if perrors.KindOf(err) != perrors.KindInvalid {
				t.Errorf("KindOf() = %v, want invalid", perrors.KindOf(err))
			}
		})
	}
}

func TestParse_EmptyModelIsLeftToTheOrchestrator(t *testing.T) {
	d, err := Parse([]byte("setups: {runner: {image: r}}\noperators: {}\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if d.Setup(nil).Model != "" {
		t.Errorf("Model = %q", d.Model)
	}
}

func TestParse_ValidationMessage(t *testing.T) {
	_, err := Parse([]byte("setups: {runner: {scaling: 1}}\noperators: {}\n"))
	want := "parse descriptor: invalid cluster descriptor: Setups[runner].Image: required"
	if err == nil || err.Error() != want {
		t.Errorf("Parse() error = %v, want %q", err, want)
	}
}
