package orchestrator

import (
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestDistribute_SkipsUnreadableFiles(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "7", "config.yml", "population.yml")

	refs := h.o.distribute(context.Background(), "7", []string{"config.yml", "population.yml", "bad.yml"})

	assert.Equal(t, []string{"7--config.yml", "7--population.yml"}, refs)
	assert.Equal(t, []string{"7--config.yml", "7--population.yml"}, h.b.ConfigNames())
	assert.Equal(t, 1, h.logs.count("unable to read config file", "bad.yml"))

	data, ok := h.b.ConfigData("7--population.yml")
	assert.True(t, ok)
	assert.Equal(t, "file: population.yml", string(data))
}

func TestDistribute_SkipsRejectedConfigs(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "7", "config.yml", "population.yml")
	h.b.FailConfig["7--config.yml"] = errors.New("config size exceeds 500KB")

	refs := h.o.distribute(context.Background(), "7", []string{"config.yml", "population.yml"})

	assert.Equal(t, []string{"7--population.yml"}, refs)
	assert.Equal(t, 1, h.logs.count("unable to register config", "7--config.yml"))
}

func TestDistribute_Labels(t *testing.T) {
	h := newHarness(t)
	h.upload(t, "7", "config.yml")

	h.o.distribute(context.Background(), "7", []string{"config.yml"})

	configs, err := h.b.ListConfigs(context.Background(), backendFilter("7"))
	assert.NoError(t, err)
	assert.Len(t, configs, 1)
}
