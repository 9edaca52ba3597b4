package orchestrator

import (
	"context"
	"github.com/pgacloud/manager/internal/backend"
	"github.com/pgacloud/manager/internal/naming"
)

// distribute registers every uploaded file as a config of the cluster. A
// file that cannot be read or registered is logged and skipped; the refs
// returned are the configs that exist.
func (o *Orchestrator) distribute(ctx context.Context, id naming.ClusterID, files []string) []string {
	log := o.log.WithValues("cluster", id)

	refs := make([]string, 0, len(files))
	for _, file := range files {
		name := naming.ConfigName(id, file)

		data, err := o.store.Read(id, file)
		if err != nil {
			log.Error(err, "unable to read config file, skipping", "file", file)
			continue
		}
		if _, err = o.backend.CreateConfig(ctx, backend.ConfigSpec{
			Name:   name,
			Data:   data,
			Labels: naming.Labels(id),
		}); err != nil {
			log.Error(err, "unable to register config, skipping", "config", name)
			continue
		}
		refs = append(refs, name)
	}
	log.Info("configs distributed", "requested", len(files), "registered", len(refs))
	return refs
}

// createStageConfig registers the routing config of a stage.
func (o *Orchestrator) createStageConfig(ctx context.Context, id naming.ClusterID, role string, data []byte) (string, error) {
	name := naming.StageConfigName(id, role)
	_, err := o.backend.CreateConfig(ctx, backend.ConfigSpec{
		Name:   name,
		Data:   data,
		Labels: naming.Labels(id),
	})
	return name, err
}

// mounts exposes configs as files named after their logical file name.
func mounts(refs []string) []backend.ConfigMount {
	out := make([]backend.ConfigMount, 0, len(refs))
	for _, ref := range refs {
		out = append(out, backend.ConfigMount{ConfigName: ref, File: "/" + naming.ConfigFile(ref)})
	}
	return out
}
