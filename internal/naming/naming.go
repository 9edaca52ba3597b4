// Package naming derives every resource name of a PGA cluster from its
// ClusterID. The names are the only registry there is: services, configs and
// networks are later found again by parsing or filtering on them.
package naming

import (
	"fmt"
	perrors "github.com/pgacloud/manager/pkg/errors"
	"strings"
)

const (
	// Separator joins a role or a file name with the cluster id.
	Separator = "--"

	// LabelKey is attached to every resource of every cluster.
	LabelKey = "PGAcloud"

	labelValuePrefix  = "PGA-"
	networkNamePrefix = "pga-overlay-"
	stageConfigSuffix = "-config.yml"
)

// Roles known to the pipeline.
const (
	RoleRunner      = "runner"
	RoleManager     = "manager"
	RoleInitializer = "initializer"
	RoleSelection   = "selection"
	RoleCrossover   = "crossover"
	RoleMutation    = "mutation"
	RoleFitness     = "fitness"
)

// ReservedRoles never have their replica count changed after creation.
var ReservedRoles = map[string]struct{}{
	RoleRunner:  {},
	RoleManager: {},
}

// ClusterID scopes one PGA run.
type ClusterID string

func (id ClusterID) String() string {
	return string(id)
}

// Validate rejects ids that would make generated names ambiguous.
func (id ClusterID) Validate() error {
	if id == "" {
		return perrors.E("validate cluster id", perrors.ErrInvalidClusterID, "empty")
	}
	if strings.Contains(string(id), Separator) {
		return perrors.E("validate cluster id", perrors.ErrInvalidClusterID, "%q contains %q", id, Separator)
	}
	if strings.ContainsAny(string(id), " /:") {
		return perrors.E("validate cluster id", perrors.ErrInvalidClusterID, "%q contains forbidden characters", id)
	}
	return nil
}

// ServiceName is {role}--{id}.
func ServiceName(role string, id ClusterID) string {
	return fmt.Sprintf("%s%s%s", role, Separator, id)
}

// ParseServiceName splits a service name into role and cluster id.
// ok is false when the name carries no cluster suffix.
func ParseServiceName(name string) (role string, id ClusterID, ok bool) {
	role, rest, found := strings.Cut(name, Separator)
	if !found {
		return name, "", false
	}
	return role, ClusterID(rest), true
}

// Role returns the effective role of a service name, the name itself when it
// has no cluster suffix.
func Role(name string) string {
	role, _, _ := ParseServiceName(name)
	return role
}

// IsReserved reports whether the service name resolves to a reserved role.
func IsReserved(name string) bool {
	_, ok := ReservedRoles[Role(name)]
	return ok
}

// NetworkName is the name of the isolated overlay network of a cluster.
func NetworkName(id ClusterID) string {
	return networkNamePrefix + string(id)
}

// ConfigName is the name of a distributed config file: {id}--{file}.
func ConfigName(id ClusterID, file string) string {
	return fmt.Sprintf("%s%s%s", id, Separator, file)
}

// StageConfigFile is the file name of the routing config a stage reads.
func StageConfigFile(role string) string {
	return role + stageConfigSuffix
}

// StageConfigName is the config name of a stage's routing config.
func StageConfigName(id ClusterID, role string) string {
	return ConfigName(id, StageConfigFile(role))
}

// ConfigFile returns the logical file name of a config name.
func ConfigFile(configName string) string {
	_, file, found := strings.Cut(configName, Separator)
	if !found {
		return configName
	}
	return file
}

// LabelValue is the value of LabelKey for a cluster.
func LabelValue(id ClusterID) string {
	return labelValuePrefix + string(id)
}

// Labels returns a fresh label set tying a resource to the cluster.
func Labels(id ClusterID) map[string]string {
	return map[string]string{LabelKey: LabelValue(id)}
}

// ParseLabelValue is the inverse of LabelValue.
func ParseLabelValue(v string) (ClusterID, bool) {
	if !strings.HasPrefix(v, labelValuePrefix) || len(v) == len(labelValuePrefix) {
		return "", false
	}
	return ClusterID(strings.TrimPrefix(v, labelValuePrefix)), true
}
