package orchestrator

import (
	"context"
	"github.com/pgacloud/manager/internal/naming"
	"time"
)

// Category is a stage's place in the deployment order.
type Category string

const (
	CategorySupport  Category = "support"
	CategorySetup    Category = "setup"
	CategoryOperator Category = "operator"
)

// ProbeKind selects how readiness of a stage is observed.
type ProbeKind string

const (
	// ProbeTasks waits for one running task on the platform.
	ProbeTasks ProbeKind = "tasks"
	// ProbeHTTP waits for the stage's /status endpoint to answer OK.
	ProbeHTTP ProbeKind = "http"
)

// StageSpec is one service to deploy.
type StageSpec struct {
	Role     string
	Image    string
	Replicas uint64
	Category Category
	// Probe defaults to http for the runner and to tasks for every other
	// stage.
	Probe ProbeKind
}

// Keys read from the population and properties sections.
const (
	KeyUseInitialPopulation = "use_initial_population"
	KeyUseInit              = "USE_INIT"
)

// Setup is a deployment request.
type Setup struct {
	// ID is used instead of a generated id when set.
	ID        naming.ClusterID
	Model     string
	Supports  []StageSpec
	Setups    []StageSpec
	Operators []StageSpec
	// Population and Properties are sent to the runner as they are.
	Population map[string]interface{}
	Properties map[string]interface{}
	// Files are the uploaded file names to distribute as configs.
	Files []string
}

// UseInitialPopulation reports whether the population section provides the
// first generation.
func (s Setup) UseInitialPopulation() bool {
	return flag(s.Population, KeyUseInitialPopulation)
}

// UseInit reports whether the properties force the initializer.
func (s Setup) UseInit() bool {
	return flag(s.Properties, KeyUseInit)
}

func flag(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// Runner is the client side of a cluster's runner contract.
type Runner interface {
	Start(ctx context.Context) (int, error)
	Stop(ctx context.Context) (int, error)
	DistributeProperties(ctx context.Context, properties interface{}) (int, error)
	InitializePopulation(ctx context.Context, population interface{}) (int, error)
}

// RunnerDialer returns the runner of a cluster.
type RunnerDialer func(id naming.ClusterID) Runner

// Cluster is the in-memory record of a run.
type Cluster struct {
	ID                naming.ClusterID `json:"id"`
	State             State            `json:"state"`
	Model             string           `json:"model,omitempty"`
	DeployInitializer bool             `json:"deploy_initializer"`
	Services          []string         `json:"services,omitempty"`
	Configs           []string         `json:"configs,omitempty"`
	// Failed is set when the deployment aborted midway.
	Failed    bool      `json:"failed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ServiceStatus is the live view of one deployed service.
type ServiceStatus struct {
	Name     string `json:"name"`
	Image    string `json:"image"`
	Replicas uint64 `json:"replicas"`
	Running  int    `json:"running"`
}

// ClusterStatus is a cluster record with its live services.
type ClusterStatus struct {
	Cluster
	Live []ServiceStatus `json:"live"`
}
