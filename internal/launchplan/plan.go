// Package launchplan builds the declarative cluster specification for a
// one-shot analysis run. Builders are pure: they never call out.
package launchplan

// FleetRole is the role of an instance fleet within the cluster.
type FleetRole string

const (
	FleetRolePrimary FleetRole = "MASTER"
	FleetRoleWorker  FleetRole = "CORE"
)

// Plan is everything needed to launch a cluster, minus the steps it runs.
type Plan struct {
	Name           string
	ReleaseLabel   string
	LogURI         string
	Fleets         []InstanceFleet
	Applications   []string
	Configurations []Configuration
	Network        Network
	JobFlowRole    string
	ServiceRole    string
	Tags           []Tag

	KeepAliveWhenNoSteps bool
	TerminationProtected bool
	VisibleToAllUsers    bool
}

// InstanceFleet is a homogeneous-role group of nodes. Exactly one of
// OnDemandCapacity and SpotCapacity is non-zero.
type InstanceFleet struct {
	Name             string
	Role             FleetRole
	OnDemandCapacity int
	SpotCapacity     int
	InstanceTypes    []InstanceTypeConfig
}

// InstanceTypeConfig is one acceptable instance type for a fleet.
type InstanceTypeConfig struct {
	InstanceType string
	Volume       Volume
	EBSOptimized bool
}

// Volume is a block-storage volume attached to each node.
type Volume struct {
	Type        string
	SizeGB      int
	PerInstance int
}

// Configuration is a classification of runtime tuning properties.
type Configuration struct {
	Classification string
	Properties     map[string]string
}

// Network places the cluster.
type Network struct {
	KeyName   string
	SubnetIDs []string
}

type Tag struct {
	Key   string
	Value string
}

// Step is a single processing step run by the cluster.
type Step struct {
	Name            string
	ActionOnFailure string
	Jar             string
	Args            []string
}

// Property returns the value of key in the named classification.
func (p Plan) Property(classification, key string) (string, bool) {
	for _, c := range p.Configurations {
		if c.Classification == classification {
			v, ok := c.Properties[key]
			return v, ok
		}
	}
	return "", false
}

// WorkerCount returns the spot capacity requested by the worker fleet.
func (p Plan) WorkerCount() int {
	for _, f := range p.Fleets {
		if f.Role == FleetRoleWorker {
			return f.SpotCapacity
		}
	}
	return 0
}
