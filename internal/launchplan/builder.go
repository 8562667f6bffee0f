package launchplan

import (
	"maps"
	"slices"
	"strconv"
)

const (
	primaryFleetName = "geotrellis-master"
	workerFleetName  = "geotrellis-cores"

	volumeType   = "gp2"
	volumeSizeGB = 10

	// Partition and parallelism counts per worker, and executors per worker.
	// One unit is held back from each for headroom.
	partitionsPerWorker = 70
	executorsPerWorker  = 7

	gcJavaOptions = "-XX:+UseParallelGC -XX:+UseParallelOldGC -XX:OnOutOfMemoryError='kill -9 %p'"
)

var applications = []string{"Spark", "Zeppelin", "Ganglia"}

var defaultTags = []Tag{
	{Key: "Project", Value: "Global Forest Watch"},
	{Key: "Job", Value: "GeoTrellis Summary Statistics"},
}

// Config is the process-wide cluster configuration a Builder is built with.
type Config struct {
	ReleaseLabel        string
	ResultBucket        string
	PrimaryInstanceType string
	WorkerInstanceTypes []string
	KeyName             string
	SubnetIDs           []string
	JobFlowRole         string
	ServiceRole         string
}

// Meta carries per-job values that do not affect sizing.
type Meta struct {
	Tags map[string]string
}

// Builder constructs Plans from a fixed Config.
type Builder struct {
	cfg Config
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build returns the plan for a cluster with workerCount spot workers.
// Identical inputs always yield identical plans.
func (b *Builder) Build(workerCount int, jobName string, meta Meta) Plan {
	return Plan{
		Name:           jobName,
		ReleaseLabel:   b.cfg.ReleaseLabel,
		LogURI:         "s3://" + b.cfg.ResultBucket + "/geotrellis/logs",
		Fleets:         b.fleets(workerCount),
		Applications:   slices.Clone(applications),
		Configurations: configurations(workerCount),
		Network: Network{
			KeyName:   b.cfg.KeyName,
			SubnetIDs: slices.Clone(b.cfg.SubnetIDs),
		},
		JobFlowRole:       b.cfg.JobFlowRole,
		ServiceRole:       b.cfg.ServiceRole,
		Tags:              tags(meta),
		VisibleToAllUsers: true,
	}
}

func (b *Builder) fleets(workerCount int) []InstanceFleet {
	workerTypes := make([]InstanceTypeConfig, 0, len(b.cfg.WorkerInstanceTypes))
	for _, t := range b.cfg.WorkerInstanceTypes {
		workerTypes = append(workerTypes, instanceType(t))
	}

	return []InstanceFleet{
		{
			Name:             primaryFleetName,
			Role:             FleetRolePrimary,
			OnDemandCapacity: 1,
			InstanceTypes:    []InstanceTypeConfig{instanceType(b.cfg.PrimaryInstanceType)},
		},
		{
			Name:          workerFleetName,
			Role:          FleetRoleWorker,
			SpotCapacity:  workerCount,
			InstanceTypes: workerTypes,
		},
	}
}

func instanceType(name string) InstanceTypeConfig {
	return InstanceTypeConfig{
		InstanceType: name,
		Volume:       Volume{Type: volumeType, SizeGB: volumeSizeGB, PerInstance: 1},
		EBSOptimized: true,
	}
}

func configurations(workerCount int) []Configuration {
	partitions := strconv.Itoa(partitionsPerWorker*workerCount - 1)
	executors := strconv.Itoa(executorsPerWorker*workerCount - 1)

	return []Configuration{
		{
			Classification: "spark",
			Properties:     map[string]string{"maximizeResourceAllocation": "true"},
		},
		{
			Classification: "spark-defaults",
			Properties: map[string]string{
				"spark.executor.memory":              "6G",
				"spark.driver.memory":                "6G",
				"spark.driver.cores":                 "1",
				"spark.driver.maxResultSize":         "3G",
				"spark.rdd.compress":                 "true",
				"spark.executor.cores":               "1",
				"spark.sql.shuffle.partitions":       partitions,
				"spark.shuffle.spill.compress":       "true",
				"spark.shuffle.compress":             "true",
				"spark.default.parallelism":          partitions,
				"spark.shuffle.service.enabled":      "true",
				"spark.executor.extraJavaOptions":    gcJavaOptions,
				"spark.executor.instances":           executors,
				"spark.yarn.executor.memoryOverhead": "1G",
				"spark.dynamicAllocation.enabled":    "false",
				"spark.driver.extraJavaOptions":      gcJavaOptions,
			},
		},
		{
			Classification: "yarn-site",
			Properties: map[string]string{
				"yarn.nodemanager.pmem-check-enabled":  "false",
				"yarn.resourcemanager.am.max-attempts": "1",
				"yarn.nodemanager.vmem-check-enabled":  "false",
			},
		},
	}
}

// tags returns the default tags followed by meta tags in key order.
// A meta tag overrides a default tag with the same key.
func tags(meta Meta) []Tag {
	out := make([]Tag, 0, len(defaultTags)+len(meta.Tags))
	for _, t := range defaultTags {
		if v, ok := meta.Tags[t.Key]; ok {
			t.Value = v
		}
		out = append(out, t)
	}
	for _, k := range slices.Sorted(maps.Keys(meta.Tags)) {
		if slices.ContainsFunc(defaultTags, func(t Tag) bool { return t.Key == k }) {
			continue
		}
		out = append(out, Tag{Key: k, Value: meta.Tags[k]})
	}
	return out
}
