package launchplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ReleaseLabel:        "emr-5.24.0",
		ResultBucket:        "gfw-pipelines",
		PrimaryInstanceType: "r5.2xlarge",
		WorkerInstanceTypes: []string{"r5.2xlarge", "r4.2xlarge"},
		KeyName:             "tmaschler_wri2",
		SubnetIDs:           []string{"subnet-1", "subnet-2"},
		JobFlowRole:         "EMR_EC2_DefaultRole",
		ServiceRole:         "EMR_DefaultRole",
	}
}

func TestBuild_TuningScalesWithWorkers(t *testing.T) {
	t.Parallel()
	plan := NewBuilder(testConfig()).Build(10, "gadm_glad_v20201201__1", Meta{})

	tests := []struct {
		key  string
		want string
	}{
		{"spark.sql.shuffle.partitions", "699"},
		{"spark.default.parallelism", "699"},
		{"spark.executor.instances", "69"},
		{"spark.executor.memory", "6G"},
		{"spark.driver.maxResultSize", "3G"},
		{"spark.yarn.executor.memoryOverhead", "1G"},
		{"spark.dynamicAllocation.enabled", "false"},
		{"spark.executor.extraJavaOptions", "-XX:+UseParallelGC -XX:+UseParallelOldGC -XX:OnOutOfMemoryError='kill -9 %p'"},
	}
	for _, tt := range tests {
		got, ok := plan.Property("spark-defaults", tt.key)
		require.True(t, ok, tt.key)
		assert.Equal(t, tt.want, got, tt.key)
	}

	v, ok := plan.Property("spark", "maximizeResourceAllocation")
	require.True(t, ok)
	assert.Equal(t, "true", v)

	v, ok = plan.Property("yarn-site", "yarn.resourcemanager.am.max-attempts")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestBuild_MinimumWorkers(t *testing.T) {
	t.Parallel()
	plan := NewBuilder(testConfig()).Build(5, "job", Meta{})

	partitions, _ := plan.Property("spark-defaults", "spark.sql.shuffle.partitions")
	executors, _ := plan.Property("spark-defaults", "spark.executor.instances")
	assert.Equal(t, "349", partitions)
	assert.Equal(t, "34", executors)
}

func TestBuild_Deterministic(t *testing.T) {
	t.Parallel()
	b := NewBuilder(testConfig())
	meta := Meta{Tags: map[string]string{"Owner": "data-team", "Env": "staging"}}

	first := b.Build(42, "job", meta)
	second := b.Build(42, "job", meta)
	assert.Equal(t, first, second)
}

func TestBuild_Fleets(t *testing.T) {
	t.Parallel()
	plan := NewBuilder(testConfig()).Build(12, "job", Meta{})

	require.Len(t, plan.Fleets, 2)

	primary := plan.Fleets[0]
	assert.Equal(t, FleetRolePrimary, primary.Role)
	assert.Equal(t, 1, primary.OnDemandCapacity)
	assert.Zero(t, primary.SpotCapacity)
	require.Len(t, primary.InstanceTypes, 1)
	assert.Equal(t, "r5.2xlarge", primary.InstanceTypes[0].InstanceType)

	workers := plan.Fleets[1]
	assert.Equal(t, FleetRoleWorker, workers.Role)
	assert.Equal(t, 12, workers.SpotCapacity)
	assert.Zero(t, workers.OnDemandCapacity)
	require.Len(t, workers.InstanceTypes, 2)
	assert.Equal(t, "r4.2xlarge", workers.InstanceTypes[1].InstanceType)
	assert.Equal(t, 12, plan.WorkerCount())

	for _, f := range plan.Fleets {
		for _, it := range f.InstanceTypes {
			assert.Equal(t, Volume{Type: "gp2", SizeGB: 10, PerInstance: 1}, it.Volume)
			assert.True(t, it.EBSOptimized)
		}
	}
}

func TestBuild_Cluster(t *testing.T) {
	t.Parallel()
	plan := NewBuilder(testConfig()).Build(5, "gadm_tcl_v1__abc", Meta{})

	assert.Equal(t, "gadm_tcl_v1__abc", plan.Name)
	assert.Equal(t, "emr-5.24.0", plan.ReleaseLabel)
	assert.Equal(t, "s3://gfw-pipelines/geotrellis/logs", plan.LogURI)
	assert.Equal(t, []string{"Spark", "Zeppelin", "Ganglia"}, plan.Applications)
	assert.Equal(t, []string{"subnet-1", "subnet-2"}, plan.Network.SubnetIDs)
	assert.False(t, plan.KeepAliveWhenNoSteps)
	assert.False(t, plan.TerminationProtected)
	assert.True(t, plan.VisibleToAllUsers)
}

func TestBuild_DoesNotAliasConfig(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	plan := NewBuilder(cfg).Build(5, "job", Meta{})

	plan.Network.SubnetIDs[0] = "mutated"
	plan.Applications[0] = "Hive"

	again := NewBuilder(cfg).Build(5, "job", Meta{})
	assert.Equal(t, "subnet-1", again.Network.SubnetIDs[0])
	assert.Equal(t, "Spark", again.Applications[0])
}

func TestTags(t *testing.T) {
	t.Parallel()
	got := tags(Meta{Tags: map[string]string{"Job": "Custom", "Env": "prod", "Analysis": "glad"}})

	assert.Equal(t, []Tag{
		{Key: "Project", Value: "Global Forest Watch"},
		{Key: "Job", Value: "Custom"},
		{Key: "Analysis", Value: "glad"},
		{Key: "Env", Value: "prod"},
	}, got)
}
