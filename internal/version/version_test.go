package version

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/caplet-dev/caplet/internal/isolation"
	"github.com/caplet-dev/caplet/internal/workflow"
)

func Test_Get_CarriesWireVersions(t *testing.T) {
	info := Get()
	assert.Equal(t, isolation.ABIVersion, info.SandboxABI)
	assert.Equal(t, workflow.CheckpointSchemaVersion, info.CheckpointSchema)
}

func Test_Info_Full(t *testing.T) {
	info := Info{Version: "1.2.3", Commit: "abc", BuildDate: "today", GoVersion: "go1.25", Platform: "linux/amd64", SandboxABI: 1, CheckpointSchema: 1}
	assert.Equal(t, "1.2.3 (abc) built today go1.25 linux/amd64 abi/1 checkpoint/1", info.Full())
}
