package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/installer"
)

func TestInstaller(t *testing.T) {
	ctx := context.Background()
	inst := New(installer.KindKernel)
	inst.Failures["bad"] = "missing semicolon"

	require.NoError(t, inst.BuildAndInstall(ctx, "good", "/tmp/w"))
	err := inst.BuildAndInstall(ctx, "bad", "/tmp/w")
	assert.True(t, model.IsBuildFailure(err))
	require.NoError(t, inst.SwitchBootMode(ctx, model.ModeTest))
	require.NoError(t, inst.Reboot(ctx))

	assert.Equal(t, []string{"good", "bad"}, inst.Builds)
	assert.Equal(t, model.ModeTest, inst.BootMode)
	assert.Equal(t, 1, inst.Reboots)

	inst.Err = errors.New("grub missing")
	assert.Error(t, inst.Reboot(ctx))
}

func TestModules(t *testing.T) {
	ctx := context.Background()
	modules := NewModules()
	require.NoError(t, modules.Load(ctx, "/work/hw1.ko", "major=250"))
	assert.True(t, modules.IsLoaded("hw1"))
	require.NoError(t, modules.MakeNode(ctx, "/dev/hw1", 250, 0))
	assert.Error(t, modules.MakeNode(ctx, "/dev/hw1", 250, 0))
	require.NoError(t, modules.RemoveNode(ctx, "/dev/hw1"))
	require.NoError(t, modules.Unload(ctx, "hw1"))
	assert.Error(t, modules.Unload(ctx, "hw1"))
}
