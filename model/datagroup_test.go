package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataGroupMembership(t *testing.T) {
	group := NewDataGroup()
	group.SetTitle("scans")
	item := NewDataItem()

	group.AppendDataItem(item)
	assert.True(t, group.ContainsDataItem(item))
	assert.Equal(t, []string{item.UUID().String()}, group.dataItemUUIDs())

	group.RemoveDataItem(item)
	assert.False(t, group.ContainsDataItem(item))
	assert.Empty(t, group.dataItemUUIDs())
}

func TestDataGroupNesting(t *testing.T) {
	root := NewDataGroup()
	child := NewDataGroup()
	grandchild := NewDataGroup()
	child.AppendDataGroup(grandchild)
	root.AppendDataGroup(child)

	flat := root.FlatDataGroups()
	require.Len(t, flat, 3)
	assert.Same(t, root, flat[0])
}

func TestDataGroupConnectDataItems(t *testing.T) {
	item := NewDataItem()
	group := NewDataGroup()
	dict := func() map[string]any {
		g := NewDataGroup()
		g.AppendDataItem(item)
		return g.object.WriteToDict()
	}()
	group.object.ReadFromDict(dict)
	assert.Empty(t, group.DataItems())

	group.ConnectDataItems(func(id uuid.UUID) *DataItem {
		if id == item.UUID() {
			return item
		}
		return nil
	})
	require.Len(t, group.DataItems(), 1)
	assert.Same(t, item, group.DataItems()[0])

	group.DisconnectDataItems()
	assert.Empty(t, group.DataItems())
}

func TestWorkspaceLayoutProperties(t *testing.T) {
	workspace := NewWorkspaceLayout()
	workspace.SetName("acquisition")
	workspace.SetWorkspaceID("default")
	workspace.SetLayout(map[string]any{"type": "splitter"})
	assert.Equal(t, "acquisition", workspace.Name())
	assert.Equal(t, "default", workspace.WorkspaceID())
	assert.Equal(t, map[string]any{"type": "splitter"}, workspace.Layout())
}
