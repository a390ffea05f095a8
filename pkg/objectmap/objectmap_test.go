package objectmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wujihand/wujihandgo/pkg/storage"
)

func writeMapFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "objects.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadExpandsJointScopedObjectToTwentyEntries(t *testing.T) {
	path := writeMapFile(t, `
[actual_position]
index = 0x01
sub_index = 0
width = 4
policy = position
`)
	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 20)

	for _, e := range entries {
		assert.Equal(t, "actual_position", e.Name)
		assert.EqualValues(t, storage.Size4, e.Descriptor.Size)
		want := storage.PolicyPosition
		if e.Finger != 0 && e.Joint == 0 {
			want |= storage.PolicyPositionReversed
		}
		assert.Equal(t, want, e.Descriptor.Policy)
	}

	var found bool
	for _, e := range entries {
		if e.Finger == 2 && e.Joint == 1 {
			assert.EqualValues(t, 0x2000+2*0x0800+1*0x0100+0x01, e.Descriptor.Index)
			found = true
		}
	}
	assert.True(t, found)
}

func TestLoadHandScopedObjectProducesSingleEntryAtAbsoluteIndex(t *testing.T) {
	path := writeMapFile(t, `
[firmware_version]
index = 0x1000
sub_index = 0
width = 4
scope = hand
`)
	entries, err := Load(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, -1, entries[0].Finger)
	assert.Equal(t, -1, entries[0].Joint)
	assert.EqualValues(t, 0x1000, entries[0].Descriptor.Index)
}

func TestLoadCombinesMultiplePolicyBits(t *testing.T) {
	path := writeMapFile(t, `
[effort_limit]
index = 0x02
width = 4
policy = effort_limit, masked
`)
	entries, err := Load(path)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, storage.PolicyEffortLimit|storage.PolicyMasked, entries[0].Descriptor.Policy)
}

func TestRegisterAssignsSequentialStorageIdsAndLookupKeys(t *testing.T) {
	path := writeMapFile(t, `
[enabled]
index = 0x03
width = 1
`)
	entries, err := Load(path)
	require.NoError(t, err)

	table := storage.NewTable(len(entries))
	units, err := Register(table, entries)
	require.NoError(t, err)

	unit, ok := units[Key{Name: "enabled", Finger: 0, Joint: 0}]
	require.True(t, ok)
	assert.Equal(t, table.Get(0), unit)
}

func TestLoadRejectsUnknownPolicyName(t *testing.T) {
	path := writeMapFile(t, `
[bogus]
index = 0x04
width = 4
policy = not_a_real_policy
`)
	_, err := Load(path)
	assert.Error(t, err)
}
