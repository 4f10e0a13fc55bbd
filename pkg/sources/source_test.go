package sources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/backpack/pkg/schema"
	"github.com/illmade-knight/backpack/pkg/types"
)

func testDescriptor() *schema.Descriptor {
	return &schema.Descriptor{
		Namespace: "lsst.backpack",
		Name:      "testSchema",
		Fields:    []schema.Field{{Name: "id", Type: schema.String, Doc: "event id"}},
	}
}

func TestSourceConfig_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     SourceConfig
		wantErr string
	}{
		{name: "valid", cfg: SourceConfig{Topic: "test", Schema: testDescriptor(), UsesKeyStore: true, IDField: "id"}},
		{name: "valid without key store", cfg: SourceConfig{Topic: "test", Schema: testDescriptor()}},
		{name: "missing topic", cfg: SourceConfig{Schema: testDescriptor()}, wantErr: "topic name is required"},
		{name: "missing schema", cfg: SourceConfig{Topic: "test"}, wantErr: "schema descriptor is required"},
		{name: "missing id field", cfg: SourceConfig{Topic: "test", Schema: testDescriptor(), UsesKeyStore: true}, wantErr: "id field is required"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestBase_DedupKey(t *testing.T) {
	withStore, err := NewBase(SourceConfig{Topic: "quake", Schema: testDescriptor(), UsesKeyStore: true, IDField: "id"})
	require.NoError(t, err)
	withoutStore, err := NewBase(SourceConfig{Topic: "quake", Schema: testDescriptor(), IDField: "id"})
	require.NoError(t, err)

	assert.Equal(t, types.NewDedupKey("quake", "1"), withStore.DedupKey(types.Record{"id": "1"}))
	assert.Equal(t, types.NewDedupKey("quake", "42"), withStore.DedupKey(types.Record{"id": 42}))
	assert.True(t, withStore.DedupKey(types.Record{"other": "x"}).IsZero())
	assert.True(t, withStore.DedupKey(nil).IsZero())
	assert.True(t, withoutStore.DedupKey(types.Record{"id": "1"}).IsZero())
}

func TestBase_DedupKeyNumericIDs(t *testing.T) {
	b, err := NewBase(SourceConfig{Topic: "quake", Schema: testDescriptor(), UsesKeyStore: true, IDField: "id"})
	require.NoError(t, err)

	testCases := []struct {
		name string
		id   any
		want string
	}{
		{name: "large float from json", id: 1000000.0, want: "1000000"},
		{name: "very large float", id: 1.5e21, want: "1500000000000000000000"},
		{name: "fractional float", id: 12.25, want: "12.25"},
		{name: "float32", id: float32(2500000), want: "2500000"},
		{name: "int64", id: int64(1000000), want: "1000000"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, "quake:"+tc.want, b.DedupKey(types.Record{"id": tc.id}).String())
		})
	}

	// A JSON-decoded id and its integer form share one key.
	assert.Equal(t, b.DedupKey(types.Record{"id": 1000000}), b.DedupKey(types.Record{"id": 1000000.0}))
}

func TestBase_OwnsItsSchema(t *testing.T) {
	d := testDescriptor()
	b, err := NewBase(SourceConfig{Topic: "quake", Schema: d})
	require.NoError(t, err)

	d.Name = "mutated"
	d.Fields[0].Name = "mutated"
	assert.Equal(t, "testSchema", b.Schema().Name)

	inst, err := b.SchemaFor(nil)
	require.NoError(t, err)
	assert.Contains(t, inst, "id")
}

func TestNewFetchError(t *testing.T) {
	assert.NoError(t, NewFetchError("usgs", nil))

	cause := context.DeadlineExceeded
	err := NewFetchError("usgs", cause)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "usgs", fe.Source)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Already classified errors are not wrapped twice.
	assert.Same(t, err, NewFetchError("other", err))
}
