package registry

import (
	"testing"
	"time"

	pipelineErrors "github.com/maxkimambo/bqflow/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register(t *testing.T) {
	r := New()

	task, err := r.Register("load_csv_to_bq", KindBulkLoad, map[string]string{"bucket": "b"}, 1,
		WithTimeout(time.Minute), WithDescription("Load CSV"))
	require.NoError(t, err)

	assert.Equal(t, "load_csv_to_bq", task.Name)
	assert.Equal(t, KindBulkLoad, task.Kind)
	assert.Equal(t, 1, task.Retries)
	assert.Equal(t, time.Minute, task.Timeout)
	assert.Equal(t, "Load CSV", task.Description)
	assert.Equal(t, "b", task.Param("bucket"))
	assert.Equal(t, "", task.Param("missing"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterCopiesParams(t *testing.T) {
	r := New()
	params := map[string]string{"statement": "SELECT 1"}

	task, err := r.Register("q", KindExecuteStatement, params, 0)
	require.NoError(t, err)

	params["statement"] = "DROP TABLE x"
	assert.Equal(t, "SELECT 1", task.Param("statement"))
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := New()
	_, err := r.Register("transform_a", KindExecuteStatement, nil, 0)
	require.NoError(t, err)

	_, err = r.Register("transform_a", KindExecuteStatement, nil, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipelineErrors.ErrDuplicateName)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	tests := []struct {
		name     string
		taskName string
		kind     Kind
		retries  int
	}{
		{"empty name", "", KindSense, 0},
		{"unknown kind", "x", Kind("teleport"), 0},
		{"negative retries", "x", KindSense, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			_, err := r.Register(tt.taskName, tt.kind, nil, tt.retries)
			require.Error(t, err)
			assert.ErrorIs(t, err, pipelineErrors.ErrInvalidConfig)
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := New()
	_, err := r.Register("check_file_exists", KindSense, nil, 0)
	require.NoError(t, err)

	task, err := r.Lookup("check_file_exists")
	require.NoError(t, err)
	assert.Equal(t, KindSense, task.Kind)

	_, err = r.Lookup("nope")
	assert.ErrorIs(t, err, pipelineErrors.ErrNotFound)
	assert.True(t, r.Has("check_file_exists"))
	assert.False(t, r.Has("nope"))
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := New()
	for _, name := range []string{"view_b", "load", "transform_a"} {
		_, err := r.Register(name, KindExecuteStatement, nil, 0)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"load", "transform_a", "view_b"}, r.Names())
}
