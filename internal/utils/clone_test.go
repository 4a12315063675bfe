package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-listings-client/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestCloneMap_DeepCopiesNestedValues(t *testing.T) {
	src := map[string]any{
		"price": 125000,
		"tags":  []any{"retail", "franchise"},
		"location": map[string]any{
			"city": "Leeds",
		},
	}

	dst := utils.CloneMap(src)
	dst["tags"].([]any)[0] = "changed"
	dst["location"].(map[string]any)["city"] = "York"

	require.Equal(t, "retail", src["tags"].([]any)[0])
	require.Equal(t, "Leeds", src["location"].(map[string]any)["city"])
	require.Nil(t, utils.CloneMap(nil))
}

func TestMergeMap(t *testing.T) {
	dst := map[string]any{"price": 1, "title": "Cafe"}
	utils.MergeMap(dst, map[string]any{"price": 2})

	require.True(t, utils.EqualMaps(map[string]any{"price": 2, "title": "Cafe"}, dst))
}

func TestValueAndPtr(t *testing.T) {
	require.Equal(t, "", utils.Value[string](nil))
	require.Equal(t, "x", utils.Value(utils.Ptr("x")))
	require.Nil(t, utils.ClonePtr[string](nil))
}
