package syncerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	base := fmt.Errorf("disk gone")
	err := fmt.Errorf("append: %w", Storage("store.append", base))

	assert.True(t, IsStorage(err))
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "storage", Kind(err))
	assert.Contains(t, err.Error(), "store.append")
}

func TestKindClassification(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{Transient("insert", fmt.Errorf("timeout")), "transient"},
		{Rejected("insert", fmt.Errorf("422")), "rejected"},
		{Subscription("feed", nil), "subscription"},
		{fmt.Errorf("plain"), "unknown"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Kind(c.err))
	}
	assert.True(t, IsRemote(Rejected("update", nil)))
	assert.False(t, IsRemote(Storage("get", nil)))
}
