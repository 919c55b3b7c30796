package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRecordCompatible(t *testing.T) {
	tests := []struct {
		format string
		want   bool
	}{
		{"", true},
		{"1.0.0", true},
		{"v1.4.2", true},
		{"2.0.0", false},
		{"0.9.0", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRecordCompatible(tt.format))
		})
	}
}

func TestGetCurrentVersion(t *testing.T) {
	oldVersion, oldDev := Version, DevVersion
	t.Cleanup(func() { Version, DevVersion = oldVersion, oldDev })

	Version, DevVersion = "1.2.0", "1.3.0-dev"
	assert.Equal(t, "1.2.0", GetCurrentVersion("prod"))
	assert.Equal(t, "1.3.0-dev", GetCurrentVersion("dev"))
	assert.Equal(t, "1.3.0-dev", GetCurrentVersion("demo"))
}
