package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserAgentCarriesVersion(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "1.2.3"
	assert.Equal(t, "fxvol/1.2.3", UserAgent())
	assert.Contains(t, String(), "fxvol 1.2.3\n")
}
