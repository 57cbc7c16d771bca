package metrics

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brocaar/chirpstack-lorawan-device/internal/test"
)

func TestHandler(t *testing.T) {
	assert := require.New(t)

	server := httptest.NewServer(Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	b, err := ioutil.ReadAll(resp.Body)
	assert.NoError(err)
	assert.Contains(string(b), "go_goroutines")
}

func TestSetupDisabled(t *testing.T) {
	assert := require.New(t)

	conf := test.GetConfig()
	conf.Metrics.Prometheus.EndpointEnabled = false
	assert.NoError(Setup(conf))
}
