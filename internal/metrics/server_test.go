package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	CycleInc("ok")
	CheckpointSet(200)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "surveysync_checkpoint_block 200")
	require.Contains(t, string(body), `surveysync_cycles_total{status="ok"}`)
}

func TestDisabledServer(t *testing.T) {
	s := NewServer("", nil)
	s.Start()
	require.NoError(t, s.Stop(context.Background()))
}
