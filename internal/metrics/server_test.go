package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAsync_ServesVars(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := StartAsync(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	Fills.Add(1)
	resp, err := http.Get("http://" + addr.String() + "/debug/vars")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var vars map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&vars))
	assert.Contains(t, vars, "trade_fills")
	assert.Contains(t, vars, "book_emits")
}
