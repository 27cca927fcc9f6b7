// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
num_cores: 2
nics:
  - name: eth0
    if_index: 2
    ip: 10.0.0.1
`))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.NumCores)
	require.Equal(t, 10000, cfg.MaxConcurrency)
	require.EqualValues(t, 1460, cfg.MSS)
	require.EqualValues(t, 16, cfg.MaxNRTX)
	require.EqualValues(t, 7, cfg.MaxSynRetry)
	require.Len(t, cfg.NICs, 1)
	require.Equal(t, "eth0", cfg.NICs[0].Name)
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
num_cores: 1
max_concurrency: 500
time_wait_ms: 0
nics:
  - name: eth0
`))
	require.NoError(t, err)
	require.Equal(t, 500, cfg.MaxConcurrency)
	require.EqualValues(t, 0, cfg.TimeWaitTicks())
}

func TestParseRejectsMissingNICs(t *testing.T) {
	_, err := Parse([]byte(`num_cores: 1`))
	require.Error(t, err)
}

func TestParseRejectsNonPositiveNumCores(t *testing.T) {
	_, err := Parse([]byte(`
num_cores: 0
nics:
  - name: eth0
`))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/mtcp.yaml")
	require.Error(t, err)
}

func TestPoolCapacityPerCoreRoundsUp(t *testing.T) {
	cfg := defaults()
	cfg.NumCores = 3
	cfg.MaxConcurrency = 10
	require.Equal(t, 4, cfg.PoolCapacityPerCore())
}

func TestTimeWaitAndIdleTicksConversion(t *testing.T) {
	cfg := defaults()
	cfg.TimeWaitMS = 60000
	cfg.IdleTimeoutSec = 30
	require.EqualValues(t, 60000, cfg.TimeWaitTicks())
	require.EqualValues(t, 30000, cfg.IdleTimeoutTicks())
}
