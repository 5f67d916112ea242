// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package obstrace

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestJobMetrics_CountersIncrement(t *testing.T) {
	m := NewJobMetrics()

	before := testutil.ToFloat64(jobsSubmittedTotal)
	m.JobSubmitted()
	assert.Equal(t, before+1, testutil.ToFloat64(jobsSubmittedTotal))

	beforeCompleted := testutil.ToFloat64(jobsCompletedTotal)
	m.JobCompleted(5 * time.Second)
	assert.Equal(t, beforeCompleted+1, testutil.ToFloat64(jobsCompletedTotal))

	beforeFailed := testutil.ToFloat64(jobsFailedTotal)
	m.JobFailed(5 * time.Second)
	assert.Equal(t, beforeFailed+1, testutil.ToFloat64(jobsFailedTotal))

	beforeCancelled := testutil.ToFloat64(jobsCancelledTotal)
	m.JobCancelled()
	assert.Equal(t, beforeCancelled+1, testutil.ToFloat64(jobsCancelledTotal))

	beforeUploaded := testutil.ToFloat64(checkpointsUploadedTotal)
	m.CheckpointUploaded()
	assert.Equal(t, beforeUploaded+1, testutil.ToFloat64(checkpointsUploadedTotal))
}

func TestJobMetrics_Gauges(t *testing.T) {
	m := NewJobMetrics()

	m.SetQueueDepth(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(queueDepth))

	m.SetActiveRun(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(activeRun))

	m.SetActiveRun(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(activeRun))
}
