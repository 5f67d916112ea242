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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_jobs_submitted_total",
		Help: "Total job submissions that passed validation: started, queued, or rejected because a job was already running.",
	})
	jobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_jobs_completed_total",
		Help: "Total jobs that reached the completed terminal state.",
	})
	jobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_jobs_failed_total",
		Help: "Total jobs that reached the failed terminal state.",
	})
	jobsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_jobs_cancelled_total",
		Help: "Total queued jobs cancelled before they started.",
	})
	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_job_duration_seconds",
		Help:    "Job wall-clock duration from start to terminal state, by outcome.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 12),
	}, []string{"outcome"})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_queue_depth",
		Help: "Current number of jobs waiting in the FIFO admission queue.",
	})
	activeRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orchestrator_active_run",
		Help: "1 if a job currently holds the RunToken, 0 otherwise.",
	})
	checkpointsUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_checkpoints_uploaded_total",
		Help: "Total calls to JobMetrics.CheckpointUploaded. The job runner never calls it, so the daemon reports 0.",
	})
)

// JobMetrics implements jobrunner.Metrics by reporting to Prometheus
// counters/gauges registered on the default registry, exposed at GET
// /metrics by the Router's MetricsHandler.
type JobMetrics struct{}

// NewJobMetrics constructs a JobMetrics sink.
func NewJobMetrics() JobMetrics { return JobMetrics{} }

func (JobMetrics) JobSubmitted() { jobsSubmittedTotal.Inc() }

func (JobMetrics) JobCompleted(duration time.Duration) {
	jobsCompletedTotal.Inc()
	jobDurationSeconds.WithLabelValues("completed").Observe(duration.Seconds())
}

func (JobMetrics) JobFailed(duration time.Duration) {
	jobsFailedTotal.Inc()
	jobDurationSeconds.WithLabelValues("failed").Observe(duration.Seconds())
}

func (JobMetrics) JobCancelled() { jobsCancelledTotal.Inc() }

func (JobMetrics) SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

func (JobMetrics) SetActiveRun(active bool) {
	if active {
		activeRun.Set(1)
		return
	}
	activeRun.Set(0)
}

func (JobMetrics) CheckpointUploaded() { checkpointsUploadedTotal.Inc() }
