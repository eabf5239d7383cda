// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tasks tracks agent jobs and their subtasks.
//
// A Task moves Queued -> Running -> Complete/Failed/Canceled; a queued task
// may also be canceled directly. Terminal states are final.
//
// # Key Types
//
//   - Task: one job or subtask with status, output and timing
//   - Queue: thread-safe task list with bounded history and notifications
//   - Runner: executes queued jobs in the background with a concurrency
//     limit and a per-job timeout
//
// # Usage
//
// Queue a job and let a runner execute it:
//
//	queue := tasks.NewQueue(100)
//	runner := tasks.NewRunnerWithOptions(queue, tasks.RunnerOptions{MaxConcurrent: 5})
//	runner.Start()
//	defer runner.Stop()
//
//	job := tasks.NewTask("Plan a release", func(ctx context.Context, t *tasks.Task) (string, error) {
//	    return orchestrator.RunJob(ctx, t)
//	})
//	queue.Add(job)
//
// Watch progress:
//
//	for n := range queue.Notifications() {
//	    fmt.Printf("%s %s\n", n.Description, n.Status)
//	}
package tasks
